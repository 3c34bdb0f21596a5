// Command parcelflow ingests delivery events from a file, stdin or TCP
// connections and writes the accepted events to stdout as JSON lines.
//
// Usage:
//
//	parcelflow [-config file] [-input file | -listen addr] [flags]
//
// When the feed ends (or the listener is interrupted) the run summary is
// written to stdout as a final JSON line and the processing time to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randalmurphal/parcelflow/pkg/parcelflow/config"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/feed"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ingest"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ledger"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/observability"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/preference"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "parcelflow: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.LookupEnv)
	stop()

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "parcelflow: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	input      string
	dropsPath  string
	logFormat  string

	listen      string
	capacity    int
	dedup       string
	ledger      string
	preferences string
	sqlitePath  string
	redisAddr   string
	logLevel    string
}

func parseFlags(args []string, stderr io.Writer) (*flags, *flag.FlagSet, error) {
	f := &flags{}
	fs := flag.NewFlagSet("parcelflow", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "YAML or JSON config file")
	fs.StringVar(&f.input, "input", "", "feed file to read (default stdin)")
	fs.StringVar(&f.dropsPath, "drops", "", "append dropped records as JSON lines to this file")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&f.listen, "listen", "", "accept feeds on this TCP address instead of reading a file")
	fs.IntVar(&f.capacity, "capacity", -1, "maximum accepted events; negative is unbounded")
	fs.StringVar(&f.dedup, "dedup", "", "dedup mode: exact or package")
	fs.StringVar(&f.ledger, "ledger", "", "ledger backend: memory, sqlite or redis")
	fs.StringVar(&f.preferences, "preferences", "", "preference backend: memory or sqlite")
	fs.StringVar(&f.sqlitePath, "sqlite", "", "SQLite database path")
	fs.StringVar(&f.redisAddr, "redis", "", "Redis address for the redis ledger")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, fs, nil
}

// settings resolves file and environment configuration, then applies the
// flags that were set explicitly.
func (f *flags) settings(fs *flag.FlagSet, lookup func(string) (string, bool)) (config.Settings, error) {
	s, err := config.Load(f.configPath, lookup)
	if err != nil {
		return config.Settings{}, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			s.Listen = f.listen
		case "capacity":
			s.Capacity = f.capacity
		case "dedup":
			s.Dedup = f.dedup
		case "ledger":
			s.Ledger = config.Backend(f.ledger)
		case "preferences":
			s.Preferences = config.Backend(f.preferences)
		case "sqlite":
			s.SQLitePath = f.sqlitePath
		case "redis":
			s.RedisAddr = f.redisAddr
		case "log-level":
			s.LogLevel = f.logLevel
		}
	})

	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, lookup func(string) (string, bool)) error {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	s, err := f.settings(fs, lookup)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, f.logFormat, s.LogLevel)

	opts := []ingest.Option{
		ingest.WithCapacity(s.Capacity),
		ingest.WithEmitter(ingest.NewJSONLineEmitter(stdout)),
		ingest.WithLogger(logger),
	}
	if s.Metrics {
		opts = append(opts, ingest.WithMetrics(observability.NewMetricsRecorder()))
	}
	if s.Tracing {
		opts = append(opts, ingest.WithTracing(observability.NewSpanManager()))
	}

	storeOpts, err := openStores(ctx, s)
	if err != nil {
		return err
	}
	opts = append(opts, storeOpts...)

	if f.dropsPath != "" {
		dropFile, err := os.OpenFile(f.dropsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open drops file: %w", err)
		}
		defer dropFile.Close()
		opts = append(opts, ingest.WithDropSink(ingest.NewJSONLineDropSink(dropFile)))
	}

	engine := ingest.New(opts...)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("close stores", slog.String("error", err.Error()))
		}
	}()

	feedCfg := feed.Config{QueueSize: s.QueueSize}
	start := time.Now()

	summary, err := engine.Run(ctx, func(ctx context.Context) error {
		if s.Listen != "" {
			srv := &feed.Server{
				Processor:   engine,
				Config:      feedCfg,
				IdleTimeout: s.IdleTimeout,
				Logger:      logger,
			}
			logger.Info("listening for feeds", slog.String("addr", s.Listen))
			return srv.ListenAndServe(ctx, s.Listen)
		}

		src := stdin
		if f.input != "" {
			file, err := os.Open(f.input)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer file.Close()
			src = file
		}
		err := feed.Run(ctx, src, engine, feedCfg)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	fmt.Fprintln(stdout, summary.String())
	fmt.Fprintf(stderr, "Processing took: %.2f seconds\n", time.Since(start).Seconds())
	return err
}

// openStores builds the ledger and preference store options for s.
func openStores(ctx context.Context, s config.Settings) ([]ingest.Option, error) {
	mode, err := ledger.ParseMode(s.Dedup)
	if err != nil {
		return nil, err
	}

	var l ledger.Ledger
	switch s.Ledger {
	case config.BackendSQLite:
		l, err = ledger.NewSQLiteLedger(s.SQLitePath, mode)
	case config.BackendRedis:
		l, err = ledger.NewRedisLedger(ctx, s.RedisAddr, ledger.RedisConfig{Prefix: s.RedisPrefix, Mode: mode})
	default:
		l = ledger.NewMemoryLedger(mode)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	var p preference.Store
	switch s.Preferences {
	case config.BackendSQLite:
		p, err = preference.NewSQLiteStore(s.SQLitePath)
	default:
		p = preference.NewMemoryStore()
	}
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open preference store: %w", err)
	}

	return []ingest.Option{ingest.WithLedger(l), ingest.WithPreferenceStore(p)}, nil
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: observability.ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
