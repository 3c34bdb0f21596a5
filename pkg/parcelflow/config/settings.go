package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Backend names a store implementation.
type Backend string

// Supported backends.
const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// Environment variables read by ApplyEnv.
const (
	EnvCapacity    = "PARCELFLOW_CAPACITY"
	EnvDedup       = "PARCELFLOW_DEDUP"
	EnvLogLevel    = "PARCELFLOW_LOG_LEVEL"
	EnvQueueSize   = "PARCELFLOW_QUEUE_SIZE"
	EnvListen      = "PARCELFLOW_LISTEN"
	EnvIdleTimeout = "PARCELFLOW_IDLE_TIMEOUT"
	EnvLedger      = "PARCELFLOW_LEDGER"
	EnvPreferences = "PARCELFLOW_PREFERENCES"
	EnvSQLitePath  = "PARCELFLOW_SQLITE_PATH"
	EnvRedisAddr   = "PARCELFLOW_REDIS_ADDR"
	EnvRedisPrefix = "PARCELFLOW_REDIS_PREFIX"
	EnvMetrics     = "PARCELFLOW_METRICS"
	EnvTracing     = "PARCELFLOW_TRACING"
)

// Defaults.
const (
	DefaultQueueSize   = 1024
	DefaultSQLitePath  = "parcelflow.db"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "parcelflow"
	DefaultIdleTimeout = 5 * time.Minute
)

// Settings is the resolved configuration of one ingestion run.
type Settings struct {
	// Capacity caps accepted events per run. Negative means unbounded.
	Capacity int

	// Dedup is the ledger strictness mode: "exact" or "package".
	Dedup string

	LogLevel  string
	QueueSize int

	// Listen is a TCP address to accept feeds on. Empty reads a single stream.
	Listen      string
	IdleTimeout time.Duration

	Ledger      Backend
	Preferences Backend
	SQLitePath  string
	RedisAddr   string
	RedisPrefix string

	Metrics bool
	Tracing bool
}

// DefaultSettings returns an unbounded, in-memory, exact-dedup configuration.
func DefaultSettings() Settings {
	return Settings{
		Capacity:    -1,
		Dedup:       "exact",
		LogLevel:    "info",
		QueueSize:   DefaultQueueSize,
		IdleTimeout: DefaultIdleTimeout,
		Ledger:      BackendMemory,
		Preferences: BackendMemory,
		SQLitePath:  DefaultSQLitePath,
		RedisAddr:   DefaultRedisAddr,
		RedisPrefix: DefaultRedisPrefix,
	}
}

// SettingsFrom reads Settings from a Config, falling back to DefaultSettings.
func SettingsFrom(cfg Config) Settings {
	d := DefaultSettings()
	return Settings{
		Capacity:    cfg.Int("capacity", d.Capacity),
		Dedup:       cfg.String("dedup", d.Dedup),
		LogLevel:    cfg.String("log_level", d.LogLevel),
		QueueSize:   cfg.Int("queue_size", d.QueueSize),
		Listen:      cfg.String("listen", d.Listen),
		IdleTimeout: cfg.Duration("idle_timeout", d.IdleTimeout),
		Ledger:      Backend(cfg.String("ledger.backend", string(d.Ledger))),
		Preferences: Backend(cfg.String("preferences.backend", string(d.Preferences))),
		SQLitePath:  cfg.String("ledger.sqlite_path", d.SQLitePath),
		RedisAddr:   cfg.String("ledger.redis_addr", d.RedisAddr),
		RedisPrefix: cfg.String("ledger.redis_prefix", d.RedisPrefix),
		Metrics:     cfg.Bool("observability.metrics", d.Metrics),
		Tracing:     cfg.Bool("observability.tracing", d.Tracing),
	}
}

// ApplyEnv overrides settings from environment variables. lookup is usually
// os.LookupEnv. Malformed numeric or boolean values are errors.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || err != nil {
			return
		}
		n, perr := strconv.Atoi(strings.TrimSpace(v))
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || err != nil {
			return
		}
		b, perr := strconv.ParseBool(strings.TrimSpace(v))
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = b
	}
	backend := func(key string, dst *Backend) {
		if v, ok := lookup(key); ok {
			*dst = Backend(strings.ToLower(strings.TrimSpace(v)))
		}
	}

	integer(EnvCapacity, &s.Capacity)
	str(EnvDedup, &s.Dedup)
	str(EnvLogLevel, &s.LogLevel)
	integer(EnvQueueSize, &s.QueueSize)
	str(EnvListen, &s.Listen)
	backend(EnvLedger, &s.Ledger)
	backend(EnvPreferences, &s.Preferences)
	str(EnvSQLitePath, &s.SQLitePath)
	str(EnvRedisAddr, &s.RedisAddr)
	str(EnvRedisPrefix, &s.RedisPrefix)
	boolean(EnvMetrics, &s.Metrics)
	boolean(EnvTracing, &s.Tracing)

	if v, ok := lookup(EnvIdleTimeout); ok && err == nil {
		d, perr := time.ParseDuration(strings.TrimSpace(v))
		if perr != nil {
			return fmt.Errorf("%s: %w", EnvIdleTimeout, perr)
		}
		s.IdleTimeout = d
	}
	return err
}

// Validate checks that the settings name supported backends and modes.
func (s Settings) Validate() error {
	switch s.Dedup {
	case "exact", "package":
	default:
		return fmt.Errorf("dedup: unknown mode %q (want exact or package)", s.Dedup)
	}
	switch s.Ledger {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("ledger: unknown backend %q", s.Ledger)
	}
	switch s.Preferences {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("preferences: unknown backend %q", s.Preferences)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", s.QueueSize)
	}
	if (s.Ledger == BackendSQLite || s.Preferences == BackendSQLite) && s.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required for the sqlite backend")
	}
	if s.Ledger == BackendRedis && s.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis backend")
	}
	return nil
}

// Bounded reports whether a capacity cap is configured.
func (s Settings) Bounded() bool {
	return s.Capacity >= 0
}
