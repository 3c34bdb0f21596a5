package ingest

import (
	"log/slog"

	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ledger"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/observability"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/preference"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/report"
)

// engineConfig holds the collaborators of an Engine.
type engineConfig struct {
	capacity int
	registry *event.Registry
	ledger   ledger.Ledger
	prefs    preference.Store
	emitter  Emitter
	reporter *report.Reporter
	drops    DropSink
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	tracing  bool
	runID    string
}

// defaultEngineConfig returns an unbounded engine over in-memory stores.
func defaultEngineConfig() engineConfig {
	return engineConfig{
		capacity: -1,
		registry: event.DefaultRegistry,
		emitter:  DiscardEmitter{},
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithCapacity caps the number of accepted events in the run. Once n events
// are accepted every further record is dropped with ReasonCapacityExceeded.
// A negative n (the default) means unbounded.
//
// Example:
//
//	engine := ingest.New(ingest.WithCapacity(100))
func WithCapacity(n int) Option {
	return func(c *engineConfig) {
		c.capacity = n
	}
}

// WithRegistry validates records against a custom schema registry.
// Default: event.DefaultRegistry
func WithRegistry(r *event.Registry) Option {
	return func(c *engineConfig) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithLedger sets the deduplication ledger.
// Default: an exact-mode ledger.MemoryLedger
func WithLedger(l ledger.Ledger) Option {
	return func(c *engineConfig) {
		c.ledger = l
	}
}

// WithPreferenceStore sets the recipient preference store.
// Default: preference.MemoryStore
func WithPreferenceStore(s preference.Store) Option {
	return func(c *engineConfig) {
		c.prefs = s
	}
}

// WithEmitter sets where accepted events are written.
// Default: DiscardEmitter
func WithEmitter(e Emitter) Option {
	return func(c *engineConfig) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithReporter shares a reporter with the engine, e.g. across restarts of
// a feed. Default: a fresh report.Reporter
func WithReporter(r *report.Reporter) Option {
	return func(c *engineConfig) {
		c.reporter = r
	}
}

// WithDropSink records every dropped record.
func WithDropSink(s DropSink) Option {
	return func(c *engineConfig) {
		c.drops = s
	}
}

// WithLogger enables structured logging. Accepts are logged at debug,
// drops at info, backend failures at error.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithMetrics enables metrics recording.
//
// Example:
//
//	engine := ingest.New(ingest.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables a span per run and per record.
func WithTracing(spans observability.SpanManager) Option {
	return func(c *engineConfig) {
		if spans != nil {
			c.spans = spans
			c.tracing = true
		}
	}
}

// WithRunID sets the run identifier used in logs and spans.
// Default: a random UUID
func WithRunID(id string) Option {
	return func(c *engineConfig) {
		c.runID = id
	}
}
