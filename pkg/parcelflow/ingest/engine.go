// Package ingest turns a stream of raw delivery records into accepted and
// dropped events.
//
// For each record the Engine runs one fixed sequence: capacity check,
// validation, recipient lookup, duplicate check, preference gate (sends) or
// preference update (updates), ledger record, emit. Only accepted events
// mutate the ledger; only accepted updates mutate the preference store.
// Records that fail validation never touch either store.
//
// Drops are outcomes, not errors. Process returns an error only when a
// store backend or the emitter fails.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ledger"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/observability"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/preference"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/report"
)

// Engine processes records one at a time. It is safe for concurrent use:
// each Process call runs in an exclusive region, so records arriving on
// several connections are still deduplicated exactly.
type Engine struct {
	mu sync.Mutex

	registry *event.Registry
	ledger   ledger.Ledger
	prefs    preference.Store
	emitter  Emitter
	reporter *report.Reporter
	drops    DropSink

	logger    *slog.Logger
	runLogger *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	tracing   bool
	runID     string

	bounded   bool
	remaining int
	seq       int64
}

// New creates an Engine. Without options it is unbounded, keeps its state
// in memory, and discards accepted events.
func New(opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ledger == nil {
		cfg.ledger = ledger.NewMemoryLedger(ledger.ModeExact)
	}
	if cfg.prefs == nil {
		cfg.prefs = preference.NewMemoryStore()
	}
	if cfg.reporter == nil {
		cfg.reporter = report.New()
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}

	return &Engine{
		registry:  cfg.registry,
		ledger:    cfg.ledger,
		prefs:     cfg.prefs,
		emitter:   cfg.emitter,
		reporter:  cfg.reporter,
		drops:     cfg.drops,
		logger:    observability.EnrichLogger(cfg.logger, cfg.runID),
		runLogger: cfg.logger,
		metrics:   cfg.metrics,
		spans:     cfg.spans,
		tracing:   cfg.tracing,
		runID:     cfg.runID,
		bounded:   cfg.capacity >= 0,
		remaining: cfg.capacity,
	}
}

// Process runs one raw record through the engine.
//
// The returned Outcome is always populated. A non-nil error means a backend
// failed mid-record; the record is then neither accepted nor counted as a drop.
func (e *Engine) Process(ctx context.Context, raw []byte) (Outcome, error) {
	return e.handle(ctx, raw, nil)
}

// Reject counts a record the caller could not even hand over intact, such
// as an oversized line, as a validation failure. It consumes a sequence
// number and honors the capacity cutoff like Process.
func (e *Engine) Reject(ctx context.Context, raw []byte, cause error) (Outcome, error) {
	if cause == nil {
		cause = pferrors.Validation(pferrors.KindSchemaType, "", "record rejected")
	}
	return e.handle(ctx, raw, cause)
}

func (e *Engine) handle(ctx context.Context, raw []byte, rejected error) (out Outcome, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	seq := e.seq
	start := time.Now()

	if e.tracing {
		var span trace.Span
		ctx, span = e.spans.StartEventSpan(ctx, seq)
		defer func() {
			span.SetAttributes(
				attribute.String("outcome.status", out.Status.String()),
				attribute.String("outcome.reason", string(out.Reason)),
			)
			e.spans.EndSpanWithError(span, err)
		}()
	}

	out, err = e.process(ctx, raw, rejected)
	out.Sequence = seq
	if err != nil {
		observability.LogBackendError(e.logger, "process", err)
		return out, err
	}

	e.account(ctx, raw, out, time.Since(start))
	return out, nil
}

// process holds the per-record state machine. Caller holds e.mu.
func (e *Engine) process(ctx context.Context, raw []byte, rejected error) (Outcome, error) {
	if e.bounded && e.remaining <= 0 {
		return dropped(ReasonCapacityExceeded, pferrors.ErrCapacityExceeded, nil), nil
	}
	if rejected != nil {
		return dropped(ReasonValidationFailed, rejected, nil), nil
	}

	evt, err := e.registry.Validate(raw)
	if err != nil {
		return dropped(ReasonValidationFailed, err, nil), nil
	}

	recipient, err := e.prefs.GetOrCreate(ctx, evt.RecipientID())
	if err != nil {
		return Outcome{Event: evt}, fmt.Errorf("get recipient %d: %w", evt.RecipientID(), err)
	}

	dup, err := e.ledger.IsDuplicate(ctx, evt)
	if err != nil {
		return Outcome{Event: evt}, fmt.Errorf("check ledger: %w", err)
	}
	if dup {
		return dropped(ReasonDuplicate, pferrors.Drop(pferrors.KindDuplicate, evt.RecipientID()), evt), nil
	}

	switch v := evt.(type) {
	case event.SendPackage:
		if !recipient.Allows(v.PackageType) {
			return dropped(ReasonPreferenceDenied, pferrors.Drop(pferrors.KindPreferenceDenied, v.Recipient), evt), nil
		}
	case event.UpdatePreference:
		if _, err := e.prefs.ApplyUpdate(ctx, v.Recipient, v.PersonalPackage, v.MarketingPackage); err != nil {
			return Outcome{Event: evt}, fmt.Errorf("apply preference update for %d: %w", v.Recipient, err)
		}
	}

	if _, err := e.ledger.Record(ctx, evt); err != nil {
		// Another writer sharing the ledger got there first.
		if errors.Is(err, ledger.ErrAlreadyRecorded) {
			return dropped(ReasonDuplicate, pferrors.Drop(pferrors.KindDuplicate, evt.RecipientID()), evt), nil
		}
		return Outcome{Event: evt}, fmt.Errorf("record ledger entry: %w", err)
	}

	if err := e.emitter.Emit(ctx, evt); err != nil {
		return Outcome{Event: evt}, fmt.Errorf("emit: %w", err)
	}

	if e.bounded {
		e.remaining--
		e.metrics.RecordCapacityRemaining(ctx, e.remaining)
	}
	return accepted(evt), nil
}

// account reports a finished record to the reporter, metrics, logs and drop sink.
func (e *Engine) account(ctx context.Context, raw []byte, out Outcome, elapsed time.Duration) {
	e.reporter.Record(out.Accepted(), string(out.Reason))

	if out.Accepted() {
		action := string(out.Event.Action())
		e.metrics.RecordAccepted(ctx, action, elapsed)
		observability.LogAccepted(e.logger, action, out.RecipientID())
		return
	}

	e.metrics.RecordDropped(ctx, string(out.Reason), elapsed)
	observability.LogDropped(e.logger, string(out.Reason), out.RecipientID(), out.Err)
	if e.tracing {
		e.spans.AddSpanEvent(ctx, "dropped", attribute.String("reason", string(out.Reason)))
	}

	if e.drops == nil {
		return
	}
	d := &DroppedEvent{
		Sequence:    out.Sequence,
		Raw:         string(raw),
		Reason:      out.Reason,
		RecipientID: out.RecipientID(),
		DroppedAt:   time.Now().UTC(),
	}
	if out.Err != nil {
		d.Error = out.Err.Error()
	}
	if err := e.drops.Drop(ctx, d); err != nil {
		observability.LogBackendError(e.logger, "drop sink", err)
	}
}

// Run wraps fn in run-level observability: a run span, start and completion
// logs, and the run metric. fn typically feeds records into Process.
func (e *Engine) Run(ctx context.Context, fn func(ctx context.Context) error) (summary report.Summary, runErr error) {
	start := time.Now()
	capacity := -1
	if remaining, ok := e.Remaining(); ok {
		capacity = remaining
	}
	observability.LogRunStart(e.runLogger, e.runID, capacity)

	if e.tracing {
		var runSpan trace.Span
		ctx, runSpan = e.spans.StartRunSpan(ctx, e.runID)
		defer func() {
			e.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	runErr = fn(ctx)
	duration := time.Since(start)
	summary = e.Summary()

	e.metrics.RecordRun(ctx, runErr == nil, duration)
	if runErr != nil {
		observability.LogBackendError(e.logger, "run", runErr)
	}
	observability.LogRunComplete(e.runLogger, e.runID, float64(duration.Microseconds())/1000,
		summary.AcceptedCount, summary.DroppedCount)
	return summary, runErr
}

// Summary returns the run's accounting so far.
func (e *Engine) Summary() report.Summary {
	return e.reporter.Summary()
}

// Remaining returns the acceptance capacity left and whether a cap is set.
func (e *Engine) Remaining() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining, e.bounded
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// Close closes the ledger and the preference store.
func (e *Engine) Close() error {
	return errors.Join(e.ledger.Close(), e.prefs.Close())
}
