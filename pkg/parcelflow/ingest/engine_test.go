package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ingest"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ledger"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/observability"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/preference"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/report"
)

const (
	sendPersonal21  = `{"action": "send_package", "timestamp": "2142-08-24T02:23:12+0100", "sender_id": 42, "recipient_id": 21, "package_id": 2834, "package_type": "personal"}`
	sendPersonal21B = `{"action": "send_package", "timestamp": "2142-09-01T02:45:12+0100", "sender_id": 42, "recipient_id": 21, "package_id": 2834, "package_type": "personal"}`
	sendMarketing21 = `{"action": "send_package", "timestamp": "2142-08-28T02:12:12+1230", "sender_id": 8, "recipient_id": 21, "package_id": 6901, "package_type": "marketing"}`
	sendPersonal49  = `{"action": "send_package", "timestamp": "2142-08-24T16:20:12-0700", "sender_id": 3, "recipient_id": 49, "package_id": 1756, "package_type": "personal"}`
	sendMarketing49 = `{"action": "send_package", "timestamp": "2142-08-23T02:40:12-0700", "sender_id": 5, "recipient_id": 49, "package_id": 18571, "package_type": "marketing"}`
	optOutPersonal  = `{"action": "update_preference", "timestamp": "2142-08-24T23:40:12Z", "recipient_id": 21, "personal_package": false}`
	optOutMarketing = `{"action": "update_preference", "timestamp": "2142-08-24T23:40:12Z", "recipient_id": 21, "marketing_package": false}`
)

// processAll feeds records through the engine and returns their outcomes.
func processAll(t *testing.T, e *ingest.Engine, records ...string) []ingest.Outcome {
	t.Helper()
	outcomes := make([]ingest.Outcome, 0, len(records))
	for _, r := range records {
		out, err := e.Process(context.Background(), []byte(r))
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func reasons(outcomes []ingest.Outcome) []ingest.Reason {
	rs := make([]ingest.Reason, len(outcomes))
	for i, o := range outcomes {
		rs[i] = o.Reason
	}
	return rs
}

func TestScenario_RetryAfterOptOutIsDuplicate(t *testing.T) {
	em := &ingest.MemoryEmitter{}
	e := ingest.New(ingest.WithEmitter(em))

	outcomes := processAll(t, e, sendPersonal21, optOutPersonal, sendPersonal21)

	assert.Equal(t, []ingest.Reason{ingest.ReasonNone, ingest.ReasonNone, ingest.ReasonDuplicate}, reasons(outcomes))
	assert.True(t, outcomes[0].Accepted())
	assert.True(t, outcomes[1].Accepted())
	assert.False(t, outcomes[2].Accepted())
	assert.True(t, errors.Is(outcomes[2].Err, pferrors.ErrDuplicate))

	s := e.Summary()
	assert.Equal(t, 2, s.AcceptedCount)
	assert.Equal(t, 1, s.DroppedCount)
	assert.Len(t, em.Events(), 2)
}

func TestScenario_MarketingOptOutDenies(t *testing.T) {
	e := ingest.New()

	outcomes := processAll(t, e, optOutMarketing, sendMarketing21)

	assert.Equal(t, ingest.StatusAccepted, outcomes[0].Status)
	assert.Equal(t, ingest.StatusDropped, outcomes[1].Status)
	assert.Equal(t, ingest.ReasonPreferenceDenied, outcomes[1].Reason)
	assert.Equal(t, pferrors.KindPreferenceDenied, pferrors.KindOf(outcomes[1].Err))
}

func TestScenario_CapacityCutoff(t *testing.T) {
	e := ingest.New(ingest.WithCapacity(1))

	outcomes := processAll(t, e, sendPersonal21, sendPersonal49)

	assert.Equal(t, []ingest.Reason{ingest.ReasonNone, ingest.ReasonCapacityExceeded}, reasons(outcomes))
	remaining, bounded := e.Remaining()
	assert.True(t, bounded)
	assert.Equal(t, 0, remaining)
}

func TestSampleFeed(t *testing.T) {
	e := ingest.New()
	processAll(t, e,
		sendMarketing49,
		sendPersonal49,
		`{"action": "update_preference", "timestamp": "2142-08-24T23:40:12Z", "recipient_id": 21, "personal_package": false, "marketing_package": false}`,
		sendMarketing21,
		sendPersonal21,
		sendPersonal21B,
	)

	s := e.Summary()
	assert.Equal(t, 3, s.AcceptedCount)
	assert.Equal(t, 3, s.DroppedCount)
	assert.Equal(t, map[string]int{"preference_denied": 3}, s.DroppedByReason)
}

func TestIdempotentDelivery(t *testing.T) {
	records := []string{sendPersonal21, sendMarketing49, optOutPersonal}
	for _, r := range records {
		t.Run(r[:40], func(t *testing.T) {
			em := &ingest.MemoryEmitter{}
			e := ingest.New(ingest.WithEmitter(em))

			outcomes := processAll(t, e, r, r)

			assert.True(t, outcomes[0].Accepted())
			assert.Equal(t, ingest.ReasonDuplicate, outcomes[1].Reason)
			assert.Len(t, em.Events(), 1)
		})
	}
}

func TestPreferenceGatingIndependentOfOrder(t *testing.T) {
	optOut49 := `{"action": "update_preference", "timestamp": "t", "recipient_id": 49, "marketing_package": false}`

	e := ingest.New()
	outcomes := processAll(t, e, sendMarketing21, optOut49, sendMarketing49, sendPersonal49)

	assert.Equal(t, []ingest.Reason{
		ingest.ReasonNone,
		ingest.ReasonNone,
		ingest.ReasonPreferenceDenied,
		ingest.ReasonNone,
	}, reasons(outcomes))
}

func TestDefaultAllow(t *testing.T) {
	e := ingest.New()
	outcomes := processAll(t, e, sendMarketing49, sendPersonal21)
	assert.True(t, outcomes[0].Accepted())
	assert.True(t, outcomes[1].Accepted())
}

func TestPartialUpdatePreservesOtherField(t *testing.T) {
	prefs := preference.NewMemoryStore()
	e := ingest.New(ingest.WithPreferenceStore(prefs))

	processAll(t, e, optOutPersonal, optOutMarketing)

	r, ok, err := prefs.Get(context.Background(), 21)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, r.PersonalPackage, "marketing-only update must not reset personal")
	assert.False(t, r.MarketingPackage)
}

func TestValidationFailureHasNoSideEffects(t *testing.T) {
	prefs := preference.NewMemoryStore()
	led := ledger.NewMemoryLedger(ledger.ModeExact)
	drops := ingest.NewMemoryDropSink(10)
	e := ingest.New(ingest.WithPreferenceStore(prefs), ingest.WithLedger(led), ingest.WithDropSink(drops))

	bad := []string{
		`not json`,
		`{"timestamp": "t", "recipient_id": 1}`,
		`{"action": "deliver", "recipient_id": 1}`,
		`{"action": "send_package", "timestamp": "t", "sender_id": 1, "recipient_id": 2, "package_id": 3, "package_type": "parcel"}`,
		`{"action": "send_package", "timestamp": "t", "sender_id": 1.5, "recipient_id": 2, "package_id": 3, "package_type": "personal"}`,
		`{"action": "send_package", "timestamp": "t", "sender_id": "1", "recipient_id": 2, "package_id": 3, "package_type": "personal"}`,
		`{"action": "update_preference", "timestamp": "t", "recipient_id": 2}`,
		`{"action": "update_preference", "timestamp": "t", "recipient_id": 2, "personal_package": "no"}`,
	}
	outcomes := processAll(t, e, bad...)

	for i, out := range outcomes {
		assert.Equal(t, ingest.ReasonValidationFailed, out.Reason, "record %d", i)
		assert.Nil(t, out.Event)
		assert.True(t, pferrors.KindOf(out.Err).IsValidation(), "record %d: %v", i, out.Err)
	}

	n, err := prefs.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = led.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, len(bad), drops.Len())
	assert.Equal(t, map[ingest.Reason]int{ingest.ReasonValidationFailed: len(bad)}, drops.CountByReason())
	assert.Equal(t, "not json", drops.List(1)[0].Raw)
}

func TestCapacity(t *testing.T) {
	t.Run("exhausted capacity drops before validation", func(t *testing.T) {
		e := ingest.New(ingest.WithCapacity(0))
		outcomes := processAll(t, e, `not json`, sendPersonal21)
		assert.Equal(t, []ingest.Reason{ingest.ReasonCapacityExceeded, ingest.ReasonCapacityExceeded}, reasons(outcomes))
	})

	t.Run("updates consume capacity", func(t *testing.T) {
		e := ingest.New(ingest.WithCapacity(1))
		outcomes := processAll(t, e, optOutMarketing, sendPersonal21)
		assert.Equal(t, ingest.ReasonCapacityExceeded, outcomes[1].Reason)
	})

	t.Run("drops do not consume capacity", func(t *testing.T) {
		e := ingest.New(ingest.WithCapacity(1))
		outcomes := processAll(t, e, `{}`, sendPersonal21, sendPersonal21)
		assert.Equal(t, []ingest.Reason{
			ingest.ReasonValidationFailed,
			ingest.ReasonNone,
			ingest.ReasonCapacityExceeded,
		}, reasons(outcomes))
	})

	t.Run("unbounded by default", func(t *testing.T) {
		_, bounded := ingest.New().Remaining()
		assert.False(t, bounded)
	})
}

func TestDedupModes(t *testing.T) {
	t.Run("exact mode accepts a retry with a new timestamp", func(t *testing.T) {
		e := ingest.New(ingest.WithLedger(ledger.NewMemoryLedger(ledger.ModeExact)))
		outcomes := processAll(t, e, sendPersonal21, sendPersonal21B)
		assert.True(t, outcomes[1].Accepted())
	})

	t.Run("package mode suppresses a retry with a new timestamp", func(t *testing.T) {
		e := ingest.New(ingest.WithLedger(ledger.NewMemoryLedger(ledger.ModePackage)))
		outcomes := processAll(t, e, sendPersonal21, sendPersonal21B)
		assert.Equal(t, ingest.ReasonDuplicate, outcomes[1].Reason)
	})
}

func TestSequence(t *testing.T) {
	e := ingest.New()
	outcomes := processAll(t, e, sendPersonal21, `x`, sendPersonal49)
	for i, o := range outcomes {
		assert.Equal(t, int64(i+1), o.Sequence)
	}
}

func TestConcurrentFeedsAcceptOnce(t *testing.T) {
	em := &ingest.MemoryEmitter{}
	e := ingest.New(ingest.WithEmitter(em))

	const feeders = 16
	var wg sync.WaitGroup
	wg.Add(feeders)
	for i := 0; i < feeders; i++ {
		go func() {
			defer wg.Done()
			_, err := e.Process(context.Background(), []byte(sendPersonal21))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s := e.Summary()
	assert.Equal(t, 1, s.AcceptedCount)
	assert.Equal(t, feeders-1, s.DroppedCount)
	assert.Len(t, em.Events(), 1)
}

// failingLedger fails every call with err.
type failingLedger struct {
	ledger.Ledger
	err error
}

func (f failingLedger) IsDuplicate(context.Context, event.Event) (bool, error) { return false, f.err }

// racingLedger reports no duplicate but loses the record race.
type racingLedger struct {
	ledger.Ledger
}

func (racingLedger) IsDuplicate(context.Context, event.Event) (bool, error) { return false, nil }

func (racingLedger) Record(context.Context, event.Event) (ledger.Entry, error) {
	return ledger.Entry{}, ledger.ErrAlreadyRecorded
}

func TestBackendFailures(t *testing.T) {
	t.Run("ledger failure is returned and not counted", func(t *testing.T) {
		cause := pferrors.Backend("redis", "hexists", errors.New("connection reset"))
		e := ingest.New(ingest.WithLedger(failingLedger{err: cause}))

		out, err := e.Process(context.Background(), []byte(sendPersonal21))
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.True(t, pferrors.IsFatal(err))
		assert.NotNil(t, out.Event)

		s := e.Summary()
		assert.Zero(t, s.AcceptedCount)
		assert.Zero(t, s.DroppedCount)
	})

	t.Run("emitter failure is returned", func(t *testing.T) {
		boom := errors.New("broken pipe")
		e := ingest.New(ingest.WithEmitter(ingest.EmitterFunc(func(context.Context, event.Event) error {
			return boom
		})), ingest.WithCapacity(5))

		_, err := e.Process(context.Background(), []byte(sendPersonal21))
		assert.ErrorIs(t, err, boom)
		remaining, _ := e.Remaining()
		assert.Equal(t, 5, remaining)
	})

	t.Run("lost record race is a duplicate", func(t *testing.T) {
		e := ingest.New(ingest.WithLedger(racingLedger{}))
		out, err := e.Process(context.Background(), []byte(sendPersonal21))
		require.NoError(t, err)
		assert.Equal(t, ingest.ReasonDuplicate, out.Reason)
	})
}

func TestJSONLineEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := ingest.New(ingest.WithEmitter(ingest.NewJSONLineEmitter(&buf)))
	processAll(t, e, sendPersonal21, optOutMarketing)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		`{"action":"send_package","timestamp":"2142-08-24T02:23:12+0100","recipient_id":21,"sender_id":42,"package_id":2834,"package_type":"personal"}`,
		lines[0])
	assert.Equal(t,
		`{"action":"update_preference","timestamp":"2142-08-24T23:40:12Z","recipient_id":21,"personal_package":null,"marketing_package":false}`,
		lines[1])
}

func TestRun(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := ingest.New(ingest.WithLogger(logger), ingest.WithRunID("run-42"), ingest.WithCapacity(3))

	summary, err := e.Run(context.Background(), func(ctx context.Context) error {
		for _, r := range []string{sendPersonal21, sendPersonal21} {
			if _, err := e.Process(ctx, []byte(r)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, report.Summary{AcceptedCount: 1, DroppedCount: 1, DroppedByReason: map[string]int{"duplicate": 1}}, summary)
	assert.Equal(t, "run-42", e.RunID())

	out := logs.String()
	assert.Contains(t, out, `"msg":"ingestion run starting"`)
	assert.Contains(t, out, `"capacity":3`)
	assert.Contains(t, out, `"msg":"event accepted"`)
	assert.Contains(t, out, `"reason":"duplicate"`)
	assert.Contains(t, out, `"msg":"ingestion run completed"`)
	assert.Contains(t, out, `"run_id":"run-42"`)

	t.Run("propagates fn error", func(t *testing.T) {
		boom := errors.New("feed closed")
		_, err := e.Run(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := ingest.New(ingest.WithTracing(observability.NewSpanManagerWithProvider(tp)))
	_, err := e.Run(context.Background(), func(ctx context.Context) error {
		_, err := e.Process(ctx, []byte(sendPersonal21))
		return err
	})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "parcelflow.event", spans[0].Name)
	assert.Equal(t, "parcelflow.run", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestSQLiteBackedEngine(t *testing.T) {
	dir := t.TempDir()
	open := func() *ingest.Engine {
		led, err := ledger.NewSQLiteLedger(filepath.Join(dir, "ledger.db"), ledger.ModeExact)
		require.NoError(t, err)
		prefs, err := preference.NewSQLiteStore(filepath.Join(dir, "prefs.db"))
		require.NoError(t, err)
		return ingest.New(ingest.WithLedger(led), ingest.WithPreferenceStore(prefs))
	}

	first := open()
	processAll(t, first, sendPersonal21, optOutMarketing)
	require.NoError(t, first.Close())

	second := open()
	defer second.Close()
	outcomes := processAll(t, second, sendPersonal21, sendMarketing21)
	assert.Equal(t, []ingest.Reason{ingest.ReasonDuplicate, ingest.ReasonPreferenceDenied}, reasons(outcomes))
}
