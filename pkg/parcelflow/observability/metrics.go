package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records parcelflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAccepted records an accepted event and its processing latency.
	RecordAccepted(ctx context.Context, action string, duration time.Duration)

	// RecordDropped records a dropped event and its processing latency.
	RecordDropped(ctx context.Context, reason string, duration time.Duration)

	// RecordCapacityRemaining records the remaining acceptance budget.
	RecordCapacityRemaining(ctx context.Context, remaining int)

	// RecordRun records an ingestion run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	accepted   metric.Int64Counter
	dropped    metric.Int64Counter
	latency    metric.Float64Histogram
	remaining  metric.Int64Gauge
	runs       metric.Int64Counter
	runLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("parcelflow")

	accepted, err := meter.Int64Counter("parcelflow.events.accepted",
		metric.WithDescription("Number of accepted events"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("parcelflow.events.dropped",
		metric.WithDescription("Number of dropped events by reason"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("parcelflow.event.latency_ms",
		metric.WithDescription("Per-event processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	remaining, err := meter.Int64Gauge("parcelflow.capacity.remaining",
		metric.WithDescription("Acceptance capacity left in the run"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("parcelflow.runs",
		metric.WithDescription("Number of ingestion runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("parcelflow.run.latency_ms",
		metric.WithDescription("Ingestion run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		accepted:   accepted,
		dropped:    dropped,
		latency:    latency,
		remaining:  remaining,
		runs:       runs,
		runLatency: runLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordAccepted records an accepted event.
func (m *otelMetrics) RecordAccepted(ctx context.Context, action string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	m.accepted.Add(ctx, 1, attrs)
	m.latency.Record(ctx, durationMs(duration), metric.WithAttributes(attribute.Bool("accepted", true)))
}

// RecordDropped records a dropped event.
func (m *otelMetrics) RecordDropped(ctx context.Context, reason string, duration time.Duration) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.latency.Record(ctx, durationMs(duration), metric.WithAttributes(attribute.Bool("accepted", false)))
}

// RecordCapacityRemaining records the remaining capacity.
func (m *otelMetrics) RecordCapacityRemaining(ctx context.Context, remaining int) {
	m.remaining.Record(ctx, int64(remaining))
}

// RecordRun records a run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, durationMs(duration), attrs)
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
