package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanRun   = "parcelflow.run"
	SpanEvent = "parcelflow.event"
)

// SpanManager starts and ends the spans of an ingestion run.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span covering a whole ingestion run.
	StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span)

	// StartEventSpan starts a span for one record, as a child of any span in ctx.
	StartEventSpan(ctx context.Context, sequence int64) (context.Context, trace.Span)

	// EndSpanWithError ends span, marking it failed when err is non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the recording span in ctx, if any.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager on the global OTel tracer provider.
// The global tracer delegates, so the provider may be installed later.
func NewSpanManager() SpanManager {
	return NewSpanManagerWithProvider(otel.GetTracerProvider())
}

// NewSpanManagerWithProvider returns a SpanManager on tp.
func NewSpanManagerWithProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer("parcelflow")}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(attribute.String("run.id", runID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartEventSpan(ctx context.Context, sequence int64) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, SpanEvent,
		trace.WithAttributes(attribute.Int64("event.sequence", sequence)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
