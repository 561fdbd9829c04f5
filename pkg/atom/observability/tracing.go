package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the atom tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("atom")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPostSpan starts a span covering a whole event chain.
	StartPostSpan(ctx context.Context, bus, contextID string) (context.Context, trace.Span)

	// StartHandlerSpan starts a span for one handler invocation.
	// The handler span should be a child of the post span.
	StartHandlerSpan(ctx context.Context, registrationID string, priority int64) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartPostSpan(ctx context.Context, bus, contextID string) (context.Context, trace.Span) {
	return StartPostSpan(ctx, bus, contextID)
}

func (m *otelSpanManager) StartHandlerSpan(ctx context.Context, registrationID string, priority int64) (context.Context, trace.Span) {
	return StartHandlerSpan(ctx, registrationID, priority)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartPostSpan starts a span for an event chain.
// Uses the global OTel tracer.
func StartPostSpan(ctx context.Context, bus, contextID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "atom.post",
		trace.WithAttributes(
			attribute.String("bus.name", bus),
			attribute.String("context.id", contextID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartHandlerSpan starts a span for a handler invocation.
// Uses the global OTel tracer.
func StartHandlerSpan(ctx context.Context, registrationID string, priority int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "atom.handler",
		trace.WithAttributes(
			attribute.String("registration.id", registrationID),
			attribute.Int64("registration.priority", priority),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
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

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
