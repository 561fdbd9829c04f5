package event

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

type recordedHandler struct {
	priority int64
	failed   bool
}

type recordingMetrics struct {
	observability.NoopMetrics
	mu       sync.Mutex
	handlers []recordedHandler
	posts    []bool
}

func (m *recordingMetrics) RecordHandler(_ context.Context, _ string, priority int64, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, recordedHandler{priority: priority, failed: err != nil})
}

func (m *recordingMetrics) RecordPost(_ context.Context, _ string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, success)
}

// sdkSpans is a SpanManager backed by a private tracer provider.
type sdkSpans struct {
	tracer trace.Tracer
}

func (s sdkSpans) StartPostSpan(ctx context.Context, bus, contextID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "atom.post", trace.WithAttributes(
		attribute.String("bus.name", bus),
		attribute.String("context.id", contextID),
	))
}

func (s sdkSpans) StartHandlerSpan(ctx context.Context, registrationID string, priority int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "atom.handler", trace.WithAttributes(
		attribute.String("registration.id", registrationID),
		attribute.Int64("registration.priority", priority),
	))
}

func (s sdkSpans) EndSpanWithError(span trace.Span, err error) {
	observability.EndSpanWithError(span, err)
}

func (s sdkSpans) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func TestPost_Observability(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := &recordingMetrics{}

	pool, err := executor.Named("observed").Dynamic().Build()
	require.NoError(t, err)
	t.Cleanup(func() { pool.ShutdownNow() })

	bus := NewBus[orderPlaced](
		WithName("orders"),
		WithLogger(logger),
		WithMetrics(metrics),
		WithSpans(sdkSpans{tracer: tp.Tracer("test")}),
		WithDefaultExecutor(pool),
		WithFailurePolicy(FailureContinue),
	)
	tr := &trail{}
	register(t, bus, "sync", First, tr, nil)
	_, err = bus.RegisterFunc(func(b RegistrationBuilder[orderPlaced]) RegistrationBuilder[orderPlaced] {
		return b.WithPriority(Last).WithAsyncHandler(func(ec *Context, _ orderPlaced) Continuation {
			return ec.AdvanceWithError(errors.New("ledger offline"))
		})
	})
	require.NoError(t, err)

	_, err = bus.Post(t.Context(), orderPlaced{ID: "A1"})
	require.NoError(t, err)

	// The async handler span ends after the chain may already have completed.
	require.Eventually(t, func() bool { return len(exporter.GetSpans()) == 3 }, time.Second, 5*time.Millisecond)

	spans := exporter.GetSpans()
	var post tracetest.SpanStub
	var handlers []tracetest.SpanStub
	for _, s := range spans {
		if s.Name == "atom.post" {
			post = s
		} else {
			handlers = append(handlers, s)
		}
	}
	require.Equal(t, "atom.post", post.Name)
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		assert.Equal(t, post.SpanContext.SpanID(), h.Parent.SpanID())
		assert.Equal(t, post.SpanContext.TraceID(), h.SpanContext.TraceID())
	}

	require.Eventually(t, func() bool {
		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		return len(metrics.handlers) == 2
	}, time.Second, 5*time.Millisecond)
	metrics.mu.Lock()
	assert.Equal(t, []bool{true}, metrics.posts)
	metrics.mu.Unlock()

	out := logs.String()
	assert.Contains(t, out, `"msg":"event post starting"`)
	assert.Contains(t, out, `"msg":"handler fault swallowed"`)
	assert.Contains(t, out, `"msg":"event post completed"`)
	assert.Contains(t, out, `"bus":"orders"`)
}
