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

// MetricsRecorder records dispatch and executor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordHandler records one handler invocation with its duration and error status.
	RecordHandler(ctx context.Context, bus string, priority int64, duration time.Duration, err error)

	// RecordPost records a completed event chain.
	RecordPost(ctx context.Context, bus string, success bool, duration time.Duration)

	// RecordTask records one task executed by an executor.
	RecordTask(ctx context.Context, executor string, duration time.Duration, err error)

	// RecordRejected records a refused submission.
	RecordRejected(ctx context.Context, executor string, reason string)

	// RecordQueued adjusts the number of tasks waiting behind a busy group key.
	RecordQueued(ctx context.Context, executor string, delta int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	handlerInvocations metric.Int64Counter
	handlerLatency     metric.Float64Histogram
	handlerFaults      metric.Int64Counter
	posts              metric.Int64Counter
	postLatency        metric.Float64Histogram
	tasks              metric.Int64Counter
	taskLatency        metric.Float64Histogram
	taskFailures       metric.Int64Counter
	rejected           metric.Int64Counter
	queued             metric.Int64UpDownCounter
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
	meter := otel.Meter("atom")
	m := &otelMetrics{}
	var err error

	if m.handlerInvocations, err = meter.Int64Counter("atom.handler.invocations",
		metric.WithDescription("Number of event handler invocations"),
	); err != nil {
		return nil, err
	}
	if m.handlerLatency, err = meter.Float64Histogram("atom.handler.latency_ms",
		metric.WithDescription("Event handler latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.handlerFaults, err = meter.Int64Counter("atom.handler.faults",
		metric.WithDescription("Number of event handler faults"),
	); err != nil {
		return nil, err
	}
	if m.posts, err = meter.Int64Counter("atom.event.posts",
		metric.WithDescription("Number of completed event chains"),
	); err != nil {
		return nil, err
	}
	if m.postLatency, err = meter.Float64Histogram("atom.event.latency_ms",
		metric.WithDescription("Event chain latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.tasks, err = meter.Int64Counter("atom.executor.tasks",
		metric.WithDescription("Number of executed tasks"),
	); err != nil {
		return nil, err
	}
	if m.taskLatency, err = meter.Float64Histogram("atom.executor.task_latency_ms",
		metric.WithDescription("Task run time in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.taskFailures, err = meter.Int64Counter("atom.executor.task_failures",
		metric.WithDescription("Number of tasks that failed or panicked"),
	); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("atom.executor.rejected",
		metric.WithDescription("Number of rejected submissions"),
	); err != nil {
		return nil, err
	}
	if m.queued, err = meter.Int64UpDownCounter("atom.executor.grouped_queued",
		metric.WithDescription("Tasks waiting behind an in-flight task with the same group key"),
	); err != nil {
		return nil, err
	}

	return m, nil
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

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, bus string, priority int64, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("bus", bus),
		attribute.Int64("priority", priority),
	)
	m.handlerInvocations.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.handlerFaults.Add(ctx, 1, attrs)
	}
}

// RecordPost records a completed chain.
func (m *otelMetrics) RecordPost(ctx context.Context, bus string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("bus", bus),
		attribute.Bool("success", success),
	)
	m.posts.Add(ctx, 1, attrs)
	m.postLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordTask records an executed task.
func (m *otelMetrics) RecordTask(ctx context.Context, executor string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("executor", executor))
	m.tasks.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.taskFailures.Add(ctx, 1, attrs)
	}
}

// RecordRejected records a refused submission.
func (m *otelMetrics) RecordRejected(ctx context.Context, executor string, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("executor", executor),
		attribute.String("reason", reason),
	))
}

// RecordQueued adjusts the grouped backlog gauge.
func (m *otelMetrics) RecordQueued(ctx context.Context, executor string, delta int64) {
	m.queued.Add(ctx, delta, metric.WithAttributes(attribute.String("executor", executor)))
}
