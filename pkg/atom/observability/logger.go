// Package observability provides structured logging, metrics and tracing
// for the atom runtime.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with bus and context_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "orders", "ctx-123")
//	enriched.Info("doing work") // includes bus, context_id
func EnrichLogger(logger *slog.Logger, bus, contextID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("bus", bus),
		slog.String("context_id", contextID),
	)
}

// LogPostStart logs the start of an event chain.
func LogPostStart(logger *slog.Logger, eventType string, handlers int) {
	if logger == nil {
		return
	}
	logger.Debug("event post starting",
		slog.String("event_type", eventType),
		slog.Int("handlers", handlers),
	)
}

// LogPostComplete logs successful chain completion.
func LogPostComplete(logger *slog.Logger, result string, durationMs float64, invoked int) {
	if logger == nil {
		return
	}
	logger.Debug("event post completed",
		slog.String("result", result),
		slog.Float64("duration_ms", durationMs),
		slog.Int("handlers_invoked", invoked),
	)
}

// LogPostFailed logs a chain that ended through a propagated handler fault.
func LogPostFailed(logger *slog.Logger, result string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("event post failed",
		slog.String("result", result),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogHandlerSwallowed logs a handler fault that the bus policy absorbed.
func LogHandlerSwallowed(logger *slog.Logger, registrationID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("handler fault swallowed",
		slog.String("registration_id", registrationID),
		slog.String("error", err.Error()),
	)
}

// LogTaskRejected logs a submission an executor refused. The executor
// helpers expect a logger already carrying the executor name.
func LogTaskRejected(logger *slog.Logger, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("task rejected", slog.String("reason", reason))
}

// LogTaskPanic logs a recovered panic from a task body.
func LogTaskPanic(logger *slog.Logger, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("task panicked", slog.Any("panic", recovered))
}

// LogExecutorShutdown logs an executor lifecycle transition.
func LogExecutorShutdown(logger *slog.Logger, now bool, dropped int) {
	if logger == nil {
		return
	}
	logger.Info("executor shutting down",
		slog.Bool("immediate", now),
		slog.Int("dropped_tasks", dropped),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
