// Package observability provides structured logging, OpenTelemetry
// metrics, and distributed tracing for the saga scheduling engine. All
// features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger with saga_id and step_id fields attached,
// so every subsequent log line from a single step dispatch carries its
// full identity without repeating it at each call site.
func EnrichLogger(logger *slog.Logger, sagaID, stepID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
	)
}

// LogTickStart logs the beginning of a dispatcher tick.
func LogTickStart(logger *slog.Logger, registeredSagas int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatcher tick starting", slog.Int("registered_sagas", registeredSagas))
}

// LogTickComplete logs a completed dispatcher tick.
func LogTickComplete(logger *slog.Logger, durationMs float64, dispatched, reaped int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatcher tick completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("dispatched", dispatched),
		slog.Int("reaped", reaped),
	)
}

// LogSagaFinished logs successful saga completion.
func LogSagaFinished(logger *slog.Logger, sagaID string) {
	if logger == nil {
		return
	}
	logger.Info("saga finished", slog.String("saga_id", sagaID))
}

// LogSagaFailed logs saga failure and the triggering step.
func LogSagaFailed(logger *slog.Logger, sagaID, failingStepID string) {
	if logger == nil {
		return
	}
	logger.Error("saga failed",
		slog.String("saga_id", sagaID),
		slog.String("failing_step_id", failingStepID),
	)
}

// LogStepDispatched logs a step's transition to Running.
func LogStepDispatched(logger *slog.Logger, sagaID, stepID, workerName string) {
	if logger == nil {
		return
	}
	logger.Debug("step dispatched",
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
		slog.String("worker", workerName),
	)
}

// LogUnknownWorker logs a step whose workerName could not be resolved.
func LogUnknownWorker(logger *slog.Logger, sagaID, stepID, workerName string, failed bool) {
	if logger == nil {
		return
	}
	logger.Warn("unknown worker",
		slog.String("saga_id", sagaID),
		slog.String("step_id", stepID),
		slog.String("worker", workerName),
		slog.Bool("saga_failed", failed),
	)
}

// LogStoreError logs a store failure encountered during a tick. The
// dispatcher logs and continues to the next tick rather than propagating
// the error (spec.md §7).
func LogStoreError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("store error during tick",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function that, when called, yields the elapsed
// time in milliseconds since TimedOperation was invoked.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
