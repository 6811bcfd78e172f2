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

// MetricsRecorder records brokkr metrics. Use NewMetricsRecorder() for
// OTel-backed metrics, or NoopMetrics{} when metrics are disabled.
type MetricsRecorder interface {
	// RecordStepDispatch records one dispatch of a step to workerName:
	// duration is how long the worker call took, and err is the error,
	// if any, that prevented the dispatch (e.g. an unknown worker).
	RecordStepDispatch(ctx context.Context, workerName string, duration time.Duration, err error)

	// RecordSagaRun records a saga reaching a terminal state.
	RecordSagaRun(ctx context.Context, success bool, duration time.Duration)

	// RecordTick records one dispatcher tick: its duration and the
	// current in-flight count immediately after the tick.
	RecordTick(ctx context.Context, duration time.Duration, inFlight int)
}

type otelMetrics struct {
	stepDispatches metric.Int64Counter
	stepLatency    metric.Float64Histogram
	stepErrors     metric.Int64Counter
	sagaRuns       metric.Int64Counter
	sagaLatency    metric.Float64Histogram
	tickLatency    metric.Float64Histogram
	inFlight       metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("brokkr")

	stepDispatches, err := meter.Int64Counter("brokkr.step.dispatches",
		metric.WithDescription("Number of steps dispatched to a worker"))
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("brokkr.step.latency_ms",
		metric.WithDescription("Step execution latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	stepErrors, err := meter.Int64Counter("brokkr.step.errors",
		metric.WithDescription("Number of step dispatches that failed"))
	if err != nil {
		return nil, err
	}

	sagaRuns, err := meter.Int64Counter("brokkr.saga.runs",
		metric.WithDescription("Number of sagas reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	sagaLatency, err := meter.Float64Histogram("brokkr.saga.latency_ms",
		metric.WithDescription("Saga end-to-end latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	tickLatency, err := meter.Float64Histogram("brokkr.dispatcher.tick.latency_ms",
		metric.WithDescription("Dispatcher tick duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64Histogram("brokkr.dispatcher.inflight",
		metric.WithDescription("In-flight step count at the end of a tick"))
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepDispatches: stepDispatches,
		stepLatency:    stepLatency,
		stepErrors:     stepErrors,
		sagaRuns:       sagaRuns,
		sagaLatency:    sagaLatency,
		tickLatency:    tickLatency,
		inFlight:       inFlight,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails, it falls back to a no-op
// recorder rather than failing orchestrator construction.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStepDispatch(ctx context.Context, workerName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("worker", workerName)}

	m.stepDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *otelMetrics) RecordSagaRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.Bool("success", success)}
	m.sagaRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sagaLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordTick(ctx context.Context, duration time.Duration, inFlight int) {
	m.tickLatency.Record(ctx, float64(duration.Milliseconds()))
	m.inFlight.Record(ctx, int64(inFlight))
}
