// Package orchestrator is the top-level façade spec.md §1 describes: it
// wires the store, record layer, saga/step managers, and dispatcher
// together into a single entry point a host application constructs
// once per process.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/FleekHQ/brokkr/pkg/brokkr/config"
	"github.com/FleekHQ/brokkr/pkg/brokkr/dispatcher"
	"github.com/FleekHQ/brokkr/pkg/brokkr/observability"
	"github.com/FleekHQ/brokkr/pkg/brokkr/record"
	"github.com/FleekHQ/brokkr/pkg/brokkr/saga"
	"github.com/FleekHQ/brokkr/pkg/brokkr/store"
	"github.com/FleekHQ/brokkr/pkg/brokkr/worker"
)

// Orchestrator is a handle to one namespace's worth of sagas, backed by
// a single store and driven by one dispatcher.
type Orchestrator struct {
	sagas      *saga.Manager
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// Options configures New. Cfg, when non-nil, supplies the dispatcher's
// tick interval, capacity, and unknown-worker policy via the keys
// "dispatcher.tick_interval", "dispatcher.capacity", and
// "dispatcher.fail_saga_on_unknown_worker" (spec.md §7); any key absent
// from Cfg falls back to the dispatcher package's defaults.
type Options struct {
	Namespace string
	Cfg       *config.Config
	Logger    *slog.Logger
	Metrics   observability.MetricsRecorder
	Spans     observability.SpanManager
}

// New constructs an Orchestrator over s, namespacing every record under
// namespace so multiple sagas/orchestrators can safely share one store.
func New(s store.Store, opts Options) *Orchestrator {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "brokkr"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	records := record.New(s, namespace)
	sagas := saga.NewManager(records)

	dispatcherOpts := []dispatcher.Option{dispatcher.WithLogger(logger)}
	if opts.Cfg != nil {
		dispatcherOpts = append(dispatcherOpts,
			dispatcher.WithTickInterval(opts.Cfg.Duration("dispatcher.tick_interval", 0)),
			dispatcher.WithCapacity(opts.Cfg.Int("dispatcher.capacity", 0)),
			dispatcher.WithFailSagaOnUnknownWorker(opts.Cfg.Bool("dispatcher.fail_saga_on_unknown_worker", true)),
		)
	}
	if opts.Metrics != nil {
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithMetrics(opts.Metrics))
	}
	if opts.Spans != nil {
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithSpanManager(opts.Spans))
	}

	return &Orchestrator{
		sagas:      sagas,
		dispatcher: dispatcher.New(dispatcherOpts...),
		logger:     logger,
	}
}

// RegisterWorker registers w so steps dispatched under w.Name() invoke it.
func (o *Orchestrator) RegisterWorker(w worker.Worker) {
	o.dispatcher.RegisterWorker(w)
}

// RegisterWorkers registers several workers at once.
func (o *Orchestrator) RegisterWorkers(workers ...worker.Worker) {
	o.dispatcher.RegisterWorkers(workers...)
}

// CreateSaga creates a new saga in Created and registers it with the
// dispatcher so it begins ticking once Start is called on it.
func (o *Orchestrator) CreateSaga(ctx context.Context) (*saga.Saga, error) {
	sg, err := o.sagas.Create(ctx)
	if err != nil {
		return nil, err
	}
	o.dispatcher.RegisterSaga(sg)
	return sg, nil
}

// GetSaga looks up a saga by id from the store, independent of whether
// it is currently registered with the dispatcher.
func (o *Orchestrator) GetSaga(ctx context.Context, id string) (*saga.Saga, error) {
	return o.sagas.Get(ctx, id)
}

// GetWorker looks up a registered worker by name.
func (o *Orchestrator) GetWorker(name string) (worker.Worker, bool) {
	return o.dispatcher.GetWorker(name)
}

// ListSagas returns every persisted saga.
func (o *Orchestrator) ListSagas(ctx context.Context) ([]*saga.Saga, error) {
	return o.sagas.List(ctx)
}

// Start begins the dispatcher's periodic tick loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.dispatcher.Start(ctx)
}

// Stop halts the dispatcher's tick loop. In-flight workers are not
// cancelled.
func (o *Orchestrator) Stop() {
	o.dispatcher.Stop()
}

// Wake prompts an immediate tick rather than waiting for the next timer
// firing, useful right after CreateSaga/Start to avoid a full tick
// interval of latency before the first step dispatches.
func (o *Orchestrator) Wake() {
	o.dispatcher.Wake()
}

// RestorePreviousState re-registers every persisted saga that is not in
// a terminal status with the dispatcher, so a restarted process resumes
// scheduling work left mid-flight by a previous one (spec.md §5,
// "Restart recovery").
func (o *Orchestrator) RestorePreviousState(ctx context.Context) (int, error) {
	sagas, err := o.sagas.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, sg := range sagas {
		switch sg.Status() {
		case saga.StatusFinished, saga.StatusFailed:
			continue
		default:
			o.dispatcher.RegisterSaga(sg)
			restored++
		}
	}
	return restored, nil
}
