// Package dispatcher implements the periodic, non-reentrant scheduling
// tick (spec.md §4.5): it scans every registered saga, promotes Queued
// steps into in-flight slots up to a process-wide capacity bound,
// invokes worker callbacks fire-and-forget, and reaps slots whose step
// has left Running.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
	"github.com/FleekHQ/brokkr/pkg/brokkr/observability"
	"github.com/FleekHQ/brokkr/pkg/brokkr/registry"
	"github.com/FleekHQ/brokkr/pkg/brokkr/saga"
	"github.com/FleekHQ/brokkr/pkg/brokkr/step"
	"github.com/FleekHQ/brokkr/pkg/brokkr/worker"
)

const (
	defaultTickInterval = time.Second
	defaultCapacity     = 25
)

// options holds the configured shape of a Dispatcher; set via Option
// functions passed to New.
type options struct {
	tickInterval            time.Duration
	capacity                int
	failSagaOnUnknownWorker bool
	logger                  *slog.Logger
	metrics                 observability.MetricsRecorder
	spans                   observability.SpanManager
}

func defaultOptions() options {
	return options{
		tickInterval:            defaultTickInterval,
		capacity:                defaultCapacity,
		failSagaOnUnknownWorker: true,
		logger:                  slog.Default(),
		metrics:                 observability.NoopMetrics{},
		spans:                   observability.NoopSpanManager{},
	}
}

// Option configures a Dispatcher at construction time.
type Option func(*options)

// WithTickInterval sets the period between ticks. Default: 1s.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithCapacity sets the process-wide in-flight step bound, shared across
// every registered saga. Default: 25.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithFailSagaOnUnknownWorker controls the unknown-worker policy
// (spec.md §7): true (default) fails the step via the saga's
// compensation cascade; false leaves the step Queued and only logs.
func WithFailSagaOnUnknownWorker(enabled bool) Option {
	return func(o *options) {
		o.failSagaOnUnknownWorker = enabled
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager. Default:
// observability.NoopSpanManager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(o *options) {
		if sm != nil {
			o.spans = sm
		}
	}
}

// inFlightKey uniquely identifies a step across every registered saga —
// step ids are only unique within their own saga (spec.md §3), so the
// in-flight tracker keys on the pair.
type inFlightKey struct {
	sagaID string
	stepID string
}

// Dispatcher is the tick-driven scheduler. Construct with New, register
// workers and sagas, then Start it.
type Dispatcher struct {
	opts options

	sagas     *registry.Registry[string, *saga.Saga]
	sagaStart *registry.Registry[string, time.Time]
	workers   *registry.Registry[string, worker.Worker]
	inFlight  *registry.Registry[inFlightKey, struct{}]

	ticking atomic.Bool

	wake chan struct{}

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool
}

// New creates a Dispatcher. It does not start ticking until Start is
// called.
func New(opts ...Option) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Dispatcher{
		opts:      o,
		sagas:     registry.New[string, *saga.Saga](),
		sagaStart: registry.New[string, time.Time](),
		workers:   registry.New[string, worker.Worker](),
		inFlight:  registry.New[inFlightKey, struct{}](),
		wake:      make(chan struct{}, 1),
	}
}

// RegisterWorker adds w to the worker registry under w.Name().
func (d *Dispatcher) RegisterWorker(w worker.Worker) {
	d.workers.Register(w.Name(), w)
}

// RegisterWorkers adds several workers at once.
func (d *Dispatcher) RegisterWorkers(workers ...worker.Worker) {
	for _, w := range workers {
		d.RegisterWorker(w)
	}
}

// GetWorker looks up a registered worker by name.
func (d *Dispatcher) GetWorker(name string) (worker.Worker, bool) {
	return d.workers.Get(name)
}

// RegisterSaga adds s to the set of sagas scanned on every tick, and
// wires s's wake callback to d.Wake so stepFinished/stepFailed ping this
// dispatcher directly after persisting their step transition (spec.md §9).
func (d *Dispatcher) RegisterSaga(s *saga.Saga) {
	d.sagas.Register(s.ID(), s)
	d.sagaStart.Register(s.ID(), time.Now())
	s.SetWakeFunc(d.Wake)
}

// GetSaga looks up a registered saga by id.
func (d *Dispatcher) GetSaga(id string) (*saga.Saga, bool) {
	return d.sagas.Get(id)
}

// Wake signals the dispatcher to run a tick soon, without waiting for
// the next timer firing. It is best-effort and non-blocking: if a wake
// is already pending, this call is a silent no-op. The polling tick
// remains the correctness backstop (spec.md §9) — Wake is purely a
// latency optimization for same-process completions.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start begins the periodic tick loop in a background goroutine. Calling
// Start on an already-started Dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.ticker = time.NewTicker(d.opts.tickInterval)
	d.stopCh = make(chan struct{})
	d.running = true
	ticker, stopCh := d.ticker, d.stopCh
	d.mu.Unlock()

	go d.loop(ctx, ticker, stopCh)
}

// Stop halts further ticks. Already-dispatched workers are not
// cancelled; Queued steps remain Queued across a Stop/Start cycle
// (spec.md §5).
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.ticker.Stop()
	close(d.stopCh)
	d.running = false
}

func (d *Dispatcher) loop(ctx context.Context, ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runTick(ctx)
		case <-d.wake:
			d.runTick(ctx)
		}
	}
}

// runTick enforces non-reentrance: if a tick is already in flight, this
// firing is dropped rather than queued (spec.md §5's "cornerstone").
func (d *Dispatcher) runTick(ctx context.Context) {
	if !d.ticking.CompareAndSwap(false, true) {
		return
	}
	defer d.ticking.Store(false)

	elapsed := observability.TimedOperation()
	observability.LogTickStart(d.opts.logger, d.sagas.Len())

	dispatched, reaped := d.tick(ctx)

	durationMs := elapsed()
	observability.LogTickComplete(d.opts.logger, durationMs, dispatched, reaped)
	d.opts.metrics.RecordTick(ctx, time.Duration(durationMs)*time.Millisecond, d.inFlight.Len())
}

// tick runs one pass of spec.md §4.5 steps 1-5 across every registered
// saga, returning the number of steps dispatched and slots reaped.
func (d *Dispatcher) tick(ctx context.Context) (dispatched, reaped int) {
	var toDeregister []string
	terminalStatus := make(map[string]saga.Status)
	terminalStep := make(map[string]string)

	d.sagas.Range(func(sagaID string, s *saga.Saga) bool {
		status := s.Status()

		steps, err := s.Steps(ctx)
		if err != nil {
			observability.LogStoreError(d.opts.logger, "Steps", err)
			return true
		}

		for _, st := range steps {
			key := inFlightKey{sagaID: sagaID, stepID: st.ID}

			if d.inFlight.Has(key) {
				if st.Status != step.StatusRunning {
					d.inFlight.Delete(key)
					reaped++
				}
				continue
			}

			if st.Status != step.StatusQueued {
				continue
			}
			if d.inFlight.Len() >= d.opts.capacity {
				continue
			}

			d.inFlight.Register(key, struct{}{})
			d.dispatchStep(ctx, s, st)
			dispatched++
		}

		if status == saga.StatusFinished || status == saga.StatusFailed {
			toDeregister = append(toDeregister, sagaID)
			terminalStatus[sagaID] = status
			if status == saga.StatusFailed {
				for _, st := range steps {
					if st.Status == step.StatusFailed {
						terminalStep[sagaID] = st.ID
						break
					}
				}
			}
		}
		return true
	})

	for _, id := range toDeregister {
		_, span := d.opts.spans.StartSagaSpan(ctx, id)

		success := terminalStatus[id] != saga.StatusFailed
		var duration time.Duration
		if start, ok := d.sagaStart.Get(id); ok {
			duration = time.Since(start)
		}
		d.opts.metrics.RecordSagaRun(ctx, success, duration)

		if success {
			observability.LogSagaFinished(d.opts.logger, id)
			d.opts.spans.EndSpanWithError(span, nil)
		} else {
			observability.LogSagaFailed(d.opts.logger, id, terminalStep[id])
			d.opts.spans.EndSpanWithError(span, fmt.Errorf("saga failed at step %s", terminalStep[id]))
		}

		d.sagas.Delete(id)
		d.sagaStart.Delete(id)
	}

	return dispatched, reaped
}

// dispatchStep transitions st to Running before invoking its worker
// (spec.md §4.5 step 4, "dispatch-before-invoke"), then calls the worker
// fire-and-forget: the dispatcher does not await it, completion arrives
// out-of-band via s.StepFinished/s.StepFailed.
func (d *Dispatcher) dispatchStep(ctx context.Context, s *saga.Saga, st *step.Step) {
	w, ok := d.workers.Get(st.WorkerName)
	if !ok {
		unknownErr := &errs.UnknownWorker{WorkerName: st.WorkerName, StepID: st.ID}
		observability.LogUnknownWorker(d.opts.logger, s.ID(), st.ID, st.WorkerName, d.opts.failSagaOnUnknownWorker)
		d.opts.metrics.RecordStepDispatch(ctx, st.WorkerName, 0, unknownErr)
		d.inFlight.Delete(inFlightKey{sagaID: s.ID(), stepID: st.ID})

		if d.opts.failSagaOnUnknownWorker {
			if err := s.StepFailed(ctx, st.ID); err != nil {
				observability.LogStoreError(d.opts.logger, "StepFailed", err)
			}
		}
		return
	}

	spanCtx, span := d.opts.spans.StartStepSpan(ctx, st.ID, st.WorkerName)

	if err := s.DispatchStep(ctx, st.ID); err != nil {
		d.opts.spans.EndSpanWithError(span, err)
		observability.LogStoreError(d.opts.logger, "DispatchStep", err)
		d.inFlight.Delete(inFlightKey{sagaID: s.ID(), stepID: st.ID})
		return
	}

	observability.LogStepDispatched(d.opts.logger, s.ID(), st.ID, st.WorkerName)

	start := time.Now()
	go func() {
		defer func() {
			d.opts.metrics.RecordStepDispatch(ctx, st.WorkerName, time.Since(start), nil)
			d.opts.spans.EndSpanWithError(span, nil)
		}()
		w.Run(spanCtx, st.Args, st.DependencyArgs, s, st.ID)
	}()
}
