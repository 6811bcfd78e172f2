// Package saga implements the per-saga state machine: DAG readiness
// computation (tick), completion/failure notification, and the
// compensation cascade. A Saga owns no concurrency of its own beyond
// fanning out step transitions within a single tick or cascade and
// awaiting them — the dispatcher is what drives tick on a schedule.
package saga

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
	"github.com/FleekHQ/brokkr/pkg/brokkr/record"
	"github.com/FleekHQ/brokkr/pkg/brokkr/step"
)

// Status is a saga's position in its state machine.
type Status string

// Saga status constants (spec.md §3).
const (
	StatusUninitialized Status = "Uninitialized"
	StatusCreated       Status = "Created"
	StatusRunning       Status = "Running"
	StatusFinished      Status = "Finished"
	StatusFailed        Status = "Failed"
)

const sagaTable = "saga"

// sagaRecord is the JSON shape persisted for a saga.
type sagaRecord struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Saga is a handle to one persisted DAG of steps. All mutating methods
// persist before returning; a Saga holds no state that isn't either
// immutable (ID) or re-derivable from the store (Status is cached but
// always refreshed on write).
type Saga struct {
	mu     sync.Mutex
	id     string
	status Status

	records *record.Layer
	steps   *step.Manager

	// wake, if set, is pinged after StepFinished and StepFailed persist
	// their step transition so a same-process dispatcher can react before its next
	// timer fire (spec.md §9's optional wake optimization). Nil by
	// default: a Saga obtained outside a dispatcher (e.g. in tests) never
	// calls it.
	wake func()
}

// SetWakeFunc installs fn as s's wake callback. The dispatcher calls this
// when registering a saga so stepFinished/stepFailed can ping it directly
// instead of relying solely on the next polling tick.
func (s *Saga) SetWakeFunc(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wake = fn
}

// Manager creates and loads Saga handles for one namespace.
type Manager struct {
	records *record.Layer
	steps   *step.Manager
}

// NewManager creates a saga Manager backed by records, sharing the same
// record.Layer with the step.Manager so both write through one store.
func NewManager(records *record.Layer) *Manager {
	return &Manager{records: records, steps: step.NewManager(records)}
}

// Create persists a new saga in status Created and returns a handle.
func (m *Manager) Create(ctx context.Context) (*Saga, error) {
	id := "saga-" + uuid.New().String()[:8]

	fields := map[string]any{
		"status": StatusCreated,
	}
	if _, err := m.records.CreateWithID(ctx, sagaTable, id, fields); err != nil {
		return nil, err
	}

	return &Saga{id: id, status: StatusCreated, records: m.records, steps: m.steps}, nil
}

// Get loads a saga handle by id.
func (m *Manager) Get(ctx context.Context, id string) (*Saga, error) {
	rec, err := m.records.Get(ctx, sagaTable, id)
	if err != nil {
		return nil, err
	}
	sr, err := decodeSagaRecord(rec)
	if err != nil {
		return nil, err
	}
	return &Saga{id: sr.ID, status: sr.Status, records: m.records, steps: m.steps}, nil
}

// List loads every persisted saga.
func (m *Manager) List(ctx context.Context) ([]*Saga, error) {
	ids, err := m.records.GetIds(ctx, sagaTable)
	if err != nil {
		return nil, err
	}
	recs, err := m.records.GetMultiple(ctx, sagaTable, ids)
	if err != nil {
		return nil, err
	}

	sagas := make([]*Saga, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		sr, err := decodeSagaRecord(rec)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, &Saga{id: sr.ID, status: sr.Status, records: m.records, steps: m.steps})
	}
	return sagas, nil
}

// ID returns the saga's persisted id.
func (s *Saga) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status returns the saga's last-known status. It reflects the state as
// of the last operation this handle performed or observed; concurrent
// mutation from another handle on the same saga is not reflected until
// the caller re-Gets it.
func (s *Saga) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AddStep creates a new step in Created, owned by this saga. The caller
// is responsible for dependsOn referring only to earlier steps of the
// same saga (spec.md §3 invariant 1, acyclicity by construction).
func (s *Saga) AddStep(ctx context.Context, workerName string, args []any, dependsOn []string) (*step.Step, error) {
	if s.ID() == "" {
		return nil, &errs.UninitializedEntity{Kind: "saga", Op: "saga.AddStep"}
	}
	return s.steps.CreateFromSaga(ctx, s.ID(), workerName, args, dependsOn, "")
}

// Start transitions the saga to Running and runs the first tick.
func (s *Saga) Start(ctx context.Context) error {
	if err := s.setStatus(ctx, StatusRunning); err != nil {
		return err
	}
	return s.Tick(ctx)
}

// Steps returns every step belonging to this saga, in unspecified order.
// The dispatcher uses this each tick to find Queued work; callers
// needing a specific step's compensator or dependency chain can look it
// up in the returned slice by id.
func (s *Saga) Steps(ctx context.Context) ([]*step.Step, error) {
	return s.steps.List(ctx, s.ID())
}

// DispatchStep transitions a Queued step to Running. The dispatcher
// calls this immediately before invoking the step's worker (spec.md
// §4.5 step 4, "dispatch-before-invoke").
func (s *Saga) DispatchStep(ctx context.Context, stepID string) error {
	st, err := s.steps.Get(ctx, s.ID(), stepID)
	if err != nil {
		return err
	}
	_, err = s.steps.Dispatch(ctx, st)
	return err
}

// AttachCompensator attaches a compensator step to target, so that when
// target is rolled back during a failure cascade the compensator is
// enqueued automatically.
func (s *Saga) AttachCompensator(ctx context.Context, target *step.Step, workerName string, args []any) (*step.Step, error) {
	return s.steps.AttachCompensator(ctx, target, workerName, args)
}

// Tick runs the scheduling algorithm (spec.md §4.4): it loads every step,
// promotes every step whose dependencies are all satisfied from Created
// to Queued, and marks the saga Finished if no step remains unqueued. A
// saga not in Running returns immediately.
func (s *Saga) Tick(ctx context.Context) error {
	if s.Status() != StatusRunning {
		return nil
	}

	steps, err := s.steps.List(ctx, s.ID())
	if err != nil {
		return err
	}

	byID := make(map[string]*step.Step, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}

	var unqueued []*step.Step
	for _, st := range steps {
		if st.Status == step.StatusCreated {
			unqueued = append(unqueued, st)
		}
	}

	if len(unqueued) == 0 {
		return s.setStatus(ctx, StatusFinished)
	}

	var ready []*step.Step
	for _, st := range unqueued {
		if isReady(st, byID) {
			ready = append(ready, st)
		}
	}

	if len(ready) == 0 {
		return nil
	}

	return enqueueAll(ctx, s.steps, ready, byID)
}

// isReady reports whether every dependency of st is Finished. A
// RolledBack dependency does NOT satisfy readiness for promotion out of
// Created (spec.md §4.4 step 3) — RolledBack only satisfies an already
// in-flight Enqueue call, e.g. a compensator's sole dependency.
func isReady(st *step.Step, byID map[string]*step.Step) bool {
	for _, depID := range st.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != step.StatusFinished {
			return false
		}
	}
	return true
}

// enqueueAll enqueues every step in ready concurrently, collecting their
// dependency records from byID, and awaits all before returning.
func enqueueAll(ctx context.Context, steps *step.Manager, ready []*step.Step, byID map[string]*step.Step) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(ready))

	for _, st := range ready {
		st := st
		deps := make([]*step.Step, len(st.DependsOn))
		for i, depID := range st.DependsOn {
			deps[i] = byID[depID]
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := steps.Enqueue(ctx, st, deps); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// StepFinished transitions step stepID to Finished with result, then
// re-ticks so dependents unblocked by this completion become Queued.
func (s *Saga) StepFinished(ctx context.Context, stepID string, result any) error {
	st, err := s.steps.Get(ctx, s.ID(), stepID)
	if err != nil {
		return err
	}

	if _, err := s.steps.Finished(ctx, st, result); err != nil {
		return err
	}
	s.pingWake()

	return s.Tick(ctx)
}

// StepFailed runs the failure cascade (spec.md §4.4 "Failure semantics"):
// the saga transitions to Failed first (so concurrent ticks return
// early), the failing step transitions to Failed, and every step
// currently Finished is rolled back in parallel (each rollback may
// enqueue a compensator).
func (s *Saga) StepFailed(ctx context.Context, stepID string) error {
	if err := s.setStatus(ctx, StatusFailed); err != nil {
		return err
	}

	failing, err := s.steps.Get(ctx, s.ID(), stepID)
	if err != nil {
		return err
	}
	if _, err := s.steps.Fail(ctx, failing); err != nil {
		return err
	}
	s.pingWake()

	steps, err := s.steps.List(ctx, s.ID())
	if err != nil {
		return err
	}

	var toRollback []*step.Step
	for _, st := range steps {
		if st.Status == step.StatusFinished {
			toRollback = append(toRollback, st)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(toRollback))
	for _, st := range toRollback {
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.steps.Rollback(ctx, st); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// pingWake calls the installed wake callback, if any. Best-effort: the
// callback itself (dispatcher.Wake) is non-blocking, so this never stalls
// the caller that just persisted a step transition.
func (s *Saga) pingWake() {
	s.mu.Lock()
	wake := s.wake
	s.mu.Unlock()
	if wake != nil {
		wake()
	}
}

func (s *Saga) setStatus(ctx context.Context, status Status) error {
	if s.ID() == "" {
		return &errs.UninitializedEntity{Kind: "saga", Op: "saga.setStatus"}
	}

	if _, err := s.records.Update(ctx, sagaTable, s.ID(), map[string]any{"status": status}); err != nil {
		return err
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return nil
}

func decodeSagaRecord(rec map[string]any) (*sagaRecord, error) {
	id, _ := rec["id"].(string)
	statusStr, _ := rec["status"].(string)
	return &sagaRecord{ID: id, Status: Status(statusStr)}, nil
}
