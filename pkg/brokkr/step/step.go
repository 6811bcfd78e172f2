// Package step implements the per-step state machine and its persisted
// transitions: create, enqueue, finish, fail, rollback, attach
// compensator. Steps are persisted one table per saga
// ("saga_step_<sagaId>") through the record layer; this package owns the
// JSON shape of a step record and the legality of its transitions, but
// knows nothing about sibling steps or DAG readiness — that is the
// saga package's job.
package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
	"github.com/FleekHQ/brokkr/pkg/brokkr/record"
)

// Status is a step's position in its state machine.
type Status string

// Step status constants (spec.md §4.3).
const (
	StatusUninitialized          Status = "Uninitialized"
	StatusCreated                Status = "Created"
	StatusWaitingForCompensation Status = "WaitingForCompensation"
	StatusQueued                 Status = "Queued"
	StatusRunning                Status = "Running"
	StatusFinished               Status = "Finished"
	StatusFailed                 Status = "Failed"
	StatusRolledBack             Status = "RolledBack"
)

// Step is one node in a saga's DAG.
type Step struct {
	ID             string   `json:"id"`
	SagaID         string   `json:"sagaId"`
	WorkerName     string   `json:"workerName"`
	Args           []any    `json:"args"`
	DependsOn      []string `json:"dependsOn"`
	Status         Status   `json:"status"`
	CompensatorID  string   `json:"compensatorId,omitempty"`
	Result         any      `json:"result,omitempty"`
	DependencyArgs []any    `json:"dependencyArgs,omitempty"`
}

// table returns the per-saga step table name, before namespacing: spec.md
// §3 "Step records for saga S live in a dedicated table saga_step_<S>".
func table(sagaID string) string {
	return fmt.Sprintf("saga_step_%s", sagaID)
}

// Manager persists and transitions steps for one namespace's worth of
// sagas via a record.Layer.
type Manager struct {
	records *record.Layer
}

// NewManager creates a step Manager backed by records.
func NewManager(records *record.Layer) *Manager {
	return &Manager{records: records}
}

// CreateFromSaga creates a step record in Created, or in initialStatus
// if it is non-empty (used for compensator creation, where the caller
// passes WaitingForCompensation so the record is born already waiting).
func (m *Manager) CreateFromSaga(ctx context.Context, sagaID, workerName string, args []any, dependsOn []string, initialStatus Status) (*Step, error) {
	if sagaID == "" {
		return nil, &errs.UninitializedEntity{Kind: "saga", Op: "step.CreateFromSaga"}
	}

	status := StatusCreated
	if initialStatus != "" {
		status = initialStatus
	}

	if dependsOn == nil {
		dependsOn = []string{}
	}
	if args == nil {
		args = []any{}
	}

	fields := map[string]any{
		"sagaId":     sagaID,
		"workerName": workerName,
		"args":       args,
		"dependsOn":  dependsOn,
		"status":     status,
	}

	stored, err := m.records.Create(ctx, table(sagaID), fields)
	if err != nil {
		return nil, err
	}
	return fromRecord(stored)
}

// AttachCompensator creates a new step depending solely on s, in
// WaitingForCompensation, then patches s.CompensatorID to point at it.
// Fails with UninitializedEntity if s has no id.
func (m *Manager) AttachCompensator(ctx context.Context, s *Step, workerName string, args []any) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.AttachCompensator"}
	}

	compensator, err := m.CreateFromSaga(ctx, s.SagaID, workerName, args, []string{s.ID}, StatusWaitingForCompensation)
	if err != nil {
		return nil, err
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{"compensatorId": compensator.ID})
	if err != nil {
		return nil, err
	}
	*s = *updated

	return compensator, nil
}

// Enqueue transitions s from Created or WaitingForCompensation to Queued,
// filling dependencyArgs from deps (which must be positionally aligned
// with s.DependsOn and each be Finished or RolledBack). Returns
// InvariantViolation if any dependency is not satisfied.
func (m *Manager) Enqueue(ctx context.Context, s *Step, deps []*Step) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.Enqueue"}
	}
	if len(deps) != len(s.DependsOn) {
		return nil, &errs.InvariantViolation{
			Detail: fmt.Sprintf("step %s: expected %d dependency records, got %d", s.ID, len(s.DependsOn), len(deps)),
		}
	}

	dependencyArgs := make([]any, len(deps))
	for i, d := range deps {
		if d == nil || (d.Status != StatusFinished && d.Status != StatusRolledBack) {
			return nil, &errs.InvariantViolation{
				Detail: fmt.Sprintf("step %s: dependency %s is not satisfied", s.ID, s.DependsOn[i]),
			}
		}
		dependencyArgs[i] = d.Result
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{
		"status":         StatusQueued,
		"dependencyArgs": dependencyArgs,
	})
	if err != nil {
		return nil, err
	}
	*s = *updated
	return s, nil
}

// Dispatch transitions s from Queued to Running. Called by the
// dispatcher before invoking the step's worker (spec.md §4.3,
// "Queued --dispatch--> Running (Dispatcher)").
func (m *Manager) Dispatch(ctx context.Context, s *Step) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.Dispatch"}
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{"status": StatusRunning})
	if err != nil {
		return nil, err
	}
	*s = *updated
	return s, nil
}

// Finished transitions s to Finished, recording result.
func (m *Manager) Finished(ctx context.Context, s *Step, result any) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.Finished"}
	}
	if result != nil {
		if _, err := json.Marshal(result); err != nil {
			return nil, &errs.EncodingError{Value: result, Err: err}
		}
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{
		"status": StatusFinished,
		"result": result,
	})
	if err != nil {
		return nil, err
	}
	*s = *updated
	return s, nil
}

// Fail transitions s to Failed.
func (m *Manager) Fail(ctx context.Context, s *Step) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.Fail"}
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{"status": StatusFailed})
	if err != nil {
		return nil, err
	}
	*s = *updated
	return s, nil
}

// Rollback transitions s (which must be Finished) to RolledBack. If s has
// a compensator attached, the compensator is loaded and enqueued with s's
// result as its sole dependency arg — its one dependency (s) is now
// RolledBack, which Enqueue treats as satisfied.
func (m *Manager) Rollback(ctx context.Context, s *Step) (*Step, error) {
	if s == nil || s.ID == "" {
		return nil, &errs.UninitializedEntity{Kind: "step", Op: "step.Rollback"}
	}

	updated, err := m.patch(ctx, s.SagaID, s.ID, map[string]any{"status": StatusRolledBack})
	if err != nil {
		return nil, err
	}
	*s = *updated

	if s.CompensatorID == "" {
		return s, nil
	}

	compensator, err := m.Get(ctx, s.SagaID, s.CompensatorID)
	if err != nil {
		return nil, err
	}

	if _, err := m.Enqueue(ctx, compensator, []*Step{s}); err != nil {
		return nil, err
	}

	return s, nil
}

// Get fetches one step by id.
func (m *Manager) Get(ctx context.Context, sagaID, stepID string) (*Step, error) {
	rec, err := m.records.Get(ctx, table(sagaID), stepID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// List fetches every step belonging to sagaID, in unspecified order.
func (m *Manager) List(ctx context.Context, sagaID string) ([]*Step, error) {
	ids, err := m.records.GetIds(ctx, table(sagaID))
	if err != nil {
		return nil, err
	}

	recs, err := m.records.GetMultiple(ctx, table(sagaID), ids)
	if err != nil {
		return nil, err
	}

	steps := make([]*Step, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		s, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (m *Manager) patch(ctx context.Context, sagaID, stepID string, patch map[string]any) (*Step, error) {
	rec, err := m.records.Update(ctx, table(sagaID), stepID, patch)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

func fromRecord(rec map[string]any) (*Step, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("step: re-encode record: %w", err)
	}
	var s Step
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("step: decode record: %w", err)
	}
	return &s, nil
}
