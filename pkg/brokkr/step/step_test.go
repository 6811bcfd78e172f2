package step_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
	"github.com/FleekHQ/brokkr/pkg/brokkr/record"
	"github.com/FleekHQ/brokkr/pkg/brokkr/step"
	"github.com/FleekHQ/brokkr/pkg/brokkr/store"
)

func newManager() *step.Manager {
	records := record.New(store.NewMemory(), "test")
	return step.NewManager(records)
}

func TestCreateFromSaga(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	s, err := m.CreateFromSaga(ctx, "saga-1", "ChargeCard", []any{"x"}, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "saga-1", s.SagaID)
	assert.Equal(t, step.StatusCreated, s.Status)
	assert.Equal(t, []string{}, s.DependsOn)
}

func TestCreateFromSaga_RequiresSagaID(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	_, err := m.CreateFromSaga(ctx, "", "W", nil, nil, "")
	var uninit *errs.UninitializedEntity
	require.ErrorAs(t, err, &uninit)
}

func TestEnqueue_NoDependencies(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	s, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)

	updated, err := m.Enqueue(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, step.StatusQueued, updated.Status)
	assert.Empty(t, updated.DependencyArgs)
}

func TestEnqueue_WithSatisfiedDependencies(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	step1, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)
	_, err = m.Finished(ctx, step1, map[string]any{"a": float64(1)})
	require.NoError(t, err)

	step2, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, []string{step1.ID}, "")
	require.NoError(t, err)

	updated, err := m.Enqueue(ctx, step2, []*step.Step{step1})
	require.NoError(t, err)
	assert.Equal(t, step.StatusQueued, updated.Status)
	require.Len(t, updated.DependencyArgs, 1)
	assert.Equal(t, map[string]any{"a": float64(1)}, updated.DependencyArgs[0])
}

func TestEnqueue_UnsatisfiedDependencyFails(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	step1, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)

	step2, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, []string{step1.ID}, "")
	require.NoError(t, err)

	_, err = m.Enqueue(ctx, step2, []*step.Step{step1})
	var invariant *errs.InvariantViolation
	require.ErrorAs(t, err, &invariant)
}

func TestFinished_RejectsNonEncodableResult(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	s, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)

	_, err = m.Finished(ctx, s, make(chan int))
	var encErr *errs.EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestAttachCompensatorAndRollback(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	parent, err := m.CreateFromSaga(ctx, "saga-1", "Create", []any{"A"}, nil, "")
	require.NoError(t, err)

	compensator, err := m.AttachCompensator(ctx, parent, "Destroy", nil)
	require.NoError(t, err)
	assert.Equal(t, step.StatusWaitingForCompensation, compensator.Status)
	assert.Equal(t, []string{parent.ID}, compensator.DependsOn)
	assert.Equal(t, compensator.ID, parent.CompensatorID)

	_, err = m.Finished(ctx, parent, map[string]any{"id": float64(42)})
	require.NoError(t, err)

	_, err = m.Rollback(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, step.StatusRolledBack, parent.Status)

	reloaded, err := m.Get(ctx, "saga-1", compensator.ID)
	require.NoError(t, err)
	assert.Equal(t, step.StatusQueued, reloaded.Status)
	require.Len(t, reloaded.DependencyArgs, 1)
	assert.Equal(t, map[string]any{"id": float64(42)}, reloaded.DependencyArgs[0])
}

func TestRollback_WithoutCompensator(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	s, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)
	_, err = m.Finished(ctx, s, nil)
	require.NoError(t, err)

	updated, err := m.Rollback(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, step.StatusRolledBack, updated.Status)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	_, err := m.CreateFromSaga(ctx, "saga-1", "W1", nil, nil, "")
	require.NoError(t, err)
	_, err = m.CreateFromSaga(ctx, "saga-1", "W2", nil, nil, "")
	require.NoError(t, err)
	_, err = m.CreateFromSaga(ctx, "saga-2", "W3", nil, nil, "")
	require.NoError(t, err)

	steps, err := m.List(ctx, "saga-1")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	s, err := m.CreateFromSaga(ctx, "saga-1", "W", nil, nil, "")
	require.NoError(t, err)

	updated, err := m.Fail(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, step.StatusFailed, updated.Status)
}
