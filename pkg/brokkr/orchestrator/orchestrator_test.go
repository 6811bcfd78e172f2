package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FleekHQ/brokkr/pkg/brokkr/config"
	"github.com/FleekHQ/brokkr/pkg/brokkr/orchestrator"
	"github.com/FleekHQ/brokkr/pkg/brokkr/saga"
	"github.com/FleekHQ/brokkr/pkg/brokkr/step"
	"github.com/FleekHQ/brokkr/pkg/brokkr/store"
	"github.com/FleekHQ/brokkr/pkg/brokkr/worker"
)

type echoWorker struct{ name string }

func (w *echoWorker) Name() string { return w.name }
func (w *echoWorker) Run(ctx context.Context, args, dependencyArgs []any, h worker.Handle, stepID string) {
	_ = h.StepFinished(ctx, stepID, map[string]any{"echoed": args})
}

func findStep(steps []*step.Step, id string) *step.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func TestOrchestrator_CreateRunAndFinish(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	orch := orchestrator.New(s, orchestrator.Options{})
	orch.RegisterWorker(&echoWorker{name: "Echo"})

	sg, err := orch.CreateSaga(ctx)
	require.NoError(t, err)
	_, err = sg.AddStep(ctx, "Echo", []any{"x"}, nil)
	require.NoError(t, err)
	require.NoError(t, sg.Start(ctx))

	orch.Start(ctx)
	defer orch.Stop()
	orch.Wake()

	require.Eventually(t, func() bool {
		return sg.Status() == saga.StatusFinished
	}, time.Second, 5*time.Millisecond)
}

// TestOrchestrator_RestartRecovery is spec.md §8 scenario 6: a second
// Orchestrator over the same store only re-registers non-terminal sagas.
func TestOrchestrator_RestartRecovery(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	first := orchestrator.New(s, orchestrator.Options{Namespace: "restart-test"})
	first.RegisterWorker(&echoWorker{name: "Echo"})

	finishedSaga, err := first.CreateSaga(ctx)
	require.NoError(t, err)
	_, err = finishedSaga.AddStep(ctx, "Echo", nil, nil)
	require.NoError(t, err)
	require.NoError(t, finishedSaga.Start(ctx))

	first.Start(ctx)
	first.Wake()
	require.Eventually(t, func() bool {
		return finishedSaga.Status() == saga.StatusFinished
	}, time.Second, 5*time.Millisecond)
	first.Stop()

	midFlightSaga, err := first.CreateSaga(ctx)
	require.NoError(t, err)
	_, err = midFlightSaga.AddStep(ctx, "NeverRegistered", nil, nil)
	require.NoError(t, err)
	require.NoError(t, midFlightSaga.Start(ctx))
	// Never ticked with a dispatcher running, so it stays Running with
	// its step Queued — simulating a process crash mid-execution.

	second := orchestrator.New(s, orchestrator.Options{
		Namespace: "restart-test",
		Cfg:       nil,
	})
	restored, err := second.RestorePreviousState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	reloadedFinished, err := second.GetSaga(ctx, finishedSaga.ID())
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFinished, reloadedFinished.Status())

	reloadedMidFlight, err := second.GetSaga(ctx, midFlightSaga.ID())
	require.NoError(t, err)
	assert.Equal(t, saga.StatusRunning, reloadedMidFlight.Status())

	steps, err := reloadedMidFlight.Steps(ctx)
	require.NoError(t, err)
	got := findStep(steps, steps[0].ID)
	require.NotNil(t, got)
	assert.Equal(t, step.StatusQueued, got.Status)
}

func TestOrchestrator_ListSagas(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	orch := orchestrator.New(s, orchestrator.Options{})

	first, err := orch.CreateSaga(ctx)
	require.NoError(t, err)
	second, err := orch.CreateSaga(ctx)
	require.NoError(t, err)

	sagas, err := orch.ListSagas(ctx)
	require.NoError(t, err)
	require.Len(t, sagas, 2)

	ids := []string{sagas[0].ID(), sagas[1].ID()}
	assert.ElementsMatch(t, []string{first.ID(), second.ID()}, ids)
}

func TestOrchestrator_WiresConfigIntoDispatcher(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	cfg := config.New(map[string]any{
		"dispatcher.tick_interval":                "5ms",
		"dispatcher.capacity":                     3,
		"dispatcher.fail_saga_on_unknown_worker":  false,
	})
	orch := orchestrator.New(s, orchestrator.Options{Cfg: &cfg})
	_, err := orch.CreateSaga(ctx)
	require.NoError(t, err)

	orch.Start(ctx)
	defer orch.Stop()
	// No assertion beyond "construction with a populated config does not
	// panic and the dispatcher ticks" — behavioral coverage of the
	// tick_interval/capacity/policy values themselves lives in
	// dispatcher_test.go.
	time.Sleep(20 * time.Millisecond)
}
