package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FleekHQ/brokkr/pkg/brokkr/worker"
)

type fakeHandle struct {
	finishedStepID string
	finishedResult  any
	failedStepID    string
}

func (h *fakeHandle) StepFinished(ctx context.Context, stepID string, result any) error {
	h.finishedStepID = stepID
	h.finishedResult = result
	return nil
}

func (h *fakeHandle) StepFailed(ctx context.Context, stepID string) error {
	h.failedStepID = stepID
	return nil
}

func TestFunc_NameAndRun(t *testing.T) {
	var gotArgs, gotDeps []any
	f := worker.Func{
		WorkerName: "Greet",
		Fn: func(ctx context.Context, args, dependencyArgs []any, h worker.Handle, stepID string) {
			gotArgs = args
			gotDeps = dependencyArgs
			require.NoError(t, h.StepFinished(ctx, stepID, "done"))
		},
	}

	assert.Equal(t, "Greet", f.Name())

	h := &fakeHandle{}
	f.Run(context.Background(), []any{"a"}, []any{"b"}, h, "step-1")

	assert.Equal(t, []any{"a"}, gotArgs)
	assert.Equal(t, []any{"b"}, gotDeps)
	assert.Equal(t, "step-1", h.finishedStepID)
	assert.Equal(t, "done", h.finishedResult)
}
