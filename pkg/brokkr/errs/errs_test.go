package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
)

func TestCategorize(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want errs.Category
	}{
		{"store", &errs.StoreError{Op: "get", Table: "saga", Err: errors.New("boom")}, errs.CategoryTransient},
		{"encoding", &errs.EncodingError{Value: func() {}, Err: errors.New("boom")}, errs.CategoryProgrammerError},
		{"uninitialized", &errs.UninitializedEntity{Kind: "saga", Op: "start"}, errs.CategoryProgrammerError},
		{"unknown worker", &errs.UnknownWorker{WorkerName: "X", StepID: "1"}, errs.CategoryPolicy},
		{"invariant", &errs.InvariantViolation{Detail: "dep not satisfied"}, errs.CategoryProgrammerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errs.Categorize(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, errs.IsRetryable(&errs.StoreError{Op: "set", Table: "saga", Err: errors.New("x")}))
	assert.False(t, errs.IsRetryable(&errs.InvariantViolation{Detail: "x"}))
}

func TestStoreError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &errs.StoreError{Op: "get", Table: "saga", Err: inner}
	assert.ErrorIs(t, err, inner)
}
