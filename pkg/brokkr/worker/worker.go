// Package worker defines the callable contract the dispatcher invokes
// when a step is promoted to Running (spec.md §6.2).
package worker

import "context"

// Handle is passed to a Worker's Run so it can notify the saga of
// completion. It deliberately exposes only the two notification methods
// a worker needs — not the full saga.Saga surface — so a worker cannot
// reach into scheduling internals.
type Handle interface {
	StepFinished(ctx context.Context, stepID string, result any) error
	StepFailed(ctx context.Context, stepID string) error
}

// Worker is a named unit of work a saga step dispatches to. Dispatch is
// capability-based: any value satisfying Run can be registered under a
// name, there is no base type to embed.
//
// Run may return synchronously or launch its own goroutine; its return
// value is ignored by the dispatcher (spec.md §6.2 — the worker MUST
// eventually call Handle.StepFinished or Handle.StepFailed exactly once,
// failing to do so leaves the step stuck in Running).
type Worker interface {
	Name() string
	Run(ctx context.Context, args, dependencyArgs []any, saga Handle, stepID string)
}

// Func adapts a plain function to the Worker interface under a fixed
// name, the common case where a worker has no state of its own.
type Func struct {
	WorkerName string
	Fn         func(ctx context.Context, args, dependencyArgs []any, saga Handle, stepID string)
}

// Name returns the worker's registered name.
func (f Func) Name() string { return f.WorkerName }

// Run invokes the wrapped function.
func (f Func) Run(ctx context.Context, args, dependencyArgs []any, saga Handle, stepID string) {
	f.Fn(ctx, args, dependencyArgs, saga, stepID)
}
