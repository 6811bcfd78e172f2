package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/FleekHQ/brokkr/pkg/brokkr/orchestrator"
	"github.com/FleekHQ/brokkr/pkg/brokkr/record"
	"github.com/FleekHQ/brokkr/pkg/brokkr/saga"
	"github.com/FleekHQ/brokkr/pkg/brokkr/step"
	"github.com/FleekHQ/brokkr/pkg/brokkr/store"
)

// benchmarkTickChain measures the cost of a single
// Tick call promoting the next link of an n-step dependency chain from
// Created to Queued, repeated by finishing each link and re-ticking.
func benchmarkTickChain(b *testing.B, n int) {
	ctx := context.Background()
	records := store.NewMemory()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		mgr := saga.NewManager(record.New(records, fmt.Sprintf("bench-%d", i)))
		sg, err := mgr.Create(ctx)
		if err != nil {
			b.Fatal(err)
		}
		var prev string
		for j := 0; j < n; j++ {
			deps := []string{}
			if prev != "" {
				deps = []string{prev}
			}
			st, err := sg.AddStep(ctx, "W", nil, deps)
			if err != nil {
				b.Fatal(err)
			}
			prev = st.ID
		}
		b.StartTimer()

		if err := sg.Start(ctx); err != nil {
			b.Fatal(err)
		}
		for j := 0; j < n; j++ {
			steps, err := sg.Steps(ctx)
			if err != nil {
				b.Fatal(err)
			}
			var queued string
			for _, st := range steps {
				if st.Status == step.StatusQueued {
					queued = st.ID
					break
				}
			}
			if err := sg.StepFinished(ctx, queued, nil); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkTick_Chain_5(b *testing.B)  { benchmarkTickChain(b, 5) }
func BenchmarkTick_Chain_20(b *testing.B) { benchmarkTickChain(b, 20) }
func BenchmarkTick_Chain_50(b *testing.B) { benchmarkTickChain(b, 50) }

// benchmarkSagaCreate measures the cost of creating a saga and adding a
// chain of n dependent steps.
func benchmarkSagaCreate(b *testing.B, n int) {
	ctx := context.Background()
	orch := orchestrator.New(store.NewMemory(), orchestrator.Options{Namespace: "bench"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sg, err := orch.CreateSaga(ctx)
		if err != nil {
			b.Fatal(err)
		}
		var prev string
		for j := 0; j < n; j++ {
			deps := []string{}
			if prev != "" {
				deps = []string{prev}
			}
			st, err := sg.AddStep(ctx, fmt.Sprintf("W%d", j), nil, deps)
			if err != nil {
				b.Fatal(err)
			}
			prev = st.ID
		}
	}
}

func BenchmarkSagaCreate_Chain_5(b *testing.B)  { benchmarkSagaCreate(b, 5) }
func BenchmarkSagaCreate_Chain_20(b *testing.B) { benchmarkSagaCreate(b, 20) }
