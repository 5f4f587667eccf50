package rendezvous_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boostherd/boostherd/pkg/collective"
	"github.com/boostherd/boostherd/pkg/rendezvous"
)

func TestEnvironmentKeys(t *testing.T) {
	tracker := rendezvous.NewTracker(3)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Shutdown(context.Background())

	env := tracker.Env()
	if env.WorldSize() != 3 {
		t.Fatalf("world size = %d, want 3", env.WorldSize())
	}
	if env[rendezvous.EnvTrackerHost] == "" || env[rendezvous.EnvTrackerPort] == "" {
		t.Fatalf("missing tracker address keys: %v", env)
	}
	if _, ok := env[rendezvous.EnvTaskID]; ok {
		t.Fatal("shared environment must not carry a task id")
	}

	withTask := env.WithTaskID(rendezvous.TaskNamespace + ":w0")
	if withTask[rendezvous.EnvTaskID] != "[boostherd]:w0" {
		t.Fatalf("task id = %q", withTask[rendezvous.EnvTaskID])
	}
	if _, ok := env[rendezvous.EnvTaskID]; ok {
		t.Fatal("WithTaskID mutated the shared environment")
	}
}

func TestJoinBarrierAndAllreduce(t *testing.T) {
	const world = 4
	tracker := rendezvous.NewTracker(world)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([][]float64, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			env := tracker.Env().WithTaskID(fmt.Sprintf("%s:w%d", rendezvous.TaskNamespace, rank))
			comm, err := collective.Join(ctx, env, rank)
			if err != nil {
				errs[rank] = err
				return
			}
			defer comm.Close()
			results[rank], errs[rank] = comm.AllreduceSum(ctx, []float64{float64(rank), 1})
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	// sum of ranks 0..3 = 6, count = 4, on every rank.
	for rank, vec := range results {
		if len(vec) != 2 || vec[0] != 6 || vec[1] != 4 {
			t.Fatalf("rank %d allreduce = %v, want [6 4]", rank, vec)
		}
	}

	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not finish after all workers left")
	}
}

func TestBarrierHoldsUntilAllJoin(t *testing.T) {
	tracker := rendezvous.NewTracker(2)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Shutdown(context.Background())

	env := tracker.Env().WithTaskID(rendezvous.TaskNamespace + ":only")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := collective.Join(ctx, env, 0); err == nil {
		t.Fatal("lone worker should stay blocked at the barrier")
	}
}

func TestPeerDisappearanceUnblocksReduce(t *testing.T) {
	const world = 2
	tracker := rendezvous.NewTracker(world)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tracker.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	comms := make([]collective.Comm, world)
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			env := tracker.Env().WithTaskID(fmt.Sprintf("%s:w%d", rendezvous.TaskNamespace, rank))
			comm, err := collective.Join(ctx, env, rank)
			if err != nil {
				t.Errorf("rank %d join: %v", rank, err)
				return
			}
			comms[rank] = comm
		}(rank)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	// Rank 1 vanishes without contributing; rank 0's pending reduce must
	// fail rather than hang.
	comms[1].Close()
	if _, err := comms[0].AllreduceSum(ctx, []float64{1}); err == nil {
		t.Fatal("expected reduce to fail after peer disappeared")
	}
	comms[0].Close()
}

func TestShutdownIsBestEffort(t *testing.T) {
	tracker := rendezvous.NewTracker(3)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Nobody ever joins; Shutdown must still return promptly.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	tracker.Shutdown(ctx)
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("shutdown took %v", elapsed)
	}
}
