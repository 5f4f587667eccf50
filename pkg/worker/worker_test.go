package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boostherd/boostherd/pkg/checkpoint"
	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/engine"
	"github.com/boostherd/boostherd/pkg/ml/boost"
	"github.com/boostherd/boostherd/pkg/rendezvous"
)

// countingHandle wraps a matrix handle and counts underlying loads.
type countingHandle struct {
	*dataset.MatrixHandle
	loads int
}

func (c *countingHandle) LoadShard(ctx context.Context, rank, world int) (*dataset.Shard, error) {
	c.loads++
	return c.MatrixHandle.LoadShard(ctx, rank, world)
}

func newCountingHandle(n int) *countingHandle {
	features := make([][]float64, n)
	labels := make([]float64, n)
	for i := range features {
		features[i] = []float64{float64(i)}
		labels[i] = float64(i)
	}
	return &countingHandle{MatrixHandle: dataset.NewMatrixHandle(features, labels)}
}

func TestLoadShardIdempotent(t *testing.T) {
	handle := newCountingHandle(12)
	w := New(0, 2, Options{Engine: boost.New()})

	for i := 0; i < 3; i++ {
		if err := w.LoadShard(context.Background(), handle); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	if handle.loads != 1 {
		t.Fatalf("underlying load ran %d times, want 1", handle.loads)
	}
}

func TestCacheKeyedByHandleIdentity(t *testing.T) {
	// Same rows, distinct identities: both must load.
	a := newCountingHandle(6)
	b := newCountingHandle(6)
	w := New(0, 1, Options{Engine: boost.New()})

	if err := w.LoadShard(context.Background(), a); err != nil {
		t.Fatalf("load a: %v", err)
	}
	if err := w.LoadShard(context.Background(), b); err != nil {
		t.Fatalf("load b: %v", err)
	}
	if a.loads != 1 || b.loads != 1 {
		t.Fatalf("loads = %d/%d, want 1/1", a.loads, b.loads)
	}
}

func startTracker(t *testing.T, world int) *rendezvous.Tracker {
	t.Helper()
	tracker := rendezvous.NewTracker(world)
	if err := tracker.Start(context.Background()); err != nil {
		t.Fatalf("start tracker: %v", err)
	}
	t.Cleanup(func() { tracker.Shutdown(context.Background()) })
	return tracker
}

func taskEnv(tracker *rendezvous.Tracker, rank int) rendezvous.Environment {
	return tracker.Env().WithTaskID(fmt.Sprintf("%s:test-%d", rendezvous.TaskNamespace, rank))
}

func TestTrainSingleWorker(t *testing.T) {
	tracker := startTracker(t, 1)
	ckpt := checkpoint.NewManager(t.TempDir(), "unit")
	w := New(0, 1, Options{Engine: boost.New(), Checkpoint: ckpt, CheckpointFrequency: 2})

	handle := newCountingHandle(16)
	outcome := w.Train(context.Background(), TrainRequest{
		Env:    taskEnv(tracker, 0),
		Params: map[string]interface{}{"learning_rate": 0.4},
		Rounds: 6,
		Train:  handle,
		Evals:  []EvalHandle{{Handle: newCountingHandle(8), Name: "validation"}},
	})
	if outcome.Failure != nil {
		t.Fatalf("train failed: %v", outcome.Failure)
	}
	if len(outcome.Result.Model) == 0 {
		t.Fatal("expected a model blob")
	}
	if len(outcome.Result.EvalMetrics["validation"]) != 6 {
		t.Fatalf("eval series length = %d, want 6", len(outcome.Result.EvalMetrics["validation"]))
	}
	// load-on-demand: train handle was never pre-distributed.
	if handle.loads != 1 {
		t.Fatalf("train handle loaded %d times, want 1", handle.loads)
	}
	// Iterations 0, 2 and 4 hit the save cadence.
	if !ckpt.Exists(0) {
		t.Fatal("expected a checkpoint on disk")
	}
}

func TestTrainInvalidParamsIsApplicationFailure(t *testing.T) {
	tracker := startTracker(t, 1)
	w := New(0, 1, Options{Engine: boost.New()})

	outcome := w.Train(context.Background(), TrainRequest{
		Env:    taskEnv(tracker, 0),
		Params: map[string]interface{}{"learning_rate": "warp-speed"},
		Rounds: 3,
		Train:  newCountingHandle(8),
	})
	if outcome.Failure == nil {
		t.Fatal("expected a failure")
	}
	if outcome.Failure.Kind != FailureApplication {
		t.Fatalf("failure kind = %s, want application", outcome.Failure.Kind)
	}
	if outcome.Failure.Recoverable() {
		t.Fatal("application failures must not be retried")
	}
	if !errors.Is(outcome.Failure, engine.ErrInvalidParams) {
		t.Fatalf("failure does not wrap ErrInvalidParams: %v", outcome.Failure)
	}
}

type panickingEngine struct{}

func (panickingEngine) Train(ctx context.Context, spec engine.TrainSpec) (*engine.Result, error) {
	panic("segfault in native code")
}

func TestTrainPanicIsCrashedFailure(t *testing.T) {
	tracker := startTracker(t, 1)
	w := New(0, 1, Options{Engine: panickingEngine{}})

	outcome := w.Train(context.Background(), TrainRequest{
		Env:    taskEnv(tracker, 0),
		Rounds: 3,
		Train:  newCountingHandle(8),
	})
	if outcome.Failure == nil || outcome.Failure.Kind != FailureCrashed {
		t.Fatalf("outcome = %+v, want crashed failure", outcome)
	}
	if !outcome.Failure.Recoverable() {
		t.Fatal("crashed failures must be recoverable")
	}
}

func TestTrainCanceledContextIsUnreachable(t *testing.T) {
	tracker := startTracker(t, 2) // never completes the barrier
	w := New(0, 2, Options{Engine: boost.New()})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	outcome := w.Train(ctx, TrainRequest{
		Env:    taskEnv(tracker, 0),
		Rounds: 3,
		Train:  newCountingHandle(8),
	})
	if outcome.Failure == nil || outcome.Failure.Kind != FailureUnreachable {
		t.Fatalf("outcome = %+v, want unreachable failure", outcome)
	}
}

func TestTrainMissingDatasetIsApplicationFailure(t *testing.T) {
	tracker := startTracker(t, 1)
	w := New(0, 1, Options{Engine: boost.New()})

	outcome := w.Train(context.Background(), TrainRequest{
		Env:    taskEnv(tracker, 0),
		Rounds: 3,
		Train:  dataset.NewCSVHandle("/nonexistent/train.csv"),
	})
	if outcome.Failure == nil || outcome.Failure.Kind != FailureApplication {
		t.Fatalf("outcome = %+v, want application failure", outcome)
	}
}
