package boost

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/boostherd/boostherd/pkg/collective"
	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/engine"
)

// y = 2*x0 + 1, exactly learnable by the linear booster.
func lineShard(n int) *dataset.Shard {
	shard := &dataset.Shard{}
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n)
		shard.Features = append(shard.Features, []float64{x})
		shard.Labels = append(shard.Labels, 2*x+1)
	}
	return shard
}

func trainSpec(rounds int, resume []byte) engine.TrainSpec {
	return engine.TrainSpec{
		Params: map[string]interface{}{"learning_rate": 0.5},
		Rounds: rounds,
		Train:  lineShard(32),
		Evals:  []engine.EvalSet{{Name: "validation", Shard: lineShard(16)}},
		Resume: resume,
		Comm:   collective.Loopback(),
	}
}

func TestTrainReducesLoss(t *testing.T) {
	eng := New()
	result, err := eng.Train(context.Background(), trainSpec(50, nil))
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	series := result.EvalMetrics["validation"]
	if len(series) != 50 {
		t.Fatalf("expected 50 eval points, got %d", len(series))
	}
	if series[len(series)-1] >= series[0] {
		t.Fatalf("rmse did not improve: first %f, last %f", series[0], series[len(series)-1])
	}

	var m Model
	if err := json.Unmarshal(result.Model, &m); err != nil {
		t.Fatalf("decode model: %v", err)
	}
	if m.Rounds != 50 {
		t.Fatalf("model records %d rounds, want 50", m.Rounds)
	}
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	eng := New()

	full, err := eng.Train(context.Background(), trainSpec(20, nil))
	if err != nil {
		t.Fatalf("full run: %v", err)
	}

	// Capture the snapshot at round 7, then resume it to round 20.
	var snap []byte
	spec := trainSpec(8, nil)
	spec.Callbacks = []engine.Callback{engine.CallbackFunc{
		CallbackName: "capture",
		Fn: func(ic engine.IterationContext) error {
			if ic.Iteration == 7 {
				var err error
				snap, err = ic.Snapshot()
				return err
			}
			return nil
		},
	}}
	if _, err := eng.Train(context.Background(), spec); err != nil {
		t.Fatalf("partial run: %v", err)
	}
	if snap == nil {
		t.Fatal("snapshot callback never fired")
	}

	resumed, err := eng.Train(context.Background(), trainSpec(20, snap))
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	if string(resumed.Model) != string(full.Model) {
		t.Fatalf("resumed model diverged:\n resumed %s\n full    %s", resumed.Model, full.Model)
	}
}

func TestResumeSkipsCompletedRounds(t *testing.T) {
	eng := New()
	first, err := eng.Train(context.Background(), trainSpec(10, nil))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	again, err := eng.Train(context.Background(), trainSpec(10, first.Model))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again.EvalMetrics["validation"]) != 0 {
		t.Fatal("fully-trained resume should run zero rounds")
	}
	if string(again.Model) != string(first.Model) {
		t.Fatal("no-op resume changed the model")
	}
}

func TestInvalidLearningRate(t *testing.T) {
	eng := New()
	for _, bad := range []interface{}{"fast", -1.0, map[string]string{}} {
		spec := trainSpec(5, nil)
		spec.Params = map[string]interface{}{"learning_rate": bad}
		_, err := eng.Train(context.Background(), spec)
		if !errors.Is(err, engine.ErrInvalidParams) {
			t.Fatalf("learning_rate=%v: got %v, want ErrInvalidParams", bad, err)
		}
	}
}

func TestCallbackOrderAndErrors(t *testing.T) {
	eng := New()
	var order []string
	mk := func(name string) engine.Callback {
		return engine.CallbackFunc{CallbackName: name, Fn: func(engine.IterationContext) error {
			order = append(order, name)
			return nil
		}}
	}

	spec := trainSpec(1, nil)
	spec.Callbacks = []engine.Callback{mk("first"), mk("second")}
	if _, err := eng.Train(context.Background(), spec); err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("callback order = %v", order)
	}

	boom := errors.New("boom")
	spec = trainSpec(5, nil)
	spec.Callbacks = []engine.Callback{engine.CallbackFunc{
		CallbackName: "failing",
		Fn:           func(engine.IterationContext) error { return boom },
	}}
	if _, err := eng.Train(context.Background(), spec); !errors.Is(err, boom) {
		t.Fatalf("expected callback error to abort training, got %v", err)
	}
}

func TestEmptyShardRejected(t *testing.T) {
	eng := New()
	spec := trainSpec(5, nil)
	spec.Train = &dataset.Shard{}
	if _, err := eng.Train(context.Background(), spec); !errors.Is(err, engine.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for empty shard, got %v", err)
	}
}
