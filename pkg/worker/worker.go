// Package worker implements one rank of a synchronized training group. A
// worker owns its shard cache and runs exactly one training attempt; the
// coordinator is the only creator and destroyer of workers, and every call
// into a worker reports failure as a typed outcome rather than a panic
// escaping across the boundary.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/boostherd/boostherd/pkg/checkpoint"
	"github.com/boostherd/boostherd/pkg/collective"
	"github.com/boostherd/boostherd/pkg/common/logger"
	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/engine"
	"github.com/boostherd/boostherd/pkg/observability/metrics"
	"github.com/boostherd/boostherd/pkg/rendezvous"
)

type Options struct {
	GPUs                int
	Checkpoint          *checkpoint.Manager
	CheckpointFrequency int
	Engine              engine.Engine
}

type Worker struct {
	rank   int
	world  int
	gpus   int
	ckpt   *checkpoint.Manager
	freq   int
	engine engine.Engine

	// cache is keyed by Handle.ID(): explicit identity, not structural
	// equality, so equal-looking datasets never share a slot by accident.
	cache map[string]*dataset.Shard
}

func New(rank, world int, opts Options) *Worker {
	return &Worker{
		rank:   rank,
		world:  world,
		gpus:   opts.GPUs,
		ckpt:   opts.Checkpoint,
		freq:   opts.CheckpointFrequency,
		engine: opts.Engine,
		cache:  make(map[string]*dataset.Shard),
	}
}

func (w *Worker) Rank() int {
	return w.rank
}

// LoadShard materializes this rank's partition of the handle. Idempotent:
// the underlying load runs at most once per handle identity. Errors are
// typed *Failure values so the coordinator can tell a crashed load from a
// misconfigured dataset.
func (w *Worker) LoadShard(ctx context.Context, h dataset.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Rank: w.rank, Kind: FailureCrashed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if _, loadErr := w.shardFor(ctx, h); loadErr != nil {
		kind := FailureApplication
		if ctx.Err() != nil || errors.Is(loadErr, context.Canceled) || errors.Is(loadErr, context.DeadlineExceeded) {
			kind = FailureUnreachable
		}
		return &Failure{Rank: w.rank, Kind: kind, Err: loadErr}
	}
	return nil
}

func (w *Worker) shardFor(ctx context.Context, h dataset.Handle) (*dataset.Shard, error) {
	if shard, ok := w.cache[h.ID()]; ok {
		return shard, nil
	}
	shard, err := h.LoadShard(ctx, w.rank, w.world)
	if err != nil {
		return nil, fmt.Errorf("load shard %s for rank %d: %w", h.ID(), w.rank, err)
	}
	w.cache[h.ID()] = shard
	return shard, nil
}

// EvalHandle names an evaluation dataset for metric reporting.
type EvalHandle struct {
	Handle dataset.Handle
	Name   string
}

// TrainRequest carries everything one synchronized train call needs. Env
// must already hold this worker's unique task identifier.
type TrainRequest struct {
	Env       rendezvous.Environment
	Params    map[string]interface{}
	Rounds    int
	Train     dataset.Handle
	Evals     []EvalHandle
	Callbacks []engine.Callback
}

// Outcome is the typed result of a train call: exactly one of Result or
// Failure is set.
type Outcome struct {
	Result  *engine.Result
	Failure *Failure
}

// Train runs one synchronized training attempt on this rank. The rendezvous
// join happens before any collective communication and is torn down on
// every exit path; a panic anywhere inside surfaces as a crashed-worker
// outcome instead of taking the coordinator down.
func (w *Worker) Train(ctx context.Context, req TrainRequest) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Failure: &Failure{
				Rank: w.rank,
				Kind: FailureCrashed,
				Err:  fmt.Errorf("panic: %v", r),
			}}
		}
	}()

	spec := engine.TrainSpec{
		Params: req.Params,
		Rounds: req.Rounds,
	}

	var err error
	if spec.Train, err = w.shardFor(ctx, req.Train); err != nil {
		return Outcome{Failure: &Failure{Rank: w.rank, Kind: FailureApplication, Err: err}}
	}
	for _, eval := range req.Evals {
		shard, err := w.shardFor(ctx, eval.Handle)
		if err != nil {
			return Outcome{Failure: &Failure{Rank: w.rank, Kind: FailureApplication, Err: err}}
		}
		spec.Evals = append(spec.Evals, engine.EvalSet{Name: eval.Name, Shard: shard})
	}

	if w.ckpt.Exists(w.rank) {
		blob, err := w.ckpt.Load(w.rank)
		if err != nil {
			return Outcome{Failure: &Failure{Rank: w.rank, Kind: FailureApplication, Err: err}}
		}
		spec.Resume = blob
		logger.WithField("rank", w.rank).Info("Resuming training from checkpoint")
	}

	spec.Callbacks = append(spec.Callbacks, req.Callbacks...)
	spec.Callbacks = append(spec.Callbacks, w.saveCheckpointCallback())

	comm, err := collective.Join(ctx, req.Env, w.rank)
	if err != nil {
		return Outcome{Failure: w.classify(ctx, fmt.Errorf("join rendezvous: %w", err))}
	}
	defer comm.Close()
	spec.Comm = comm

	result, err := w.engine.Train(ctx, spec)
	if err != nil {
		return Outcome{Failure: w.classify(ctx, err)}
	}
	return Outcome{Result: result}
}

// classify maps an error from the training path onto the failure taxonomy.
// Parameter errors are configuration mistakes and never retried; everything
// else (a canceled attempt, a broken collective, an engine fault) counts as
// a recoverable worker failure.
func (w *Worker) classify(ctx context.Context, err error) *Failure {
	kind := FailureUnreachable
	if errors.Is(err, engine.ErrInvalidParams) {
		kind = FailureApplication
	} else if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		kind = FailureCrashed
	}
	return &Failure{Rank: w.rank, Kind: kind, Err: err}
}

// saveCheckpointCallback persists model state every freq-th iteration,
// counting from zero, mirroring the cadence a resumed attempt expects.
func (w *Worker) saveCheckpointCallback() engine.Callback {
	return engine.CallbackFunc{
		CallbackName: "save-checkpoint",
		Fn: func(ic engine.IterationContext) error {
			if w.freq <= 0 || ic.Iteration%w.freq != 0 {
				return nil
			}
			if _, enabled := w.ckpt.PathFor(w.rank); !enabled {
				return nil
			}
			blob, err := ic.Snapshot()
			if err != nil {
				return err
			}
			if err := w.ckpt.Save(w.rank, blob); err != nil {
				return err
			}
			metrics.CheckpointSaved()
			return nil
		},
	}
}
