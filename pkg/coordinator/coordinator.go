// Package coordinator orchestrates a synchronized group of training
// workers: it distributes data shards, stands up the per-attempt rendezvous
// tracker, dispatches the parallel train calls, and restarts the entire
// group from the last checkpoint when a worker dies. Retry is all-or-
// nothing at the job level because the rendezvous protocol needs a fixed,
// fully-joined worker set.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/boostherd/boostherd/pkg/checkpoint"
	"github.com/boostherd/boostherd/pkg/common/logger"
	"github.com/boostherd/boostherd/pkg/engine"
	"github.com/boostherd/boostherd/pkg/observability/metrics"
	"github.com/boostherd/boostherd/pkg/rendezvous"
	"github.com/boostherd/boostherd/pkg/worker"
)

// RunJob trains one model across job.NumWorkers synchronized workers and
// returns the model plus its evaluation series. On a recoverable worker
// failure the whole group is torn down and restarted, up to
// job.MaxRestarts times, resuming from the last checkpoint each time.
func RunJob(ctx context.Context, job TrainingJob) (*engine.Result, error) {
	job.applyDefaults()
	if job.Train == nil {
		return nil, errors.New("training job needs a dataset handle")
	}

	if err := job.Runtime.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	if job.CheckpointPrefix == "" {
		job.CheckpointPrefix = checkpoint.AutoPrefix()
	}
	ckpt := checkpoint.NewManager(job.CheckpointDir, job.CheckpointPrefix)
	gpus := job.resolveGPUs()

	unbounded := job.MaxRestarts < 0
	attempts := 0
	var lastFailure *worker.Failure
	for tries := 0; unbounded || tries <= job.MaxRestarts; tries++ {
		// A canceled caller can never succeed; retrying would only spin
		// until the budget runs out.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		metrics.AttemptStarted()

		result, failure, err := runAttempt(ctx, &job, ckpt, gpus)
		if err != nil {
			metrics.JobFailed()
			return nil, err
		}
		if failure == nil {
			if !job.KeepCheckpoints {
				if err := ckpt.CleanupAll(job.NumWorkers); err != nil {
					logger.WithError(err).Warn("Failed to clean up checkpoints after successful run")
				}
			}
			metrics.JobCompleted()
			return result, nil
		}

		lastFailure = failure
		metrics.WorkerFailure()
		if unbounded || tries < job.MaxRestarts {
			metrics.JobRestart()
			logger.WithFields(map[string]interface{}{
				"rank":    failure.Rank,
				"kind":    string(failure.Kind),
				"attempt": attempts,
			}).Warn("A worker died during training. Restarting and continuing from the last checkpoint.")
		}
	}

	metrics.JobFailed()
	return nil, &RetryExhaustedError{
		Attempts:         attempts,
		CheckpointDir:    job.CheckpointDir,
		CheckpointPrefix: job.CheckpointPrefix,
		LastFailure:      lastFailure,
	}
}

// runAttempt executes one full attempt: spawn, distribute, rendezvous,
// train, collect. It returns (result, nil, nil) on success, (nil, failure,
// nil) on a recoverable worker failure, and a terminal error otherwise.
func runAttempt(ctx context.Context, job *TrainingJob, ckpt *checkpoint.Manager, gpus int) (*engine.Result, *worker.Failure, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := job.NumWorkers
	workers := make([]*worker.Worker, n)
	for rank := range workers {
		w, err := job.Runtime.NewWorker(rank, n, worker.Options{
			GPUs:                gpus,
			Checkpoint:          ckpt,
			CheckpointFrequency: job.CheckpointFrequency,
			Engine:              job.Engine,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("spawn worker %d: %w", rank, err)
		}
		workers[rank] = w
	}
	metrics.WorkersSpawned(n)
	logger.WithField("workers", n).Info("Created training workers")

	// Barrier 1: every worker holds its shard of every handle.
	g, loadCtx := errgroup.WithContext(attemptCtx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			if err := w.LoadShard(loadCtx, job.Train); err != nil {
				return err
			}
			for _, eval := range job.Evals {
				if err := w.LoadShard(loadCtx, eval.Handle); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return splitFailure(err)
	}
	logger.Info("Shards distributed. Starting synchronized training.")

	// One tracker per attempt; nothing survives into a retry.
	tracker := rendezvous.NewTracker(n)
	if err := tracker.Start(attemptCtx); err != nil {
		return nil, nil, fmt.Errorf("start rendezvous tracker: %w", err)
	}
	defer tracker.Shutdown(context.Background())

	env := tracker.Env()

	// Barrier 2: every train call returns. The first failure cancels the
	// attempt context, which unblocks peers stuck in collective calls.
	outcomes := make([]worker.Outcome, n)
	tg, trainCtx := errgroup.WithContext(attemptCtx)
	for rank, w := range workers {
		rank, w := rank, w
		taskID := fmt.Sprintf("%s:%s", rendezvous.TaskNamespace, uuid.NewString())
		tg.Go(func() error {
			outcomes[rank] = w.Train(trainCtx, worker.TrainRequest{
				Env:       env.WithTaskID(taskID),
				Params:    job.Params,
				Rounds:    job.Rounds,
				Train:     job.Train,
				Evals:     job.Evals,
				Callbacks: job.Callbacks,
			})
			if f := outcomes[rank].Failure; f != nil {
				return f
			}
			return nil
		})
	}
	if err := tg.Wait(); err != nil {
		// Prefer a non-recoverable cause over the secondary failures the
		// cancellation produced on healthy peers.
		for _, outcome := range outcomes {
			if outcome.Failure != nil && !outcome.Failure.Recoverable() {
				return nil, nil, outcome.Failure
			}
		}
		return splitFailure(err)
	}

	// All results are identical by construction; rank 0's is the job's.
	return outcomes[0].Result, nil, nil
}

// splitFailure routes a barrier error: recoverable worker failures feed the
// retry loop, everything else is terminal.
func splitFailure(err error) (*engine.Result, *worker.Failure, error) {
	var failure *worker.Failure
	if errors.As(err, &failure) && failure.Recoverable() {
		return nil, failure, nil
	}
	return nil, nil, err
}
