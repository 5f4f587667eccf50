package coordinator

import (
	"strings"

	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/engine"
	"github.com/boostherd/boostherd/pkg/ml/boost"
	"github.com/boostherd/boostherd/pkg/worker"
)

const (
	defaultNumWorkers          = 4
	defaultCheckpointDir       = "/tmp"
	defaultCheckpointFrequency = 5

	// GPUAuto derives the per-worker GPU count from the training
	// parameters. The zero value behaves the same way, so an
	// unspecified GPUsPerWorker is automatic.
	GPUAuto = -1

	// RestartsUnbounded retries forever on worker failure.
	RestartsUnbounded = -1
)

// TrainingJob is the immutable configuration of one RunJob invocation. The
// zero value of every optional field means "use the default"; only Train is
// mandatory. CheckpointPrefix is the one field RunJob fills in itself when
// unset, with a collision-free generated prefix.
type TrainingJob struct {
	Params map[string]interface{}
	Train  dataset.Handle
	Evals  []worker.EvalHandle

	NumWorkers    int
	GPUsPerWorker int // GPUAuto derives from Params
	MaxRestarts   int // 0 = no retry, RestartsUnbounded = retry forever
	Rounds        int

	CheckpointPrefix    string
	CheckpointDir       string
	CheckpointFrequency int
	// KeepCheckpoints leaves the final checkpoint files on disk after a
	// successful run instead of cleaning them up.
	KeepCheckpoints bool

	Callbacks []engine.Callback

	// Engine defaults to the built-in boosted linear engine.
	Engine engine.Engine
	// Runtime defaults to the in-process local runtime.
	Runtime Runtime
}

func (job *TrainingJob) applyDefaults() {
	if job.NumWorkers <= 0 {
		job.NumWorkers = defaultNumWorkers
	}
	if job.CheckpointDir == "" {
		job.CheckpointDir = defaultCheckpointDir
	}
	if job.CheckpointFrequency == 0 {
		job.CheckpointFrequency = defaultCheckpointFrequency
	}
	if job.Engine == nil {
		job.Engine = boost.New()
	}
	if job.Runtime == nil {
		job.Runtime = NewLocalRuntime()
	}
}

// resolveGPUs implements the auto default: no GPUs unless the parameters
// select a GPU-accelerated training mode.
func (job *TrainingJob) resolveGPUs() int {
	if job.GPUsPerWorker > 0 {
		return job.GPUsPerWorker
	}
	if method, ok := job.Params["tree_method"].(string); ok && strings.HasPrefix(method, "gpu") {
		return 1
	}
	return 0
}
