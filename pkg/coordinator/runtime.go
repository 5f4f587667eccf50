package coordinator

import (
	"sync"

	"github.com/boostherd/boostherd/pkg/common/logger"
	"github.com/boostherd/boostherd/pkg/worker"
)

// Runtime is the execution substrate workers run on. Init must be
// idempotent; a failed Init is fatal for the whole job.
type Runtime interface {
	Init() error
	NewWorker(rank, world int, opts worker.Options) (*worker.Worker, error)
}

// LocalRuntime runs every worker as an in-process goroutine-backed unit.
type LocalRuntime struct {
	initOnce sync.Once
}

func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{}
}

func (r *LocalRuntime) Init() error {
	r.initOnce.Do(func() {
		logger.Log.Debug("Local training runtime initialized")
	})
	return nil
}

func (r *LocalRuntime) NewWorker(rank, world int, opts worker.Options) (*worker.Worker, error) {
	return worker.New(rank, world, opts), nil
}
