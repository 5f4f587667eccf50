// Package engine defines the contract between the coordination layer and a
// training engine. The coordinator treats the engine as a black box: it
// hands over local shards, a collective Comm, an optional resume blob, and
// an ordered callback list, and gets back an opaque model plus per-iteration
// evaluation metrics.
package engine

import (
	"context"
	"errors"

	"github.com/boostherd/boostherd/pkg/collective"
	"github.com/boostherd/boostherd/pkg/dataset"
)

// ErrInvalidParams marks a configuration error in the training parameters.
// The coordinator propagates these immediately instead of retrying: a bad
// parameter set fails identically on every attempt.
var ErrInvalidParams = errors.New("invalid training parameters")

// EvalSet pairs a named evaluation shard with its metric series key.
type EvalSet struct {
	Name  string
	Shard *dataset.Shard
}

// TrainSpec is everything one worker passes into a training run.
type TrainSpec struct {
	Params    map[string]interface{}
	Rounds    int
	Train     *dataset.Shard
	Evals     []EvalSet
	Resume    []byte
	Callbacks []Callback
	Comm      collective.Comm
}

// Result is the output of one worker's training run. The synchronization
// protocol guarantees Model and EvalMetrics are identical across ranks.
type Result struct {
	Model       []byte
	EvalMetrics map[string][]float64
}

type Engine interface {
	Train(ctx context.Context, spec TrainSpec) (*Result, error)
}

// IterationContext is handed to callbacks after each completed iteration.
// Snapshot serializes the model state as of this iteration on demand.
type IterationContext struct {
	Iteration   int
	Snapshot    func() ([]byte, error)
	EvalResults map[string]float64
}

// Callback observes training progress. Callbacks run in order after every
// iteration; an error aborts the run.
type Callback interface {
	Name() string
	AfterIteration(ic IterationContext) error
}

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc struct {
	CallbackName string
	Fn           func(ic IterationContext) error
}

func (c CallbackFunc) Name() string {
	return c.CallbackName
}

func (c CallbackFunc) AfterIteration(ic IterationContext) error {
	return c.Fn(ic)
}
