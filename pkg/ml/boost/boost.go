// Package boost implements the reference training engine: an additive
// linear model fit by synchronized gradient descent on squared error. Every
// round each rank computes gradients over its own shard, the group
// sum-reduces them, and every rank applies the same global step, so model
// state stays bit-identical across workers without ever exchanging raw
// data. Training is deterministic: resuming from a round-k snapshot
// reproduces an uninterrupted run exactly.
package boost

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/boostherd/boostherd/pkg/dataset"
	"github.com/boostherd/boostherd/pkg/engine"
)

const (
	defaultLearningRate = 0.3
	defaultRounds       = 10
)

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// Model is the serialized state of a run. It doubles as the checkpoint
// format; everything outside this package treats it as an opaque blob.
type Model struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Rounds  int       `json:"rounds"`
}

func (e *Engine) Train(ctx context.Context, spec engine.TrainSpec) (*engine.Result, error) {
	lr, err := learningRate(spec.Params)
	if err != nil {
		return nil, err
	}
	rounds := spec.Rounds
	if rounds <= 0 {
		rounds = defaultRounds
	}
	if spec.Comm == nil {
		return nil, fmt.Errorf("%w: training requires a collective comm", engine.ErrInvalidParams)
	}
	if spec.Train == nil || spec.Train.Rows() == 0 {
		return nil, fmt.Errorf("%w: training shard is empty", engine.ErrInvalidParams)
	}

	dim := len(spec.Train.Features[0])
	state := &Model{Weights: make([]float64, dim)}
	if spec.Resume != nil {
		if err := json.Unmarshal(spec.Resume, state); err != nil {
			return nil, fmt.Errorf("decode resume model: %w", err)
		}
		if len(state.Weights) != dim {
			return nil, fmt.Errorf("%w: resume model has %d features, shard has %d", engine.ErrInvalidParams, len(state.Weights), dim)
		}
	}

	metrics := make(map[string][]float64, len(spec.Evals))
	for _, eval := range spec.Evals {
		metrics[eval.Name] = nil
	}

	for round := state.Rounds; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		grad := localGradient(state, spec.Train)
		global, err := spec.Comm.AllreduceSum(ctx, grad)
		if err != nil {
			return nil, fmt.Errorf("allreduce gradients at round %d: %w", round, err)
		}
		applyStep(state, global, lr)
		state.Rounds = round + 1

		evalResults, err := evaluate(ctx, state, spec)
		if err != nil {
			return nil, err
		}
		for _, eval := range spec.Evals {
			metrics[eval.Name] = append(metrics[eval.Name], evalResults[eval.Name])
		}

		ic := engine.IterationContext{
			Iteration:   round,
			Snapshot:    state.snapshot,
			EvalResults: evalResults,
		}
		for _, cb := range spec.Callbacks {
			if err := cb.AfterIteration(ic); err != nil {
				return nil, fmt.Errorf("callback %s at round %d: %w", cb.Name(), round, err)
			}
		}
	}

	blob, err := state.snapshot()
	if err != nil {
		return nil, err
	}
	return &engine.Result{Model: blob, EvalMetrics: metrics}, nil
}

func (m *Model) snapshot() ([]byte, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize model: %w", err)
	}
	return blob, nil
}

// Predict applies the model to one sample.
func (m *Model) Predict(sample []float64) float64 {
	sum := m.Bias
	for i, w := range m.Weights {
		sum += w * sample[i]
	}
	return sum
}

// localGradient lays out [dWeights..., dBias, sampleCount] so one reduce
// carries the whole round's contribution.
func localGradient(m *Model, shard *dataset.Shard) []float64 {
	dim := len(m.Weights)
	vec := make([]float64, dim+2)
	for i, sample := range shard.Features {
		residual := m.Predict(sample) - shard.Labels[i]
		for j, x := range sample {
			vec[j] += residual * x
		}
		vec[dim] += residual
	}
	vec[dim+1] = float64(shard.Rows())
	return vec
}

func applyStep(m *Model, global []float64, lr float64) {
	dim := len(m.Weights)
	total := global[dim+1]
	if total == 0 {
		return
	}
	for j := range m.Weights {
		m.Weights[j] -= lr * global[j] / total
	}
	m.Bias -= lr * global[dim] / total
}

// evaluate computes rmse per evaluation set, reduced across ranks so every
// worker reports the same series.
func evaluate(ctx context.Context, m *Model, spec engine.TrainSpec) (map[string]float64, error) {
	if len(spec.Evals) == 0 {
		return nil, nil
	}
	local := make([]float64, 2*len(spec.Evals))
	for i, eval := range spec.Evals {
		var sse float64
		for r, sample := range eval.Shard.Features {
			residual := m.Predict(sample) - eval.Shard.Labels[r]
			sse += residual * residual
		}
		local[2*i] = sse
		local[2*i+1] = float64(eval.Shard.Rows())
	}
	global, err := spec.Comm.AllreduceSum(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("allreduce eval metrics: %w", err)
	}
	out := make(map[string]float64, len(spec.Evals))
	for i, eval := range spec.Evals {
		if global[2*i+1] == 0 {
			out[eval.Name] = 0
			continue
		}
		out[eval.Name] = math.Sqrt(global[2*i] / global[2*i+1])
	}
	return out, nil
}

func learningRate(params map[string]interface{}) (float64, error) {
	raw, ok := params["learning_rate"]
	if !ok {
		return defaultLearningRate, nil
	}
	var lr float64
	switch v := raw.(type) {
	case float64:
		lr = v
	case float32:
		lr = float64(v)
	case int:
		lr = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: learning_rate %q is not numeric", engine.ErrInvalidParams, v)
		}
		lr = parsed
	default:
		return 0, fmt.Errorf("%w: learning_rate has unsupported type %T", engine.ErrInvalidParams, raw)
	}
	if lr <= 0 || math.IsNaN(lr) {
		return 0, fmt.Errorf("%w: learning_rate must be positive, got %v", engine.ErrInvalidParams, lr)
	}
	return lr, nil
}
