package dataset

import (
	"context"

	"github.com/google/uuid"
)

// MatrixHandle serves an in-memory feature matrix with one label per row.
type MatrixHandle struct {
	id       string
	features [][]float64
	labels   []float64
}

// NewMatrixHandle wraps an in-memory matrix under a fresh unique identity.
func NewMatrixHandle(features [][]float64, labels []float64) *MatrixHandle {
	return &MatrixHandle{
		id:       "matrix:" + uuid.NewString(),
		features: features,
		labels:   labels,
	}
}

// NewMatrixHandleWithID wraps a matrix under a caller-chosen identity so two
// handles over the same logical dataset can share a worker cache slot.
func NewMatrixHandleWithID(id string, features [][]float64, labels []float64) *MatrixHandle {
	return &MatrixHandle{id: id, features: features, labels: labels}
}

func (m *MatrixHandle) ID() string {
	return m.id
}

func (m *MatrixHandle) LoadShard(ctx context.Context, rank, world int) (*Shard, error) {
	if err := checkRank(rank, world); err != nil {
		return nil, err
	}
	if len(m.labels) == 0 {
		return nil, ErrEmptyDataset
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := stride(len(m.labels), rank, world)
	shard := &Shard{
		Features: make([][]float64, 0, len(idx)),
		Labels:   make([]float64, 0, len(idx)),
	}
	for _, i := range idx {
		shard.Features = append(shard.Features, m.features[i])
		shard.Labels = append(shard.Labels, m.labels[i])
	}
	return shard, nil
}
