// Package dataset defines the handle contract workers use to pull their
// shard of a logical dataset. A handle is identity-bearing: caching layers
// key on ID(), never on structural equality of the underlying data.
package dataset

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyDataset = errors.New("dataset has no rows")

// Shard is the materialized partition one worker trains on.
type Shard struct {
	Features [][]float64
	Labels   []float64
}

// Rows returns the number of samples in the shard.
func (s *Shard) Rows() int {
	return len(s.Labels)
}

// Handle references a logical dataset and hands out per-rank partitions.
// LoadShard must be deterministic: for a fixed world size the shards of
// ranks 0..world-1 are pairwise disjoint and their union is the whole set.
type Handle interface {
	ID() string
	LoadShard(ctx context.Context, rank, world int) (*Shard, error)
}

// stride selects the row indices owned by rank out of n rows: every
// world-th row starting at rank. Disjoint across ranks, covers all rows.
func stride(n, rank, world int) []int {
	idx := make([]int, 0, (n+world-1)/world)
	for i := rank; i < n; i += world {
		idx = append(idx, i)
	}
	return idx
}

func checkRank(rank, world int) error {
	if world <= 0 {
		return fmt.Errorf("world size must be positive, got %d", world)
	}
	if rank < 0 || rank >= world {
		return fmt.Errorf("rank %d out of range [0, %d)", rank, world)
	}
	return nil
}
