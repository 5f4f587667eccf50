package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func makeMatrix(n int) ([][]float64, []float64) {
	features := make([][]float64, n)
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		features[i] = []float64{float64(i), float64(i * 2)}
		labels[i] = float64(i)
	}
	return features, labels
}

func TestShardsPartitionDataset(t *testing.T) {
	const rows = 103
	features, labels := makeMatrix(rows)
	handle := NewMatrixHandle(features, labels)

	for _, world := range []int{1, 2, 5, 17} {
		seen := map[float64]int{}
		total := 0
		for rank := 0; rank < world; rank++ {
			shard, err := handle.LoadShard(context.Background(), rank, world)
			if err != nil {
				t.Fatalf("world %d rank %d: %v", world, rank, err)
			}
			total += shard.Rows()
			for _, label := range shard.Labels {
				seen[label]++
			}
		}
		if total != rows {
			t.Fatalf("world %d: shards cover %d rows, want %d", world, total, rows)
		}
		for label, count := range seen {
			if count != 1 {
				t.Fatalf("world %d: row %v assigned to %d ranks", world, label, count)
			}
		}
		if len(seen) != rows {
			t.Fatalf("world %d: %d distinct rows, want %d", world, len(seen), rows)
		}
	}
}

func TestShardDeterministic(t *testing.T) {
	features, labels := makeMatrix(20)
	handle := NewMatrixHandle(features, labels)

	first, err := handle.LoadShard(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := handle.LoadShard(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Rows() != second.Rows() {
		t.Fatalf("shard sizes differ: %d vs %d", first.Rows(), second.Rows())
	}
	for i := range first.Labels {
		if first.Labels[i] != second.Labels[i] {
			t.Fatalf("row %d differs between loads", i)
		}
	}
}

func TestLoadShardRejectsBadRank(t *testing.T) {
	features, labels := makeMatrix(4)
	handle := NewMatrixHandle(features, labels)

	if _, err := handle.LoadShard(context.Background(), 4, 4); err == nil {
		t.Fatal("expected error for rank == world")
	}
	if _, err := handle.LoadShard(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error for zero world size")
	}
}

func TestCSVHandleShards(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")

	var data string
	for i := 0; i < 10; i++ {
		data += fmt.Sprintf("%d,%d,%d\n", i, i*2, i%2)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	handle := NewCSVHandle(path)
	if handle.ID() != "csv:"+path {
		t.Fatalf("unexpected handle id %q", handle.ID())
	}

	total := 0
	for rank := 0; rank < 3; rank++ {
		shard, err := handle.LoadShard(context.Background(), rank, 3)
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
		total += shard.Rows()
		for _, row := range shard.Features {
			if len(row) != 2 {
				t.Fatalf("expected 2 features per row, got %d", len(row))
			}
		}
	}
	if total != 10 {
		t.Fatalf("shards cover %d rows, want 10", total)
	}
}

func TestCSVHandleMissingFile(t *testing.T) {
	handle := NewCSVHandle(filepath.Join(t.TempDir(), "nope.csv"))
	if _, err := handle.LoadShard(context.Background(), 0, 1); err == nil {
		t.Fatal("expected error for missing file")
	}
}
