package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// CSVHandle serves a CSV file of float columns where the last column is the
// label. The file is parsed once, on the first LoadShard call; the handle's
// identity is its path, so two handles over the same file share cache slots.
type CSVHandle struct {
	path string

	once sync.Once
	rows [][]float64
	err  error
}

func NewCSVHandle(path string) *CSVHandle {
	return &CSVHandle{path: path}
}

func (c *CSVHandle) ID() string {
	return "csv:" + c.path
}

func (c *CSVHandle) LoadShard(ctx context.Context, rank, world int) (*Shard, error) {
	if err := checkRank(rank, world); err != nil {
		return nil, err
	}
	c.once.Do(func() {
		c.rows, c.err = readFloatCSV(c.path)
	})
	if c.err != nil {
		return nil, c.err
	}
	if len(c.rows) == 0 {
		return nil, ErrEmptyDataset
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := stride(len(c.rows), rank, world)
	shard := &Shard{
		Features: make([][]float64, 0, len(idx)),
		Labels:   make([]float64, 0, len(idx)),
	}
	for _, i := range idx {
		row := c.rows[i]
		shard.Features = append(shard.Features, row[:len(row)-1])
		shard.Labels = append(shard.Labels, row[len(row)-1])
	}
	return shard, nil
}

func readFloatCSV(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}

	rows := make([][]float64, 0, len(records))
	for lineNo, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("dataset %s line %d: need at least one feature and a label", path, lineNo+1)
		}
		row := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset %s line %d column %d: %w", path, lineNo+1, i+1, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
