// Package checkpoint derives and manages the per-rank checkpoint files a
// training job writes while it runs. File naming is a pure function of
// (dir, prefix, rank) so independent workers never contend for a path, and
// a resumed job finds the same files a crashed attempt left behind.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Ext is the model blob extension. Resume across implementations depends on
// the exact file name, so this never changes.
const Ext = ".xgb"

// Manager names, saves, loads, and cleans up rank checkpoints. An empty
// Prefix disables checkpointing entirely.
type Manager struct {
	Dir    string
	Prefix string
}

func NewManager(dir, prefix string) *Manager {
	if dir == "" {
		dir = "/tmp"
	}
	return &Manager{Dir: dir, Prefix: prefix}
}

// AutoPrefix generates a prefix unique across concurrent jobs sharing a
// checkpoint directory.
func AutoPrefix() string {
	return fmt.Sprintf(".boostherd_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// PathFor returns the checkpoint path for a rank, or false when
// checkpointing is disabled.
func (m *Manager) PathFor(rank int) (string, bool) {
	if m == nil || m.Prefix == "" {
		return "", false
	}
	return filepath.Join(m.Dir, fmt.Sprintf("%s_%05d%s", m.Prefix, rank, Ext)), true
}

func (m *Manager) Exists(rank int) bool {
	path, ok := m.PathFor(rank)
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) Save(rank int, blob []byte) error {
	path, ok := m.PathFor(rank)
	if !ok {
		return nil
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("save checkpoint for rank %d: %w", rank, err)
	}
	return nil
}

func (m *Manager) Load(rank int) ([]byte, error) {
	path, ok := m.PathFor(rank)
	if !ok {
		return nil, fmt.Errorf("checkpointing disabled, nothing to load for rank %d", rank)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for rank %d: %w", rank, err)
	}
	return blob, nil
}

// CleanupAll removes the checkpoint files of ranks 0..n-1. Missing files are
// not an error; a partial attempt may never have written some ranks.
func (m *Manager) CleanupAll(n int) error {
	for rank := 0; rank < n; rank++ {
		path, ok := m.PathFor(rank)
		if !ok {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove checkpoint for rank %d: %w", rank, err)
		}
	}
	return nil
}
