// Package state persists the task store and reconciles it after a restart.
package state

import (
	"fmt"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

// Snapshotter stores and loads the full task list. Save replaces whatever
// was stored before; a reader never observes a partial snapshot.
type Snapshotter interface {
	Save(tasks []types.Task) error
	// Load returns nil and no error when nothing has been saved yet.
	Load() ([]types.Task, error)
	Path() string
	Close() error
}

// Reconcile prepares loaded tasks for a fresh process. Interrupted
// downloads become paused with their chunk progress kept, active chunks are
// marked cancelled, aggregates are recomputed and duplicate ids dropped.
func Reconcile(tasks []types.Task) []types.Task {
	seen := make(map[string]bool, len(tasks))
	out := make([]types.Task, 0, len(tasks))

	for _, t := range tasks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		t = t.Clone()
		if t.Status == types.StatusDownloading {
			t.Status = types.StatusPaused
		}
		var sum int64
		for i := range t.Chunks {
			if t.Chunks[i].State == types.WorkerActive {
				t.Chunks[i].State = types.WorkerCancelled
			}
			sum += t.Chunks[i].BytesWritten
		}
		t.Downloaded = sum
		out = append(out, t)
	}
	return out
}

// Open returns the snapshotter for a backend name ("json" or "sqlite") in dir.
func Open(backend, dir string) (Snapshotter, error) {
	switch backend {
	case "", "json":
		return NewJSONFile(dir), nil
	case "sqlite":
		db, err := OpenSQLite(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown persistence backend %q", backend)
}
