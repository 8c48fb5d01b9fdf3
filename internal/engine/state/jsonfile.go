package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// JSONFileName is the snapshot file inside the state directory.
const JSONFileName = "tasks.json"

type jsonSnapshot struct {
	Version int          `json:"version"`
	Tasks   []types.Task `json:"tasks"`
}

// JSONFile keeps the task list in one JSON document replaced atomically.
type JSONFile struct {
	path string
}

// NewJSONFile returns a snapshotter writing to dir/tasks.json.
func NewJSONFile(dir string) *JSONFile {
	return &JSONFile{path: filepath.Join(dir, JSONFileName)}
}

func (j *JSONFile) Path() string { return j.path }

func (j *JSONFile) Close() error { return nil }

// Save writes to a temp file in the same directory, syncs it and renames it
// over the snapshot.
func (j *JSONFile) Save(tasks []types.Task) error {
	if tasks == nil {
		tasks = []types.Task{}
	}
	data, err := json.MarshalIndent(jsonSnapshot{Version: SnapshotVersion, Tasks: tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, JSONFileName+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (j *JSONFile) Load() ([]types.Task, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap jsonSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion)
	}
	return snap.Tasks, nil
}
