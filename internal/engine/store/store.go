// Package store holds the canonical in-memory state of every download task.
//
// The map of tasks is guarded by one RWMutex that is held only for lookups
// and structural changes. Each task has its own mutex, so progress updates
// for different tasks never contend with each other.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// ChangeKind classifies a store mutation.
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota
	ChangeProgress
	ChangeStatus
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeProgress:
		return "progress"
	case ChangeStatus:
		return "status"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// Change describes one successful mutation.
type Change struct {
	Kind ChangeKind
	ID   string
}

// Observer is called after every successful mutation, outside any task lock.
// Observers must not block.
type Observer func(Change)

// Plan carries the probe results written into a queued task.
type Plan struct {
	Filename      string
	DestPath      string
	TotalSize     int64
	SupportsRange bool
	Chunks        []types.Chunk
}

type entry struct {
	mu      sync.Mutex
	task    types.Task
	removed bool
}

// Store is a concurrency-safe map of download tasks.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	observers []Observer
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Observe registers fn to be notified of every mutation.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) notify(kind ChangeKind, id string) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(Change{Kind: kind, ID: id})
	}
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	return e, nil
}

// update runs fn on the task under its lock. Mutations to a removed entry
// are reported as not found.
func (s *Store) update(id string, kind ChangeKind, fn func(t *types.Task) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	if err := fn(&e.task); err != nil {
		e.mu.Unlock()
		return err
	}
	e.task.UpdatedAt = s.now()
	e.mu.Unlock()

	s.notify(kind, id)
	return nil
}

// Insert adds a new task.
func (s *Store) Insert(t types.Task) error {
	if err := s.insert(t); err != nil {
		return err
	}
	s.notify(ChangeInserted, t.ID)
	return nil
}

func (s *Store) insert(t types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[t.ID]; exists {
		return fmt.Errorf("%s: %w", t.ID, types.ErrDuplicateID)
	}
	t = t.Clone()
	t.Downloaded = sumChunks(t.Chunks)
	s.entries[t.ID] = &entry{task: t}
	return nil
}

// Restore bulk-inserts tasks loaded from a snapshot. Duplicates are skipped
// and reported in the returned error.
func (s *Store) Restore(tasks []types.Task) error {
	var firstErr error
	for _, t := range tasks {
		if err := s.insert(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get returns a copy of one task.
func (s *Store) Get(id string) (types.Task, error) {
	e, err := s.lookup(id)
	if err != nil {
		return types.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return types.Task{}, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	return e.task.Clone(), nil
}

// List returns copies of every task, oldest first.
func (s *Store) List() []types.Task {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]types.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.task.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UpdateChunkProgress adds delta bytes to one chunk and recomputes the
// task aggregate in the same critical section.
func (s *Store) UpdateChunkProgress(id string, index int, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("negative progress delta %d", delta)
	}
	return s.update(id, ChangeProgress, func(t *types.Task) error {
		if index < 0 || index >= len(t.Chunks) {
			return fmt.Errorf("%s chunk %d: %w", id, index, types.ErrChunkIndex)
		}
		c := &t.Chunks[index]
		if n := c.Length(); n != types.UnknownSize && c.BytesWritten+delta > n {
			return fmt.Errorf("%s chunk %d: %d+%d > %d: %w", id, index, c.BytesWritten, delta, n, types.ErrRangeOverflow)
		}
		c.BytesWritten += delta
		t.Downloaded = sumChunks(t.Chunks)
		return nil
	})
}

// SetChunkState records the lifecycle state of the worker owning a chunk.
func (s *Store) SetChunkState(id string, index int, state types.WorkerState) error {
	return s.update(id, ChangeProgress, func(t *types.Task) error {
		if index < 0 || index >= len(t.Chunks) {
			return fmt.Errorf("%s chunk %d: %w", id, index, types.ErrChunkIndex)
		}
		t.Chunks[index].State = state
		return nil
	})
}

// SetStatus moves a task to a new status if the state machine allows it.
// Completion additionally requires every byte to be accounted for; an
// unknown total becomes the downloaded byte count.
func (s *Store) SetStatus(id string, to types.Status) error {
	return s.update(id, ChangeStatus, func(t *types.Task) error {
		if err := checkTransition(t, to); err != nil {
			return err
		}
		if to == types.StatusCompleted {
			if !t.SizeKnown() {
				t.TotalSize = t.Downloaded
			} else if t.Downloaded != t.TotalSize {
				return fmt.Errorf("%s: %d of %d bytes: %w", id, t.Downloaded, t.TotalSize, types.ErrIncomplete)
			}
		}
		t.Status = to
		if to != types.StatusError {
			t.Error = ""
		}
		return nil
	})
}

// Fail moves a task to the error status with a detail message.
func (s *Store) Fail(id, detail string) error {
	return s.update(id, ChangeStatus, func(t *types.Task) error {
		if err := checkTransition(t, types.StatusError); err != nil {
			return err
		}
		t.Status = types.StatusError
		t.Error = detail
		return nil
	})
}

// Plan records probe results and moves a queued task to downloading.
func (s *Store) Plan(id string, p Plan) error {
	return s.update(id, ChangeStatus, func(t *types.Task) error {
		if err := checkTransition(t, types.StatusDownloading); err != nil {
			return err
		}
		if t.Status != types.StatusQueued {
			return &types.TransitionError{ID: id, From: t.Status, To: types.StatusDownloading}
		}
		chunks := make([]types.Chunk, len(p.Chunks))
		copy(chunks, p.Chunks)
		for i := range chunks {
			chunks[i].BytesWritten = 0
			chunks[i].State = types.WorkerPending
		}
		t.Filename = p.Filename
		t.DestPath = p.DestPath
		t.TotalSize = p.TotalSize
		t.SupportsRange = p.SupportsRange
		t.Chunks = chunks
		t.Downloaded = 0
		t.Status = types.StatusDownloading
		return nil
	})
}

// Restart moves a paused task back to downloading with every chunk counter
// reset to zero.
func (s *Store) Restart(id string) error {
	return s.update(id, ChangeStatus, func(t *types.Task) error {
		if t.Status != types.StatusPaused {
			return &types.TransitionError{ID: id, From: t.Status, To: types.StatusDownloading}
		}
		for i := range t.Chunks {
			t.Chunks[i].BytesWritten = 0
			t.Chunks[i].State = types.WorkerPending
		}
		t.Downloaded = 0
		t.Status = types.StatusDownloading
		t.Error = ""
		return nil
	})
}

// Remove deletes a task.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	s.notify(ChangeRemoved, id)
	return nil
}

// RemoveWhere deletes every task matching pred and returns copies of them.
func (s *Store) RemoveWhere(pred func(types.Task) bool) []types.Task {
	var removed []types.Task

	s.mu.Lock()
	for id, e := range s.entries {
		e.mu.Lock()
		if pred(e.task) {
			e.removed = true
			removed = append(removed, e.task.Clone())
			delete(s.entries, id)
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	for _, t := range removed {
		s.notify(ChangeRemoved, t.ID)
	}
	return removed
}

func checkTransition(t *types.Task, to types.Status) error {
	if !types.CanTransition(t.Status, to) {
		return &types.TransitionError{ID: t.ID, From: t.Status, To: to}
	}
	return nil
}

func sumChunks(chunks []types.Chunk) int64 {
	var total int64
	for _, c := range chunks {
		total += c.BytesWritten
	}
	return total
}
