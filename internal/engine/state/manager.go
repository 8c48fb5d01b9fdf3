package state

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/fetchd/internal/engine/store"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// Manager snapshots a store after every mutation. Notifications only mark
// the state dirty; a single writer goroutine saves the store as it is at
// write time, so bursts of progress collapse into few writes and the last
// write always reflects the newest state.
type Manager struct {
	snap     Snapshotter
	store    *store.Store
	interval time.Duration

	writeMu sync.Mutex // serializes Save calls
	dirty   atomic.Bool
	wake    chan struct{}
	urgent  chan struct{}
	stop    chan struct{}
	done    chan struct{}

	started  atomic.Bool
	stopOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// NewManager binds a snapshotter to a store. Call Load, then Start.
func NewManager(snap Snapshotter, s *store.Store) *Manager {
	return &Manager{
		snap:     snap,
		store:    s,
		interval: types.SnapshotInterval,
		wake:     make(chan struct{}, 1),
		urgent:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetInterval changes the spacing of progress-only snapshots.
func (m *Manager) SetInterval(d time.Duration) {
	m.interval = d
}

// Load reads the last snapshot, reconciles it and restores it into the
// store. A missing snapshot loads nothing. It returns the number of tasks
// restored.
func (m *Manager) Load() (int, error) {
	tasks, err := m.snap.Load()
	if err != nil {
		perr := &types.PersistenceError{Op: "load", Path: m.snap.Path(), Err: err}
		m.setErr(perr)
		return 0, perr
	}
	tasks = Reconcile(tasks)
	if err := m.store.Restore(tasks); err != nil {
		utils.Debug("Restore skipped a task: %v", err)
	}
	utils.Debug("Loaded %d tasks from %s", len(tasks), m.snap.Path())
	return len(tasks), nil
}

// Start registers the manager as a store observer and launches the writer.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.store.Observe(m.OnChange)
	go m.run()
}

// OnChange records that the store changed. It never blocks.
func (m *Manager) OnChange(c store.Change) {
	m.dirty.Store(true)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	if c.Kind != store.ChangeProgress {
		select {
		case m.urgent <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		}

		if m.dirty.Load() {
			_ = m.write()
		}

		select {
		case <-m.stop:
			return
		case <-m.urgent:
		case <-time.After(m.interval):
		}
	}
}

// write saves the current store contents. Failures are logged and kept for
// LastError; they never propagate into the store.
func (m *Manager) write() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.dirty.Store(false)
	tasks := m.store.List()
	if err := m.snap.Save(tasks); err != nil {
		m.dirty.Store(true)
		perr := &types.PersistenceError{Op: "save", Path: m.snap.Path(), Err: err}
		utils.Debug("Snapshot failed: %v", perr)
		m.setErr(perr)
		return perr
	}
	m.setErr(nil)
	return nil
}

// Flush writes a snapshot synchronously.
func (m *Manager) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.write()
}

// Close stops the writer and performs a final flush.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		select {
		case <-m.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for snapshot writer: %w", ctx.Err())
		}
	}
	flushErr := m.Flush(ctx)
	if err := m.snap.Close(); err != nil && flushErr == nil {
		return &types.PersistenceError{Op: "close", Path: m.snap.Path(), Err: err}
	}
	return flushErr
}

// LastError returns the most recent persistence failure, or nil once a
// later write succeeded.
func (m *Manager) LastError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

func (m *Manager) setErr(err error) {
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
}
