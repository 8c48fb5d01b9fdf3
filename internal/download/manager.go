// Package download runs download tasks: it probes, plans and dispatches
// stream workers, and turns pause, resume and delete commands into
// cancellations and store transitions.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/surge-downloader/fetchd/internal/engine"
	"github.com/surge-downloader/fetchd/internal/engine/events"
	"github.com/surge-downloader/fetchd/internal/engine/store"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

var errShuttingDown = errors.New("download manager is shutting down")

// Flusher writes the store to durable storage synchronously.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Options configures a Manager. Store and DownloadDir are required.
type Options struct {
	Store              *store.Store
	Client             *http.Client // built from Runtime when nil
	Runtime            *types.RuntimeConfig
	DownloadDir        string
	DeletePartialFiles bool
	Events             chan<- any              // optional, never blocks
	Persist            Flusher                 // optional
	Reveal             func(path string) error // defaults to utils.RevealInFileBrowser
}

// run is one in-flight probe or transfer attempt of a task.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every running task attempt.
type Manager struct {
	store         *store.Store
	client        *http.Client
	runtime       *types.RuntimeConfig
	dir           string
	deletePartial bool
	events        chan<- any
	persist       Flusher
	reveal        func(string) error

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool

	mu    sync.Mutex
	runs  map[string]*run
	locks map[string]*sync.Mutex

	reserveMu sync.Mutex // destination choice and Plan happen together
}

// New creates a manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("download manager requires a store")
	}
	if opts.DownloadDir == "" {
		return nil, errors.New("download manager requires a download directory")
	}

	client := opts.Client
	if client == nil {
		var err error
		if client, err = engine.NewHTTPClient(opts.Runtime); err != nil {
			return nil, err
		}
	}
	reveal := opts.Reveal
	if reveal == nil {
		reveal = utils.RevealInFileBrowser
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:         opts.Store,
		client:        client,
		runtime:       opts.Runtime,
		dir:           opts.DownloadDir,
		deletePartial: opts.DeletePartialFiles,
		events:        opts.Events,
		persist:       opts.Persist,
		reveal:        reveal,
		baseCtx:       ctx,
		cancelAll:     cancel,
		runs:          make(map[string]*run),
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) emit(msg any) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- msg:
	default:
		utils.Debug("Event channel full, dropping %T", msg)
	}
}

func (m *Manager) flush() {
	if m.persist == nil {
		return
	}
	if err := m.persist.Flush(context.Background()); err != nil {
		utils.Debug("Flush failed: %v", err)
	}
}

// taskLock serializes commands on one task.
func (m *Manager) taskLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// launch registers a new attempt for id and runs fn in its own goroutine.
func (m *Manager) launch(id string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &run{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[id] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(r.done)
		defer func() {
			m.mu.Lock()
			if m.runs[id] == r {
				delete(m.runs, id)
			}
			m.mu.Unlock()
		}()
		defer cancel()
		fn(ctx)
	}()
}

// stop cancels the attempt of id, if any, and waits for it to exit.
func (m *Manager) stop(id string) error {
	m.mu.Lock()
	r := m.runs[id]
	m.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-time.After(m.runtime.GetStopTimeout()):
		return fmt.Errorf("%s: %w", id, types.ErrStopTimeout)
	}
}

// Create validates rawURL, records a queued task and starts probing it in
// the background. It returns as soon as the task is in the store.
func (m *Manager) Create(rawURL string) (string, error) {
	if m.closed.Load() {
		return "", errShuttingDown
	}
	if err := validateURL(rawURL); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := m.store.Insert(types.NewTask(id, rawURL, time.Now())); err != nil {
		return "", err
	}
	utils.Debug("Queued %s: %s", id, rawURL)
	m.emit(events.DownloadQueuedMsg{DownloadID: id, URL: rawURL})

	m.launch(id, func(ctx context.Context) { m.prepare(ctx, id, rawURL) })
	return id, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%q: %w", rawURL, types.ErrInvalidURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q: %w", rawURL, types.ErrInvalidURL)
	}
	return nil
}

// Pause stops a downloading task and waits for its workers. Paused,
// completed and failed tasks are left alone. A queued task cannot be paused.
func (m *Manager) Pause(id string) error {
	lock := m.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := m.store.Get(id)
	if err != nil {
		return err
	}
	switch task.Status {
	case types.StatusPaused, types.StatusCompleted, types.StatusError:
		return nil
	case types.StatusQueued:
		return &types.TransitionError{ID: id, From: task.Status, To: types.StatusPaused}
	}

	if err := m.stop(id); err != nil {
		return err
	}

	if err := m.store.SetStatus(id, types.StatusPaused); err != nil {
		// The attempt finished or failed before it saw the cancellation
		if errors.Is(err, types.ErrIllegalTransition) {
			if cur, getErr := m.store.Get(id); getErr == nil && cur.Status.Terminal() {
				return nil
			}
		}
		return err
	}

	cur, _ := m.store.Get(id)
	utils.Debug("Paused %s at %d bytes", id, cur.Downloaded)
	m.emit(events.DownloadPausedMsg{DownloadID: id, Filename: cur.Filename, Downloaded: cur.Downloaded})
	return nil
}

// Resume restarts a paused task from zero with its existing chunk layout.
func (m *Manager) Resume(id string) error {
	if m.closed.Load() {
		return errShuttingDown
	}

	lock := m.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Restart(id); err != nil {
		return err
	}
	task, err := m.store.Get(id)
	if err != nil {
		return err
	}

	utils.Debug("Resuming %s", id)
	m.emit(events.DownloadResumedMsg{DownloadID: id, Filename: task.Filename})
	m.launch(id, func(ctx context.Context) { m.transfer(ctx, id) })
	return nil
}

// Delete stops a task, removes it and applies the partial file policy.
func (m *Manager) Delete(id string) error {
	lock := m.taskLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.stop(id); err != nil {
		return err
	}
	task, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.flush()
	m.removePartial(task)

	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()

	utils.Debug("Removed %s", id)
	m.emit(events.DownloadRemovedMsg{DownloadID: id, Filename: task.Filename})
	return nil
}

// removePartial deletes the destination of an unfinished task. Completed
// files are never touched.
func (m *Manager) removePartial(task types.Task) {
	if !m.deletePartial || task.Status == types.StatusCompleted || task.DestPath == "" {
		return
	}
	if err := os.Remove(task.DestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Debug("Failed to remove partial file %s: %v", task.DestPath, err)
	}
}

// DeleteCompleted removes every completed task and returns how many there were.
func (m *Manager) DeleteCompleted() int {
	removed := m.store.RemoveWhere(func(t types.Task) bool {
		return t.Status == types.StatusCompleted
	})
	if len(removed) > 0 {
		m.flush()
	}
	m.mu.Lock()
	for _, t := range removed {
		delete(m.locks, t.ID)
	}
	m.mu.Unlock()
	for _, t := range removed {
		m.emit(events.DownloadRemovedMsg{DownloadID: t.ID, Filename: t.Filename})
	}
	return len(removed)
}

// DeleteAll stops and removes every task.
func (m *Manager) DeleteAll() (int, error) {
	var (
		n        int
		firstErr error
	)
	for _, t := range m.store.List() {
		err := m.Delete(t.ID)
		switch {
		case err == nil:
			n++
		case errors.Is(err, types.ErrNotFound):
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return n, firstErr
}

// Location returns the file of a completed task.
func (m *Manager) Location(id string) (string, error) {
	task, err := m.store.Get(id)
	if err != nil {
		return "", err
	}
	if task.Status != types.StatusCompleted {
		return "", fmt.Errorf("%s is %s: %w", id, task.Status, types.ErrNotCompleted)
	}
	return task.DestPath, nil
}

// Open reveals a completed task's file in the system file browser.
func (m *Manager) Open(id string) error {
	path, err := m.Location(id)
	if err != nil {
		return err
	}
	return m.reveal(path)
}

// Restore restarts work for tasks loaded from a snapshot: queued tasks are
// probed again and, with autoResume, paused tasks are resumed.
func (m *Manager) Restore(autoResume bool) error {
	var firstErr error
	for _, t := range m.store.List() {
		switch {
		case t.Status == types.StatusQueued:
			id, rawURL := t.ID, t.URL
			m.launch(id, func(ctx context.Context) { m.prepare(ctx, id, rawURL) })
		case t.Status == types.StatusPaused && autoResume:
			if err := m.Resume(t.ID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown cancels every attempt, pauses downloading tasks and flushes the
// store. Queued tasks stay queued and are probed again on the next Restore.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for downloads to stop: %w", ctx.Err())
	}

	for _, t := range m.store.List() {
		if t.Status != types.StatusDownloading {
			continue
		}
		if err := m.store.SetStatus(t.ID, types.StatusPaused); err == nil {
			m.emit(events.DownloadPausedMsg{DownloadID: t.ID, Filename: t.Filename, Downloaded: t.Downloaded})
		}
	}

	if m.persist != nil {
		return m.persist.Flush(ctx)
	}
	return nil
}
