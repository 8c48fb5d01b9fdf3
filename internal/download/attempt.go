package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/surge-downloader/fetchd/internal/engine"
	"github.com/surge-downloader/fetchd/internal/engine/concurrent"
	"github.com/surge-downloader/fetchd/internal/engine/events"
	"github.com/surge-downloader/fetchd/internal/engine/store"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// prepare probes a queued task, plans its chunks, reserves its destination
// and starts the transfer.
func (m *Manager) prepare(ctx context.Context, id, rawURL string) {
	probe, err := engine.ProbeServer(ctx, m.client, rawURL, m.runtime)
	if err != nil {
		if ctx.Err() != nil {
			utils.Debug("Probe of %s stopped: %v", id, err)
			return
		}
		m.fail(id, "", err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	chunks := engine.PlanForProbe(probe, m.runtime)
	if err := m.planTask(id, probe, chunks); err != nil {
		utils.Debug("Plan of %s rejected: %v", id, err)
		return
	}
	utils.Debug("Planned %s: %s, %d bytes in %d chunks", id, probe.Filename, probe.FileSize, len(chunks))

	m.transfer(ctx, id)
}

// planTask picks a destination no other task and no existing file uses and
// records the plan in the same critical section.
func (m *Manager) planTask(id string, probe *engine.ProbeResult, chunks []types.Chunk) error {
	m.reserveMu.Lock()
	defer m.reserveMu.Unlock()

	taken := make(map[string]bool)
	for _, t := range m.store.List() {
		if t.ID != id && t.DestPath != "" {
			taken[t.DestPath] = true
		}
	}
	dest := utils.UniqueFilePath(filepath.Join(m.dir, probe.Filename), func(p string) bool { return taken[p] })

	return m.store.Plan(id, store.Plan{
		Filename:      filepath.Base(dest),
		DestPath:      dest,
		TotalSize:     probe.FileSize,
		SupportsRange: probe.SupportsRange,
		Chunks:        chunks,
	})
}

// transfer runs one attempt of a downloading task: it pre-sizes the file,
// starts one worker per chunk and interprets their outcomes. A cancelled
// attempt leaves the status to whoever cancelled it.
func (m *Manager) transfer(ctx context.Context, id string) {
	task, err := m.store.Get(id)
	if err != nil {
		return
	}
	start := time.Now()

	file, err := openDestination(task)
	if err != nil {
		m.fail(id, task.Filename, err)
		return
	}

	m.emit(events.DownloadStartedMsg{
		DownloadID: id,
		URL:        task.URL,
		Filename:   task.Filename,
		Total:      task.TotalSize,
		DestPath:   task.DestPath,
		Chunks:     len(task.Chunks),
	})

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := &concurrent.Worker{Client: m.client, Runtime: m.runtime, Sink: m.store}
	ranged := task.SupportsRange && task.SizeKnown()
	outcomes := make(chan concurrent.Outcome, len(task.Chunks))

	for i, c := range task.Chunks {
		if err := m.store.SetChunkState(id, i, types.WorkerActive); err != nil {
			cancel()
			outcomes <- concurrent.Outcome{Index: i, State: types.WorkerCancelled, Err: err}
			continue
		}
		job := concurrent.Job{
			TaskID: id,
			URL:    task.URL,
			Index:  i,
			Chunk:  c,
			File:   file,
			Ranged: ranged,
			Total:  task.TotalSize,
		}
		go func() { outcomes <- worker.Fetch(attemptCtx, job) }()
	}

	var failure error
	done := 0
	for range task.Chunks {
		o := <-outcomes
		_ = m.store.SetChunkState(id, o.Index, o.State)
		switch o.State {
		case types.WorkerDone:
			done++
		case types.WorkerFailed:
			if failure == nil {
				failure = o.Err
				// Stop the siblings; the task fails once all of them returned
				cancel()
			}
		}
	}

	if failure == nil && done == len(task.Chunks) {
		if err := file.Sync(); err != nil {
			failure = fmt.Errorf("failed to sync file: %w", err)
		}
	}
	if err := file.Close(); err != nil && failure == nil && done == len(task.Chunks) {
		failure = fmt.Errorf("failed to close file: %w", err)
	}

	switch {
	case failure != nil:
		m.fail(id, task.Filename, failure)
	case done == len(task.Chunks):
		m.complete(id, start)
	default:
		utils.Debug("Attempt of %s stopped with %d of %d chunks done", id, done, len(task.Chunks))
	}
}

// openDestination creates the destination and sizes it once for this
// attempt. Unknown-size resources start empty.
func openDestination(task types.Task) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(task.DestPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(task.DestPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	size := task.TotalSize
	if size < 0 {
		size = 0
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to preallocate file: %w", err)
	}
	return file, nil
}

func (m *Manager) complete(id string, start time.Time) {
	if err := m.store.SetStatus(id, types.StatusCompleted); err != nil {
		m.fail(id, "", err)
		return
	}
	task, _ := m.store.Get(id)
	elapsed := time.Since(start)
	utils.Debug("Completed %s: %d bytes in %v", id, task.TotalSize, elapsed)
	m.emit(events.DownloadCompleteMsg{DownloadID: id, Filename: task.Filename, Elapsed: elapsed, Total: task.TotalSize})
}

func (m *Manager) fail(id, filename string, err error) {
	if ferr := m.store.Fail(id, err.Error()); ferr != nil {
		utils.Debug("Could not record failure of %s (%v): %v", id, err, ferr)
		return
	}
	utils.Debug("Download %s failed: %v", id, err)
	m.emit(events.DownloadErrorMsg{DownloadID: id, Filename: filename, Err: err})
}
