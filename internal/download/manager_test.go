package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/fetchd/internal/engine/events"
	"github.com/surge-downloader/fetchd/internal/engine/state"
	"github.com/surge-downloader/fetchd/internal/engine/store"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/testutil"
)

const waitTimeout = 15 * time.Second

type testEnv struct {
	mgr    *Manager
	store  *store.Store
	dir    string
	events chan any
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	s := store.New()
	dir := t.TempDir()
	ch := make(chan any, 1000)

	opts := Options{
		Store: s,
		Runtime: &types.RuntimeConfig{
			MaxProbeRetries: 1,
			ProbeRetryDelay: time.Millisecond,
			StopTimeout:     5 * time.Second,
		},
		DownloadDir:        dir,
		DeletePartialFiles: true,
		Events:             ch,
		Reveal:             func(string) error { return nil },
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &testEnv{mgr: m, store: s, dir: dir, events: ch}
}

func (e *testEnv) waitStatus(t *testing.T, id string, want types.Status) types.Task {
	t.Helper()
	var task types.Task
	testutil.WaitFor(t, waitTimeout, "status "+string(want), func() bool {
		var err error
		task, err = e.store.Get(id)
		return err == nil && task.Status == want
	})
	return task
}

func (e *testEnv) waitProgress(t *testing.T, id string, fraction float64) types.Task {
	t.Helper()
	var task types.Task
	testutil.WaitFor(t, waitTimeout, "progress", func() bool {
		var err error
		task, err = e.store.Get(id)
		return err == nil && task.SizeKnown() && task.TotalSize > 0 &&
			float64(task.Downloaded) >= fraction*float64(task.TotalSize)
	})
	return task
}

func (e *testEnv) hasLock(id string) bool {
	e.mgr.mu.Lock()
	defer e.mgr.mu.Unlock()
	_, ok := e.mgr.locks[id]
	return ok
}

func (e *testEnv) drainEvents() []any {
	var out []any
	for {
		select {
		case msg := <-e.events:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// =============================================================================
// Create and transfer
// =============================================================================

func TestManager_DownloadsInEightChunks(t *testing.T) {
	const size = 10_000_000
	server := testutil.NewMockServerT(t, testutil.WithFileSize(size), testutil.WithRandomData(true))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL() + "/big.bin")
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusCompleted)
	assert.Len(t, task.Chunks, 8)
	assert.Equal(t, int64(size), task.TotalSize)
	assert.Equal(t, int64(size), task.Downloaded)
	assert.Equal(t, filepath.Join(env.dir, "testfile.bin"), task.DestPath)
	for i, c := range task.Chunks {
		assert.Equal(t, types.WorkerDone, c.State, "chunk %d", i)
		assert.Equal(t, c.Length(), c.BytesWritten, "chunk %d", i)
	}

	require.NoError(t, testutil.VerifyFileContent(task.DestPath, server.Data()))
	assert.Equal(t, int64(9), server.Stats().RangeRequests, "one probe and one request per chunk")
}

func TestManager_CreateReturnsQueuedTaskImmediately(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithLatency(300*time.Millisecond), testutil.WithFileSize(1024))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, task.Status)
	assert.Equal(t, types.PendingFilename, task.Filename)
	assert.False(t, task.SizeKnown())

	env.waitStatus(t, id, types.StatusCompleted)
}

func TestManager_InvalidURL(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "http://", "file:///etc/passwd"} {
		_, err := env.mgr.Create(raw)
		assert.ErrorIs(t, err, types.ErrInvalidURL, raw)
	}
	assert.Equal(t, 0, env.store.Len())
}

func TestManager_NoRangeSupportUsesOneChunk(t *testing.T) {
	const size = 300 * types.KB
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(size),
		testutil.WithRangeSupport(false),
		testutil.WithRandomData(true),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusCompleted)
	assert.Len(t, task.Chunks, 1)
	assert.False(t, task.SupportsRange)
	require.NoError(t, testutil.VerifyFileContent(task.DestPath, server.Data()))
	assert.Equal(t, int64(2), server.Stats().FullRequests)
}

func TestManager_UnknownSizeLearnsTotalAtCompletion(t *testing.T) {
	const size = 200 * types.KB
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(size),
		testutil.WithRangeSupport(false),
		testutil.WithUnknownLength(),
		testutil.WithRandomData(true),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusCompleted)
	assert.Equal(t, int64(size), task.TotalSize)
	assert.Equal(t, int64(size), task.Downloaded)
	require.NoError(t, testutil.VerifyFileContent(task.DestPath, server.Data()))
}

func TestManager_ZeroByteResourceCompletes(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(0), testutil.WithFilename("empty.txt"))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusCompleted)
	assert.Empty(t, task.Chunks)
	assert.Equal(t, int64(0), task.TotalSize)
	require.NoError(t, testutil.VerifyFileSize(task.DestPath, 0))
}

func TestManager_DestinationsAreUnique(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB), testutil.WithFilename("same.bin"))
	env := newTestEnv(t)

	// An unrelated file already occupies the name
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "same.bin"), []byte("keep"), 0o644))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := env.mgr.Create(server.URL())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	paths := make(map[string]bool)
	for _, id := range ids {
		task := env.waitStatus(t, id, types.StatusCompleted)
		assert.False(t, paths[task.DestPath], "duplicate destination %s", task.DestPath)
		paths[task.DestPath] = true
		assert.NotEqual(t, filepath.Join(env.dir, "same.bin"), task.DestPath)
	}

	data, err := os.ReadFile(filepath.Join(env.dir, "same.bin"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

// =============================================================================
// Failures
// =============================================================================

func TestManager_ProbeFailureMovesToError(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithStatus(404))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusError)
	assert.Contains(t, task.Error, "probe failed")
	assert.Empty(t, task.Chunks)
}

func TestManager_ChunkFailureStopsSiblings(t *testing.T) {
	const size = 1 << 20
	chunk := int64(size / 8)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(size),
		testutil.WithByteLatency(time.Microsecond),
		testutil.WithFailAtOffset(3*chunk, 10*types.KB),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	task := env.waitStatus(t, id, types.StatusError)
	assert.Contains(t, task.Error, "chunk 3")
	require.Len(t, task.Chunks, 8)
	for i, c := range task.Chunks {
		if i == 3 {
			assert.Equal(t, types.WorkerFailed, c.State)
			continue
		}
		assert.NotEqual(t, types.WorkerActive, c.State, "chunk %d still active", i)
		assert.NotEqual(t, types.WorkerFailed, c.State, "chunk %d", i)
	}

	// No worker keeps writing after the task failed
	downloaded := task.Downloaded
	time.Sleep(100 * time.Millisecond)
	after, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, downloaded, after.Downloaded)
}

// =============================================================================
// Pause and resume
// =============================================================================

func TestManager_PauseThenResumeRestartsFromZero(t *testing.T) {
	const size = 4 * types.MB
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(size),
		testutil.WithRandomData(true),
		testutil.WithByteLatency(time.Microsecond),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	env.waitProgress(t, id, 0.4)
	require.NoError(t, env.mgr.Pause(id))

	paused, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, paused.Status)
	assert.Less(t, paused.Downloaded, int64(size))
	for i, c := range paused.Chunks {
		assert.NotEqual(t, types.WorkerActive, c.State, "chunk %d", i)
	}

	// Nothing moves while paused
	time.Sleep(100 * time.Millisecond)
	still, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, paused.Downloaded, still.Downloaded)

	require.NoError(t, env.mgr.Resume(id))

	// Progress drops back to the start before climbing again
	restarted, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDownloading, restarted.Status)
	assert.Less(t, restarted.Downloaded, paused.Downloaded/4)

	task := env.waitStatus(t, id, types.StatusCompleted)
	assert.Equal(t, int64(size), task.Downloaded)
	require.NoError(t, testutil.VerifyFileContent(task.DestPath, server.Data()))

	// Probe, eight chunks, then all eight again from their start
	assert.Equal(t, int64(17), server.Stats().RangeRequests)
}

func TestManager_PauseIsIdempotent(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	env.waitStatus(t, id, types.StatusCompleted)

	assert.NoError(t, env.mgr.Pause(id))
	assert.NoError(t, env.mgr.Pause(id))

	task, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, task.Status)

	assert.ErrorIs(t, env.mgr.Resume(id), types.ErrIllegalTransition)
}

func TestManager_PauseQueuedIsRejected(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithLatency(2*time.Second))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	err = env.mgr.Pause(id)
	assert.ErrorIs(t, err, types.ErrIllegalTransition)

	require.NoError(t, env.mgr.Delete(id))
	_, err = env.store.Get(id)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManager_PauseTwiceWhileDownloading(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(2*types.MB),
		testutil.WithByteLatency(2*time.Microsecond),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	env.waitProgress(t, id, 0.1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.mgr.Pause(id)
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	env.waitStatus(t, id, types.StatusPaused)
}

func TestManager_UnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.mgr.Pause("missing"), types.ErrNotFound)
	assert.ErrorIs(t, env.mgr.Resume("missing"), types.ErrNotFound)
	assert.ErrorIs(t, env.mgr.Delete("missing"), types.ErrNotFound)
	_, err := env.mgr.Location("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// =============================================================================
// Delete
// =============================================================================

func TestManager_DeleteRemovesPartialFile(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(4*types.MB),
		testutil.WithByteLatency(time.Microsecond),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	task := env.waitProgress(t, id, 0.1)
	require.True(t, testutil.FileExists(task.DestPath))

	require.NoError(t, env.mgr.Delete(id))

	_, err = env.store.Get(id)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.False(t, testutil.FileExists(task.DestPath), "partial file should be removed")
}

func TestManager_DeleteKeepsPartialFileWhenConfigured(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(4*types.MB),
		testutil.WithByteLatency(time.Microsecond),
	)
	env := newTestEnv(t, func(o *Options) { o.DeletePartialFiles = false })

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	task := env.waitProgress(t, id, 0.1)

	require.NoError(t, env.mgr.Delete(id))
	assert.True(t, testutil.FileExists(task.DestPath))
}

func TestManager_DeleteNeverRemovesCompletedFile(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	task := env.waitStatus(t, id, types.StatusCompleted)

	require.NoError(t, env.mgr.Delete(id))
	assert.True(t, testutil.FileExists(task.DestPath))
}

func TestManager_DeleteCompleted(t *testing.T) {
	fast := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	slow := testutil.NewMockServerT(t, testutil.WithFileSize(4*types.MB), testutil.WithByteLatency(time.Microsecond))
	env := newTestEnv(t)

	a, err := env.mgr.Create(fast.URL())
	require.NoError(t, err)
	b, err := env.mgr.Create(fast.URL())
	require.NoError(t, err)
	c, err := env.mgr.Create(slow.URL())
	require.NoError(t, err)

	taskA := env.waitStatus(t, a, types.StatusCompleted)
	env.waitStatus(t, b, types.StatusCompleted)
	env.waitStatus(t, c, types.StatusDownloading)

	// Completed pause is a no-op but still takes the per-task lock
	require.NoError(t, env.mgr.Pause(a))
	require.NoError(t, env.mgr.Pause(b))
	assert.True(t, env.hasLock(a))
	assert.True(t, env.hasLock(b))

	assert.Equal(t, 2, env.mgr.DeleteCompleted())
	assert.Equal(t, 1, env.store.Len())
	assert.True(t, testutil.FileExists(taskA.DestPath))
	assert.False(t, env.hasLock(a))
	assert.False(t, env.hasLock(b))

	_, err = env.store.Get(c)
	assert.NoError(t, err)
}

func TestManager_DeleteAll(t *testing.T) {
	fast := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	slow := testutil.NewMockServerT(t, testutil.WithFileSize(4*types.MB), testutil.WithByteLatency(time.Microsecond))
	env := newTestEnv(t)

	a, err := env.mgr.Create(fast.URL())
	require.NoError(t, err)
	b, err := env.mgr.Create(slow.URL())
	require.NoError(t, err)
	env.waitStatus(t, a, types.StatusCompleted)
	partial := env.waitProgress(t, b, 0.05)

	n, err := env.mgr.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, env.store.Len())
	assert.False(t, testutil.FileExists(partial.DestPath))
}

// =============================================================================
// Location and open
// =============================================================================

func TestManager_LocationAndOpen(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB), testutil.WithLatency(200*time.Millisecond))
	var revealed string
	env := newTestEnv(t, func(o *Options) {
		o.Reveal = func(p string) error { revealed = p; return nil }
	})

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)

	_, err = env.mgr.Location(id)
	assert.ErrorIs(t, err, types.ErrNotCompleted)
	assert.ErrorIs(t, env.mgr.Open(id), types.ErrNotCompleted)

	task := env.waitStatus(t, id, types.StatusCompleted)
	path, err := env.mgr.Location(id)
	require.NoError(t, err)
	assert.Equal(t, task.DestPath, path)

	require.NoError(t, env.mgr.Open(id))
	assert.Equal(t, task.DestPath, revealed)
}

// =============================================================================
// Events
// =============================================================================

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	env.waitStatus(t, id, types.StatusCompleted)

	var kinds []string
	for _, msg := range env.drainEvents() {
		switch m := msg.(type) {
		case events.DownloadQueuedMsg:
			assert.Equal(t, id, m.DownloadID)
			kinds = append(kinds, "queued")
		case events.DownloadStartedMsg:
			assert.Equal(t, "testfile.bin", m.Filename)
			kinds = append(kinds, "started")
		case events.DownloadCompleteMsg:
			assert.Equal(t, int64(64*types.KB), m.Total)
			kinds = append(kinds, "complete")
		}
	}
	assert.Equal(t, []string{"queued", "started", "complete"}, kinds)
}

func TestManager_FullEventChannelNeverBlocks(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB))
	env := newTestEnv(t, func(o *Options) { o.Events = make(chan any) })

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	env.waitStatus(t, id, types.StatusCompleted)
}

// =============================================================================
// Restart and shutdown
// =============================================================================

func TestManager_ShutdownPausesDownloads(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(4*types.MB),
		testutil.WithByteLatency(time.Microsecond),
	)
	env := newTestEnv(t)

	id, err := env.mgr.Create(server.URL())
	require.NoError(t, err)
	env.waitProgress(t, id, 0.1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.mgr.Shutdown(ctx))

	task, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, task.Status)

	_, err = env.mgr.Create(server.URL())
	assert.Error(t, err)
}

func TestManager_RecoversAfterRestart(t *testing.T) {
	const size = 4 * types.MB
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(size),
		testutil.WithRandomData(true),
		testutil.WithByteLatency(time.Microsecond),
	)
	stateDir := t.TempDir()
	downloadDir := t.TempDir()

	// First process: download part of the file, snapshotting as it goes
	s1 := store.New()
	p1 := state.NewManager(state.NewJSONFile(stateDir), s1)
	p1.SetInterval(10 * time.Millisecond)
	p1.Start()
	m1, err := New(Options{Store: s1, DownloadDir: downloadDir, Persist: p1, DeletePartialFiles: true})
	require.NoError(t, err)

	id, err := m1.Create(server.URL())
	require.NoError(t, err)
	testutil.WaitFor(t, waitTimeout, "partial progress", func() bool {
		task, err := s1.Get(id)
		return err == nil && task.Status == types.StatusDownloading && task.Downloaded > size/4
	})
	require.NoError(t, p1.Flush(context.Background()))

	// The snapshot taken mid-transfer reloads as paused
	s2 := store.New()
	p2 := state.NewManager(state.NewJSONFile(stateDir), s2)
	n, err := p2.Load()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	reloaded, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, reloaded.Status)
	assert.Positive(t, reloaded.Downloaded)

	// Stop the first process before the second one touches the file
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m1.Shutdown(ctx))
	require.NoError(t, p1.Close(ctx))

	p2.Start()
	t.Cleanup(func() { _ = p2.Close(context.Background()) })
	m2, err := New(Options{Store: s2, DownloadDir: downloadDir, Persist: p2, DeletePartialFiles: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m2.Shutdown(context.Background()) })

	require.NoError(t, m2.Restore(true))

	var task types.Task
	testutil.WaitFor(t, waitTimeout, "completion after restart", func() bool {
		task, err = s2.Get(id)
		return err == nil && task.Status == types.StatusCompleted
	})
	require.NoError(t, testutil.VerifyFileContent(task.DestPath, server.Data()))
}

func TestManager_RestoreReprobesQueuedTasks(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(64*types.KB), testutil.WithFilename("later.bin"))
	env := newTestEnv(t)

	queued := types.NewTask("restored", server.URL(), time.Now())
	require.NoError(t, env.store.Restore([]types.Task{queued}))

	paused := types.NewTask("idle", server.URL(), time.Now())
	paused.Status = types.StatusPaused
	require.NoError(t, env.store.Restore([]types.Task{paused}))

	require.NoError(t, env.mgr.Restore(false))

	task := env.waitStatus(t, "restored", types.StatusCompleted)
	assert.Equal(t, "later.bin", task.Filename)

	idle, err := env.store.Get("idle")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, idle.Status, "paused tasks wait without auto resume")
}

func TestManager_NotFoundMentionsID(t *testing.T) {
	env := newTestEnv(t)
	err := env.mgr.Pause("nope")
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.True(t, strings.HasPrefix(err.Error(), "nope"))

	var te *types.TransitionError
	assert.False(t, errors.As(err, &te))
}
