package types

import "time"

// Status is the lifecycle state of a download task.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Terminal reports whether no further transition is possible except deletion.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusDownloading || to == StatusError
	case StatusDownloading:
		return to == StatusPaused || to == StatusCompleted || to == StatusError
	case StatusPaused:
		return to == StatusDownloading
	}
	return false
}

// WorkerState is the lifecycle of the stream worker owning a chunk.
type WorkerState string

const (
	WorkerPending   WorkerState = "pending"
	WorkerActive    WorkerState = "active"
	WorkerDone      WorkerState = "done"
	WorkerFailed    WorkerState = "failed"
	WorkerCancelled WorkerState = "cancelled"
)

// Chunk is the half-open byte range [Start, End) assigned to one worker.
// End is UnknownSize for the open-ended range of an unknown-length resource.
type Chunk struct {
	Start        int64       `json:"start"`
	End          int64       `json:"end"`
	BytesWritten int64       `json:"bytes_written"`
	State        WorkerState `json:"worker_state"`
}

// Length returns the range length, or UnknownSize when the range is open-ended.
func (c Chunk) Length() int64 {
	if c.End == UnknownSize {
		return UnknownSize
	}
	return c.End - c.Start
}

// Task is the canonical record of one download.
type Task struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	DestPath      string    `json:"dest_path"`
	Filename      string    `json:"filename"`
	TotalSize     int64     `json:"total_size"`
	Downloaded    int64     `json:"downloaded_bytes"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	SupportsRange bool      `json:"supports_range"`
	Chunks        []Chunk   `json:"chunks"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewTask returns a queued task that has not been probed yet.
func NewTask(id, url string, now time.Time) Task {
	return Task{
		ID:        id,
		URL:       url,
		Filename:  PendingFilename,
		TotalSize: UnknownSize,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SizeKnown reports whether the total size has been determined.
func (t Task) SizeKnown() bool {
	return t.TotalSize >= 0
}

// Progress returns completion as a percentage in [0, 100].
func (t Task) Progress() float64 {
	if t.Status == StatusCompleted {
		return 100
	}
	if t.TotalSize <= 0 {
		return 0
	}
	return float64(t.Downloaded) * 100 / float64(t.TotalSize)
}

// Clone returns a deep copy safe to hand out of the store.
func (t Task) Clone() Task {
	out := t
	if t.Chunks != nil {
		out.Chunks = make([]Chunk, len(t.Chunks))
		copy(out.Chunks, t.Chunks)
	}
	return out
}

// DownloadStatus is the API view of a task.
type DownloadStatus struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Filename   string    `json:"filename"`
	DestPath   string    `json:"dest_path,omitempty"`
	TotalSize  *int64    `json:"total_size"` // nil while unknown
	Downloaded int64     `json:"downloaded_bytes"`
	Progress   float64   `json:"progress"` // Percentage 0-100
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusFromTask converts a store record to its API view.
func StatusFromTask(t Task) DownloadStatus {
	s := DownloadStatus{
		ID:         t.ID,
		URL:        t.URL,
		Filename:   t.Filename,
		DestPath:   t.DestPath,
		Downloaded: t.Downloaded,
		Progress:   t.Progress(),
		Status:     string(t.Status),
		Error:      t.Error,
		Chunks:     len(t.Chunks),
		CreatedAt:  t.CreatedAt,
	}
	if t.SizeKnown() {
		total := t.TotalSize
		s.TotalSize = &total
	}
	return s
}
