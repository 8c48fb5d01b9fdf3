package core

import (
	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// DownloadService defines the interface for interacting with the download engine.
// The CLI and the TUI use it without knowing whether the engine runs in this
// process or behind the daemon's HTTP API.
type DownloadService interface {
	// List returns the status of every download, oldest first.
	List() ([]types.DownloadStatus, error)

	// GetStatus returns a status for a single download by id.
	GetStatus(id string) (*types.DownloadStatus, error)

	// Add queues a new download and returns its queued record.
	Add(url string) (*types.DownloadStatus, error)

	// Pause pauses an active download.
	Pause(id string) error

	// Resume restarts a paused download.
	Resume(id string) error

	// Delete cancels and removes a download.
	Delete(id string) error

	// DeleteCompleted removes completed downloads and returns how many.
	DeleteCompleted() (int, error)

	// DeleteAll cancels and removes every download.
	DeleteAll() (int, error)

	// Open reveals a completed download in the system file browser.
	Open(id string) error

	// Health reports liveness and the last persistence failure.
	Health() (*Health, error)

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}

// Health is the daemon's liveness report.
type Health struct {
	Status           string `json:"status"`
	Port             int    `json:"port"`
	PersistenceError string `json:"persistence_error,omitempty"`
}

var (
	_ DownloadService = (*LocalDownloadService)(nil)
	_ DownloadService = (*RemoteDownloadService)(nil)
)
