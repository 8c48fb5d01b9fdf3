package core

import (
	"context"
	"fmt"

	"github.com/surge-downloader/fetchd/internal/config"
	"github.com/surge-downloader/fetchd/internal/download"
	"github.com/surge-downloader/fetchd/internal/engine/state"
	"github.com/surge-downloader/fetchd/internal/engine/store"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// LocalDownloadService implements DownloadService on an in-process engine.
type LocalDownloadService struct {
	manager *download.Manager
	store   *store.Store
	persist *state.Manager

	// Port is reported by Health once the API listener is bound.
	Port int
}

// NewLocalDownloadService wraps an already running engine. persist may be nil.
func NewLocalDownloadService(mgr *download.Manager, s *store.Store, persist *state.Manager) *LocalDownloadService {
	return &LocalDownloadService{manager: mgr, store: s, persist: persist}
}

// StartLocalDownloadService assembles the engine from settings: it opens the
// configured snapshot backend in stateDir, loads and reconciles the saved
// tasks, starts the snapshot writer and restarts pending work.
func StartLocalDownloadService(settings *config.Settings, stateDir string, events chan<- any) (*LocalDownloadService, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	snap, err := state.Open(settings.Persistence.Backend, stateDir)
	if err != nil {
		return nil, err
	}

	s := store.New()
	persist := state.NewManager(snap, s)
	n, err := persist.Load()
	if err != nil {
		_ = snap.Close()
		return nil, err
	}
	utils.Debug("Loaded %d downloads from %s", n, snap.Path())
	persist.Start()

	mgr, err := download.New(download.Options{
		Store:              s,
		Runtime:            types.ConvertRuntimeConfig(settings.ToRuntimeConfig()),
		DownloadDir:        settings.General.DownloadDir,
		DeletePartialFiles: settings.General.DeletePartialFiles,
		Events:             events,
		Persist:            persist,
	})
	if err != nil {
		_ = persist.Close(context.Background())
		return nil, err
	}

	if err := mgr.Restore(settings.General.AutoResume); err != nil {
		utils.Debug("Restore incomplete: %v", err)
	}

	return NewLocalDownloadService(mgr, s, persist), nil
}

// List returns the status of every download, oldest first.
func (s *LocalDownloadService) List() ([]types.DownloadStatus, error) {
	tasks := s.store.List()
	statuses := make([]types.DownloadStatus, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, types.StatusFromTask(t))
	}
	return statuses, nil
}

// GetStatus returns a status for a single download by id.
func (s *LocalDownloadService) GetStatus(id string) (*types.DownloadStatus, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	status := types.StatusFromTask(t)
	return &status, nil
}

// Add queues a new download.
func (s *LocalDownloadService) Add(url string) (*types.DownloadStatus, error) {
	id, err := s.manager.Create(url)
	if err != nil {
		return nil, err
	}
	return s.GetStatus(id)
}

// Pause pauses an active download.
func (s *LocalDownloadService) Pause(id string) error {
	return s.manager.Pause(id)
}

// Resume restarts a paused download.
func (s *LocalDownloadService) Resume(id string) error {
	return s.manager.Resume(id)
}

// Delete cancels and removes a download.
func (s *LocalDownloadService) Delete(id string) error {
	return s.manager.Delete(id)
}

func (s *LocalDownloadService) DeleteCompleted() (int, error) {
	return s.manager.DeleteCompleted(), nil
}

func (s *LocalDownloadService) DeleteAll() (int, error) {
	return s.manager.DeleteAll()
}

func (s *LocalDownloadService) Open(id string) error {
	return s.manager.Open(id)
}

// Health reports the service as up together with the last snapshot failure.
func (s *LocalDownloadService) Health() (*Health, error) {
	h := &Health{Status: "ok", Port: s.Port}
	if s.persist != nil {
		if err := s.persist.LastError(); err != nil {
			h.PersistenceError = err.Error()
		}
	}
	return h, nil
}

// Shutdown pauses running downloads, writes the final snapshot and closes
// the snapshot backend.
func (s *LocalDownloadService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), types.StopTimeout)
	defer cancel()

	err := s.manager.Shutdown(ctx)
	if s.persist != nil {
		if cerr := s.persist.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
