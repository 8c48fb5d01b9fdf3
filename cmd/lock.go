package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/surge-downloader/fetchd/internal/config"
)

var (
	instanceMu   sync.Mutex
	instanceLock *flock.Flock
)

func lockPath() string {
	return filepath.Join(config.GetRuntimeDir(), "fetchd.lock")
}

// AcquireLock takes the single-instance lock. It reports false without an
// error when another process holds it.
func AcquireLock() (bool, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instanceLock != nil {
		return true, nil
	}
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		return false, fmt.Errorf("failed to create runtime dir: %w", err)
	}

	lock := flock.New(lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = lock
	return true, nil
}

// ReleaseLock drops the single-instance lock if this process holds it.
func ReleaseLock() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
