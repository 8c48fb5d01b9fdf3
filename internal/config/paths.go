package config

import (
	"os"
	"path/filepath"
)

const appName = "fetchd"

// GetConfigDir returns the directory holding settings and runtime files.
// XDG_CONFIG_HOME is honored on Linux through os.UserConfigDir.
func GetConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// GetStateDir returns the directory for the task snapshot.
func GetStateDir() string {
	return filepath.Join(GetConfigDir(), "state")
}

// GetLogsDir returns the directory for debug logs.
func GetLogsDir() string {
	return filepath.Join(GetConfigDir(), "logs")
}

// GetRuntimeDir returns the directory for the pid, port and lock files.
func GetRuntimeDir() string {
	return GetConfigDir()
}

// EnsureDirs creates every application directory.
func EnsureDirs() error {
	for _, dir := range []string{GetConfigDir(), GetStateDir(), GetLogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
