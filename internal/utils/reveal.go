package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// RevealInFileBrowser opens the system file browser at path. On platforms
// that support it the file itself is selected, elsewhere its folder is opened.
func RevealInFileBrowser(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot reveal %s: %w", path, err)
	}

	cmd := revealCommand(runtime.GOOS, path)
	Debug("Revealing %s with %v", path, cmd.Args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open file browser: %w", err)
	}
	// Reap the child without blocking the caller
	go func() { _ = cmd.Wait() }()
	return nil
}

func revealCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", "-R", path)
	case "windows":
		return exec.Command("explorer", "/select,", path)
	default:
		return exec.Command("xdg-open", filepath.Dir(path))
	}
}
