package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebug_WritesAfterConfigure(t *testing.T) {
	dir := t.TempDir()
	ConfigureDebug(dir)
	t.Cleanup(func() { ConfigureDebug("") })

	Debug("hello %d", 42)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello 42") {
		t.Errorf("log does not contain message: %q", string(data))
	}
}

func TestCleanupLogs_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"fetchd-20240101-000000.log",
		"fetchd-20240102-000000.log",
		"fetchd-20240103-000000.log",
		"unrelated.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	ConfigureDebug(dir) // adds one more, newest
	t.Cleanup(func() { ConfigureDebug("") })

	CleanupLogs(2)

	entries, _ := os.ReadDir(dir)
	var logs []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs to remain, got %v", logs)
	}
	for _, old := range names[:2] {
		if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", old)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "unrelated.txt")); err != nil {
		t.Error("non-log files must be left alone")
	}
}

func TestRevealCommand(t *testing.T) {
	p := filepath.Join("tmp", "dl", "file.zip")

	if args := revealCommand("darwin", p).Args; args[0] != "open" || args[len(args)-1] != p {
		t.Errorf("darwin args = %v", args)
	}
	if args := revealCommand("linux", p).Args; args[0] != "xdg-open" || args[1] != filepath.Dir(p) {
		t.Errorf("linux args = %v", args)
	}
	if args := revealCommand("windows", p).Args; args[0] != "explorer" {
		t.Errorf("windows args = %v", args)
	}
}
