// Package events defines the lifecycle messages published by the download
// manager.
package events

import (
	"fmt"
	"time"
)

// DownloadQueuedMsg is sent when a task is accepted, before it is probed
type DownloadQueuedMsg struct {
	DownloadID string
	URL        string
}

// DownloadStartedMsg is sent when an attempt dispatches its workers
type DownloadStartedMsg struct {
	DownloadID string
	URL        string
	Filename   string
	Total      int64 // types.UnknownSize when not known
	DestPath   string
	Chunks     int
}

// DownloadCompleteMsg signals that the download finished successfully
type DownloadCompleteMsg struct {
	DownloadID string
	Filename   string
	Elapsed    time.Duration
	Total      int64
}

// DownloadErrorMsg signals that a task moved to the error state
type DownloadErrorMsg struct {
	DownloadID string
	Filename   string
	Err        error
}

type DownloadPausedMsg struct {
	DownloadID string
	Filename   string
	Downloaded int64
}

type DownloadResumedMsg struct {
	DownloadID string
	Filename   string
}

type DownloadRemovedMsg struct {
	DownloadID string
	Filename   string
}

// Describe renders msg as a one-line log entry. It reports false for values
// that are not lifecycle messages.
func Describe(msg any) (string, bool) {
	switch m := msg.(type) {
	case DownloadQueuedMsg:
		return fmt.Sprintf("Queued: %s [%s]", m.URL, short(m.DownloadID)), true
	case DownloadStartedMsg:
		return fmt.Sprintf("Started: %s [%s] (%d chunks)", m.Filename, short(m.DownloadID), m.Chunks), true
	case DownloadCompleteMsg:
		return fmt.Sprintf("Completed: %s [%s] (in %s)", m.Filename, short(m.DownloadID), m.Elapsed.Round(time.Millisecond)), true
	case DownloadErrorMsg:
		return fmt.Sprintf("Error: %s [%s]: %v", m.Filename, short(m.DownloadID), m.Err), true
	case DownloadPausedMsg:
		return fmt.Sprintf("Paused: %s [%s]", m.Filename, short(m.DownloadID)), true
	case DownloadResumedMsg:
		return fmt.Sprintf("Resumed: %s [%s]", m.Filename, short(m.DownloadID)), true
	case DownloadRemovedMsg:
		return fmt.Sprintf("Removed: %s [%s]", m.Filename, short(m.DownloadID)), true
	}
	return "", false
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
