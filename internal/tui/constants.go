package tui

import "time"

const (
	// Polling the daemon
	TickInterval = 500 * time.Millisecond

	// Input Dimensions
	InputWidth = 60

	// Layout
	DefaultPaddingX = 1
	DefaultPaddingY = 0
	ProgressWidth   = 30
	FilenameWidth   = 32
	GraphHeight     = 3

	// Samples kept for the throughput graph
	ThroughputHistory = 120

	// How long a footer notice stays up
	NoticeDuration = 4 * time.Second
)
