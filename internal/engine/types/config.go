package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// UnknownSize marks a resource length the server did not report. It is also
// the End of the single open-ended chunk planned for such a resource.
const UnknownSize int64 = -1

// PendingFilename is shown until the probe resolves the real name.
const PendingFilename = "Pending…"

// FallbackFilename is used when neither the response nor the URL yields a name.
const FallbackFilename = "download.bin"

// Chunk planning
const (
	MaxChunks    = 8       // Fan-out per task
	MinChunk     = 64 * KB // Never plan chunks smaller than this
	WorkerBuffer = 32 * KB // Bytes per write increment
	SniffSize    = 262     // Bytes requested by the probe for type sniffing
	MaxChunkCap  = 32      // Upper bound accepted from settings
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 30 * time.Second
)

const (
	MaxProbeRetries = 3
	ProbeRetryDelay = 1 * time.Second

	// StopTimeout bounds how long pause and delete wait for workers to exit.
	StopTimeout = 30 * time.Second

	// SnapshotInterval spaces out snapshots caused only by progress.
	SnapshotInterval = 500 * time.Millisecond
)

// Channel buffer sizes
const (
	EventChannelBuffer = 100
)

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	MaxChunks           int
	MinChunkSize        int64
	WorkerBufferSize    int
	UserAgent           string
	ProxyURL            string
	SkipTLSVerification bool
	MaxProbeRetries     int
	ProbeRetryDelay     time.Duration
	StopTimeout         time.Duration
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return r.UserAgent
}

// GetMaxChunks returns configured value or default
func (r *RuntimeConfig) GetMaxChunks() int {
	if r == nil || r.MaxChunks <= 0 {
		return MaxChunks
	}
	if r.MaxChunks > MaxChunkCap {
		return MaxChunkCap
	}
	return r.MaxChunks
}

// GetMinChunkSize returns configured value or default
func (r *RuntimeConfig) GetMinChunkSize() int64 {
	if r == nil || r.MinChunkSize <= 0 {
		return MinChunk
	}
	return r.MinChunkSize
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetMaxProbeRetries returns configured value or default
func (r *RuntimeConfig) GetMaxProbeRetries() int {
	if r == nil || r.MaxProbeRetries <= 0 {
		return MaxProbeRetries
	}
	return r.MaxProbeRetries
}

// GetProbeRetryDelay returns configured value or default
func (r *RuntimeConfig) GetProbeRetryDelay() time.Duration {
	if r == nil || r.ProbeRetryDelay <= 0 {
		return ProbeRetryDelay
	}
	return r.ProbeRetryDelay
}

// GetStopTimeout returns configured value or default
func (r *RuntimeConfig) GetStopTimeout() time.Duration {
	if r == nil || r.StopTimeout <= 0 {
		return StopTimeout
	}
	return r.StopTimeout
}
