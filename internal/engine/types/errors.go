package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("download not found")
	ErrDuplicateID       = errors.New("download id already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrIncomplete        = errors.New("downloaded bytes do not match total size")
	ErrChunkIndex        = errors.New("chunk index out of range")
	ErrRangeOverflow     = errors.New("progress exceeds chunk range")
	ErrInvalidURL        = errors.New("invalid download url")
	ErrNotCompleted      = errors.New("download is not completed")
	ErrStopTimeout       = errors.New("timed out waiting for workers to stop")
)

// TransitionError reports a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("download %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// ProbeError is returned when the metadata request fails.
type ProbeError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ProbeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("probe failed: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("probe failed: %v", e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// TransferError is returned by a stream worker that could not finish its range.
type TransferError struct {
	Chunk int
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Chunk, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed snapshot read or write.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
