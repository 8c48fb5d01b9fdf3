// Package concurrent implements the stream worker that fetches one byte
// range of a download and writes it in place.
package concurrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/surge-downloader/fetchd/internal/engine"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// ProgressSink receives every write increment. Returning an error stops the worker.
type ProgressSink interface {
	UpdateChunkProgress(id string, index int, delta int64) error
}

// Job describes the range one worker owns.
type Job struct {
	TaskID string
	URL    string
	Index  int
	Chunk  types.Chunk
	File   io.WriterAt
	Ranged bool // send a Range header; false streams the whole resource
	Total  int64
}

// Outcome is the final result reported by a worker.
type Outcome struct {
	Index int
	State types.WorkerState
	Err   error
}

// Worker fetches byte ranges over a shared client.
type Worker struct {
	Client  *http.Client
	Runtime *types.RuntimeConfig
	Sink    ProgressSink
}

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, types.WorkerBuffer)
		return &buf
	},
}

func (w *Worker) getBuffer() (*[]byte, bool) {
	size := w.Runtime.GetWorkerBufferSize()
	if size == types.WorkerBuffer {
		return bufPool.Get().(*[]byte), true
	}
	buf := make([]byte, size)
	return &buf, false
}

// Fetch streams job's range into job.File. It never writes outside the
// range and never writes after ctx is cancelled.
func (w *Worker) Fetch(ctx context.Context, job Job) Outcome {
	written, err := w.fetch(ctx, job)
	switch {
	case err == nil:
		utils.Debug("Task %s chunk %d done (%d bytes)", job.TaskID, job.Index, written)
		return Outcome{Index: job.Index, State: types.WorkerDone}
	case ctx.Err() != nil || errors.Is(err, types.ErrNotFound):
		utils.Debug("Task %s chunk %d cancelled after %d bytes", job.TaskID, job.Index, written)
		return Outcome{Index: job.Index, State: types.WorkerCancelled, Err: err}
	default:
		utils.Debug("Task %s chunk %d failed after %d bytes: %v", job.TaskID, job.Index, written, err)
		return Outcome{Index: job.Index, State: types.WorkerFailed, Err: &types.TransferError{Chunk: job.Index, Err: err}}
	}
}

func (w *Worker) fetch(ctx context.Context, job Job) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	length := job.Chunk.Length()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", w.Runtime.GetUserAgent())
	if job.Ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", job.Chunk.Start, job.Chunk.End-1))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp, job); err != nil {
		return 0, err
	}

	bufp, pooled := w.getBuffer()
	if pooled {
		defer bufPool.Put(bufp)
	}
	buf := *bufp

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		readSize := int64(len(buf))
		if length != types.UnknownSize {
			remaining := length - written
			if remaining == 0 {
				break
			}
			if readSize > remaining {
				readSize = remaining
			}
		}

		// Fill the buffer before writing to keep WriteAt calls large
		readSoFar := 0
		var readErr error
		for readSoFar < int(readSize) {
			n, err := resp.Body.Read(buf[readSoFar:readSize])
			readSoFar += n
			if err != nil {
				readErr = err
				break
			}
		}

		if readSoFar > 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			if _, err := job.File.WriteAt(buf[:readSoFar], job.Chunk.Start+written); err != nil {
				return written, fmt.Errorf("write error: %w", err)
			}
			written += int64(readSoFar)
			if err := w.Sink.UpdateChunkProgress(job.TaskID, job.Index, int64(readSoFar)); err != nil {
				return written, err
			}
		}

		if readErr == io.EOF {
			if length != types.UnknownSize && written < length {
				return written, fmt.Errorf("short body: got %d of %d bytes: %w", written, length, io.ErrUnexpectedEOF)
			}
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read error: %w", readErr)
		}
	}

	// The range is complete; anything further means the server sent too much
	var probe [1]byte
	if n, _ := resp.Body.Read(probe[:]); n > 0 {
		return written, fmt.Errorf("server sent more than the %d requested bytes", length)
	}
	return written, nil
}

func checkResponse(resp *http.Response, job Job) error {
	length := job.Chunk.Length()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if !job.Ranged {
			return fmt.Errorf("unexpected partial content for full request")
		}
		cr, err := engine.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		if cr.First != job.Chunk.Start || cr.Last != job.Chunk.End-1 {
			return fmt.Errorf("server returned range %d-%d, requested %d-%d",
				cr.First, cr.Last, job.Chunk.Start, job.Chunk.End-1)
		}
		if job.Total >= 0 && cr.Complete >= 0 && cr.Complete != job.Total {
			return fmt.Errorf("resource size changed: %d, expected %d", cr.Complete, job.Total)
		}
	case http.StatusOK:
		// A full body is only usable when this worker owns the whole resource
		if job.Chunk.Start != 0 || (job.Total >= 0 && job.Chunk.End != job.Total) {
			return fmt.Errorf("server ignored range request")
		}
	default:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if length != types.UnknownSize && resp.ContentLength >= 0 && resp.ContentLength != length {
		return fmt.Errorf("content length %d does not match range length %d", resp.ContentLength, length)
	}
	return nil
}
