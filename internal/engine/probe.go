package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// ProbeResult contains all metadata from server probe
type ProbeResult struct {
	FileSize      int64 // types.UnknownSize when not reported
	SupportsRange bool
	Filename      string
	ContentType   string
}

// ContentRange is a parsed "bytes first-last/complete" header. Last is
// inclusive. Complete is types.UnknownSize for "*". Unsatisfied is set for
// the "bytes */complete" form.
type ContentRange struct {
	First, Last int64
	Complete    int64
	Unsatisfied bool
}

// ParseContentRange parses a Content-Range response header.
func ParseContentRange(v string) (ContentRange, error) {
	cr := ContentRange{Complete: types.UnknownSize}
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return cr, fmt.Errorf("unsupported content-range %q", v)
	}
	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return cr, fmt.Errorf("malformed content-range %q", v)
	}

	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return cr, fmt.Errorf("malformed content-range size %q", v)
		}
		cr.Complete = n
	}

	if rng == "*" {
		cr.Unsatisfied = true
		return cr, nil
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return cr, fmt.Errorf("malformed content-range %q", v)
	}
	var err error
	if cr.First, err = strconv.ParseInt(first, 10, 64); err != nil {
		return cr, fmt.Errorf("malformed content-range %q", v)
	}
	if cr.Last, err = strconv.ParseInt(last, 10, 64); err != nil || cr.Last < cr.First {
		return cr, fmt.Errorf("malformed content-range %q", v)
	}
	return cr, nil
}

// retryableError marks probe failures worth another attempt.
type retryableError struct{ error }

func (e retryableError) Unwrap() error { return e.error }

// ProbeServer requests the first bytes of rawurl to learn its size, range
// support and a filename. Network errors and 5xx responses are retried.
func ProbeServer(ctx context.Context, client *http.Client, rawurl string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	utils.Debug("Probing server: %s", rawurl)

	var lastErr error
	attempts := runtime.GetMaxProbeRetries()
	for i := 0; i < attempts; i++ {
		if i > 0 {
			utils.Debug("Retrying probe... attempt %d", i+1)
			select {
			case <-ctx.Done():
				return nil, &types.ProbeError{URL: rawurl, Err: ctx.Err()}
			case <-time.After(runtime.GetProbeRetryDelay()):
			}
		}

		result, err := probeOnce(ctx, client, rawurl, runtime)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var retry retryableError
		if !errors.As(err, &retry) || ctx.Err() != nil {
			break
		}
	}

	var pe *types.ProbeError
	if errors.As(lastErr, &pe) {
		return nil, pe
	}
	return nil, &types.ProbeError{URL: rawurl, Err: lastErr}
}

func probeOnce(ctx context.Context, client *http.Client, rawurl string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, &types.ProbeError{URL: rawurl, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", types.SniffSize-1))
	req.Header.Set("User-Agent", runtime.GetUserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, retryableError{&types.ProbeError{URL: rawurl, Err: err}}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	utils.Debug("Probe response status: %d", resp.StatusCode)

	result := &ProbeResult{
		FileSize:    types.UnknownSize,
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch resp.StatusCode {
	case http.StatusPartialContent: // 206
		result.SupportsRange = true
		cr, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			utils.Debug("Ignoring bad Content-Range: %v", err)
		} else {
			result.FileSize = cr.Complete
		}

	case http.StatusOK: // 200 - server ignores Range header
		result.SupportsRange = false
		result.FileSize = resp.ContentLength // -1 when unknown

	case http.StatusRequestedRangeNotSatisfiable: // 416 - empty resource
		cr, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || cr.Complete == types.UnknownSize {
			return nil, &types.ProbeError{URL: rawurl, StatusCode: resp.StatusCode}
		}
		result.SupportsRange = true
		result.FileSize = cr.Complete

	default:
		perr := &types.ProbeError{URL: rawurl, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
		if resp.StatusCode >= 500 {
			return nil, retryableError{perr}
		}
		return nil, perr
	}

	var head []byte
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		head, _ = io.ReadAll(io.LimitReader(resp.Body, types.SniffSize))
	}
	// A 200 body must not be drained in full
	if result.SupportsRange {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*types.KB))
	}

	result.Filename = determineFilename(rawurl, resp.Header, head)

	utils.Debug("Probe complete - filename: %s, size: %d, range: %v",
		result.Filename, result.FileSize, result.SupportsRange)

	return result, nil
}

// determineFilename prefers Content-Disposition, then the URL path, then a
// fallback name. A missing extension is filled in from the content sniff.
func determineFilename(rawurl string, h http.Header, head []byte) string {
	var name string
	if _, fn, _ := httpheader.ContentDisposition(h); fn != "" {
		name = utils.SanitizeFilename(fn)
	}
	if name == "" {
		name = utils.SanitizeFilename(utils.FilenameFromURL(rawurl))
	}
	if name == "" {
		name = types.FallbackFilename
	}

	if filepath.Ext(name) == "" && len(head) > 0 {
		if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown && kind.Extension != "" {
			name += "." + kind.Extension
		}
	}
	return name
}
