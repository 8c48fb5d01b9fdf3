// Package testutil provides testing utilities for the fetchd download engine.
package testutil

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// writeSize is how much the mock server writes (and flushes) at a time.
const writeSize = 32 * 1024

// MockServer serves one synthetic file and records how it was fetched.
// Its behavior is fixed by the options passed to NewMockServerT.
type MockServer struct {
	Server *httptest.Server

	FileSize       int64
	SupportsRanges bool
	ContentType    string
	Filename       string // Content-Disposition filename; empty omits the header
	RandomData     bool   // zeros otherwise
	UnknownLength  bool   // omit Content-Length on 200 responses
	Latency        time.Duration
	ByteLatency    time.Duration
	FailAfterBytes int64 // 0 never breaks off
	FailAtOffset   int64 // -1 breaks off any response
	FailStatus     int
	CustomHandler  http.HandlerFunc

	data  []byte
	stats struct {
		requests, ranged, full, failed, served atomic.Int64
	}
}

// MockServerStats is a snapshot of the request counters.
type MockServerStats struct {
	TotalRequests  int64
	BytesServed    int64
	RangeRequests  int64
	FullRequests   int64
	FailedRequests int64
}

type MockServerOption func(*MockServer)

func WithHandler(h http.HandlerFunc) MockServerOption {
	return func(m *MockServer) { m.CustomHandler = h }
}

func WithFileSize(size int64) MockServerOption {
	return func(m *MockServer) { m.FileSize = size }
}

func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) { m.SupportsRanges = enabled }
}

func WithContentType(ct string) MockServerOption {
	return func(m *MockServer) { m.ContentType = ct }
}

// WithFilename sets the Content-Disposition filename. Empty omits the header.
func WithFilename(name string) MockServerOption {
	return func(m *MockServer) { m.Filename = name }
}

func WithRandomData(random bool) MockServerOption {
	return func(m *MockServer) { m.RandomData = random }
}

func WithUnknownLength() MockServerOption {
	return func(m *MockServer) { m.UnknownLength = true }
}

// WithLatency delays every response by d before the headers.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) { m.Latency = d }
}

// WithByteLatency sleeps d for every byte after each write.
func WithByteLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) { m.ByteLatency = d }
}

// WithFailAfterBytes breaks off every response after n body bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
		m.FailAtOffset = -1
	}
}

// WithFailAtOffset breaks off only the range request starting at offset,
// after n body bytes.
func WithFailAtOffset(offset, n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAtOffset = offset
		m.FailAfterBytes = n
	}
}

// WithStatus answers every request with code and no body.
func WithStatus(code int) MockServerOption {
	return func(m *MockServer) { m.FailStatus = code }
}

// NewMockServerT starts a mock server for the test and closes it on cleanup.
// The test is skipped when no listener can be bound.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := &MockServer{
		FileSize:       1024 * 1024,
		SupportsRanges: true,
		ContentType:    "application/octet-stream",
		Filename:       "testfile.bin",
		FailAtOffset:   -1,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.data = make([]byte, m.FileSize)
	if m.RandomData {
		_, _ = rand.Read(m.data)
	}

	m.Server = NewHTTPServerT(t, m)
	t.Cleanup(m.Close)
	return m
}

func (m *MockServer) URL() string {
	return m.Server.URL
}

// Data returns the served bytes.
func (m *MockServer) Data() []byte {
	return m.data
}

func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.stats.requests.Load(),
		BytesServed:    m.stats.served.Load(),
		RangeRequests:  m.stats.ranged.Load(),
		FullRequests:   m.stats.full.Load(),
		FailedRequests: m.stats.failed.Load(),
	}
}

func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.CustomHandler != nil {
		m.CustomHandler(w, r)
		return
	}
	m.stats.requests.Add(1)

	if m.FailStatus != 0 {
		m.stats.failed.Add(1)
		http.Error(w, "Simulated failure", m.FailStatus)
		return
	}
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	h := w.Header()
	h.Set("Content-Type", m.ContentType)
	if m.Filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, m.Filename))
	}

	start, end := int64(0), m.FileSize-1
	ranged := m.SupportsRanges && r.Header.Get("Range") != ""
	if ranged {
		m.stats.ranged.Add(1)
		var err error
		if start, end, err = parseRange(r.Header.Get("Range"), m.FileSize); err != nil {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", m.FileSize))
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, m.FileSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.stats.full.Add(1)
		if !m.UnknownLength {
			h.Set("Content-Length", strconv.FormatInt(m.FileSize, 10))
		}
		if m.SupportsRanges {
			h.Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	limit := int64(-1)
	if m.FailAfterBytes > 0 && (m.FailAtOffset < 0 || (ranged && start == m.FailAtOffset)) {
		limit = m.FailAfterBytes
	}
	m.writeBody(w, start, end+1, limit)
}

// writeBody streams data[from:to] in flushed pieces. With limit >= 0 the
// connection is dropped after limit bytes so the client sees a short body.
func (m *MockServer) writeBody(w http.ResponseWriter, from, to, limit int64) {
	flusher, _ := w.(http.Flusher)
	var sent int64
	for pos := from; pos < to; {
		if limit >= 0 && sent >= limit {
			m.stats.failed.Add(1)
			panic(http.ErrAbortHandler)
		}
		n := min(int64(writeSize), to-pos)
		if limit >= 0 {
			n = min(n, limit-sent)
		}

		written, err := w.Write(m.data[pos : pos+n])
		if err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		pos += int64(written)
		sent += int64(written)
		m.stats.served.Add(int64(written))

		if m.ByteLatency > 0 {
			time.Sleep(m.ByteLatency * time.Duration(written))
		}
	}
}

// parseRange resolves a single "bytes=" range against size. Open-ended
// ("500-") and suffix ("-500") forms are accepted and an end past the file is
// clamped to its last byte.
func parseRange(header string, size int64) (start, end int64, err error) {
	rest, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errors.New("invalid range unit")
	}
	first, last, ok := strings.Cut(rest, "-")
	if !ok || strings.Contains(last, "-") || strings.Contains(rest, ",") {
		return 0, 0, errors.New("invalid range format")
	}

	switch {
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start, end = size-n, size-1
	default:
		if start, err = strconv.ParseInt(first, 10, 64); err != nil {
			return 0, 0, err
		}
		end = size - 1
		if last != "" {
			if end, err = strconv.ParseInt(last, 10, 64); err != nil {
				return 0, 0, err
			}
		}
	}

	end = min(end, size-1)
	if start < 0 || start >= size || start > end {
		return 0, 0, errors.New("range out of bounds")
	}
	return start, end, nil
}
