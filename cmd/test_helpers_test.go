package cmd

import (
	"bytes"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/surge-downloader/fetchd/internal/config"
	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/testutil"
)

const waitTimeout = 15 * time.Second

func requireTCPListener(t *testing.T) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listener unavailable: %v", err)
		return
	}
	_ = ln.Close()
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.DefaultSettings()
	s.General.DownloadDir = t.TempDir()
	s.General.AutoResume = false
	s.Connections.MaxProbeRetries = 1
	s.Server.ListenAddress = "127.0.0.1"
	s.Server.Port = 0
	return s
}

// startTestAPI runs the control API over an in-process engine.
func startTestAPI(t *testing.T) (*httptest.Server, *core.LocalDownloadService) {
	t.Helper()
	requireTCPListener(t)
	svc, err := core.StartLocalDownloadService(testSettings(t), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	server := testutil.NewHTTPServerT(t, newAPIHandler(svc))
	t.Cleanup(func() { _ = svc.Shutdown() })
	return server, svc
}

func waitForStatus(t *testing.T, svc core.DownloadService, id string, want types.Status) *types.DownloadStatus {
	t.Helper()
	var status *types.DownloadStatus
	testutil.WaitFor(t, waitTimeout, "status "+string(want), func() bool {
		s, err := svc.GetStatus(id)
		if err != nil {
			return false
		}
		status = s
		return s.Status == string(want)
	})
	return status
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
