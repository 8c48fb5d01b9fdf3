package cmd

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
)

func TestResolveIDFromCandidates(t *testing.T) {
	candidates := []string{
		"3f2a9c10-0000-4000-8000-000000000001",
		"3f2b1111-0000-4000-8000-000000000002",
		"9e000000-0000-4000-8000-000000000003",
	}

	tests := []struct {
		name    string
		partial string
		want    string
		wantErr bool
	}{
		{"exact", candidates[1], candidates[1], false},
		{"unique prefix", "9e", candidates[2], false},
		{"longer unique prefix", "3f2a", candidates[0], false},
		{"ambiguous prefix", "3f2", "", true},
		{"no match passes through", "ffff", "ffff", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveIDFromCandidates(tt.partial, candidates)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPortFileLifecycle(t *testing.T) {
	if readActivePort() != 0 {
		t.Fatal("expected no port file")
	}
	if err := os.MkdirAll(filepath.Dir(portFilePath()), 0o755); err != nil {
		t.Fatal(err)
	}

	saveActivePort(41234)
	if got := readActivePort(); got != 41234 {
		t.Fatalf("readActivePort = %d", got)
	}
	removeActivePort()
	if readActivePort() != 0 {
		t.Fatal("port file should be gone")
	}
	// Removing twice is harmless.
	removeActivePort()

	if _, err := connectService(); err != errNotRunning {
		t.Fatalf("expected errNotRunning, got %v", err)
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0o755); err != nil {
		t.Fatal(err)
	}
	savePID()
	if got := readPID(); got != os.Getpid() {
		t.Fatalf("readPID = %d, want %d", got, os.Getpid())
	}
	removePID()
	if readPID() != 0 {
		t.Fatal("pid file should be gone")
	}
}

func TestFindAvailablePort(t *testing.T) {
	requireTCPListener(t)

	port, ln := findAvailablePort("127.0.0.1", 0)
	if ln == nil || port == 0 {
		t.Fatal("expected an ephemeral listener")
	}

	// The taken port is skipped.
	next, ln2 := findAvailablePort("127.0.0.1", port)
	_ = ln.Close()
	if ln2 == nil {
		t.Skip("no free port above the ephemeral one")
	}
	defer func() { _ = ln2.Close() }()
	if next == port {
		t.Fatalf("expected a port other than %d", port)
	}
	if got := ln2.Addr().(*net.TCPAddr).Port; got != next {
		t.Fatalf("listener on %d, reported %d", got, next)
	}
}

func TestClientHost(t *testing.T) {
	for in, want := range map[string]string{
		"":          "127.0.0.1",
		"0.0.0.0":   "127.0.0.1",
		"::":        "127.0.0.1",
		"10.0.0.5":  "10.0.0.5",
		"localhost": "localhost",
	} {
		if got := clientHost(in); got != want {
			t.Errorf("clientHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "http://a.example/1\n\n# comment\n  https://b.example/2  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := readURLsFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 || urls[0] != "http://a.example/1" || urls[1] != "https://b.example/2" {
		t.Fatalf("unexpected urls %v", urls)
	}

	if _, err := readURLsFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestURLsFromText(t *testing.T) {
	got := urlsFromText("see https://x.example/a.iso and\nftp://nope http://y.example/b")
	if len(got) != 2 || got[0] != "https://x.example/a.iso" || got[1] != "http://y.example/b" {
		t.Fatalf("unexpected urls %v", got)
	}
	if urlsFromText("nothing here") != nil {
		t.Fatal("expected no urls")
	}
}

func TestResolveConnectBaseURL(t *testing.T) {
	tests := []struct {
		target   string
		insecure bool
		want     string
		wantErr  bool
	}{
		{"127.0.0.1:3000", false, "http://127.0.0.1:3000", false},
		{"localhost:3000", false, "http://localhost:3000", false},
		{"nas.lan:3000", false, "https://nas.lan:3000", false},
		{"http://127.0.0.1:3000/ignored", false, "http://127.0.0.1:3000", false},
		{"http://nas.lan:3000", false, "", true},
		{"http://nas.lan:3000", true, "http://nas.lan:3000", false},
		{"ftp://nas.lan", false, "", true},
		{"https://", false, "", true},
	}
	for _, tt := range tests {
		got, err := resolveConnectBaseURL(tt.target, tt.insecure)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.target, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestInstanceLock(t *testing.T) {
	ok, err := AcquireLock()
	if err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}
	// Re-entrant within the process.
	if ok, _ := AcquireLock(); !ok {
		t.Fatal("second acquire in the same process should succeed")
	}

	other := flock.New(lockPath())
	locked, err := other.TryLock()
	if err != nil {
		t.Fatal(err)
	}
	if locked {
		_ = other.Unlock()
		t.Fatal("another holder must not get the lock")
	}

	if err := ReleaseLock(); err != nil {
		t.Fatal(err)
	}
	locked, err = other.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock should be free after release: %v, %v", locked, err)
	}
	_ = other.Unlock()

	if err := ReleaseLock(); err != nil {
		t.Fatalf("releasing an unheld lock: %v", err)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}
