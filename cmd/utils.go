package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/surge-downloader/fetchd/internal/config"
	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/utils"
)

var errNotRunning = errors.New("fetchd is not running. start it with 'fetchd server start'")

func portFilePath() string {
	return filepath.Join(config.GetRuntimeDir(), "port")
}

func pidFilePath() string {
	return filepath.Join(config.GetRuntimeDir(), "pid")
}

// saveActivePort records the API port for CLI discovery
func saveActivePort(port int) {
	if err := os.WriteFile(portFilePath(), []byte(strconv.Itoa(port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
		return
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	if err := os.Remove(portFilePath()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return port
}

func savePID() {
	if err := os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	if err := os.Remove(pidFilePath()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// findAvailablePort tries ports starting from 'start' until one is
// available. A start of 0 lets the system pick.
func findAvailablePort(host string, start int) (int, net.Listener) {
	if start == 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, nil
		}
		return ln.Addr().(*net.TCPAddr).Port, ln
	}
	for port := start; port < start+100 && port <= 65535; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// clientHost is the address clients dial for a daemon bound to listen.
func clientHost(listen string) string {
	switch listen {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return listen
}

// connectService returns a client for the running daemon.
func connectService() (core.DownloadService, error) {
	port := readActivePort()
	if port == 0 {
		return nil, errNotRunning
	}
	settings := loadSettings()
	baseURL := "http://" + net.JoinHostPort(clientHost(settings.Server.ListenAddress), strconv.Itoa(port))
	return core.NewRemoteDownloadService(baseURL), nil
}

// readURLsFromFile reads URLs from a file, one per line. Blank lines and
// lines starting with # are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for long URLs
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

// resolveDownloadID resolves a partial ID (prefix) to a full download ID
// using the daemon's list.
func resolveDownloadID(svc core.DownloadService, partialID string) (string, error) {
	if len(partialID) >= 36 {
		return partialID, nil // Already a full UUID
	}
	downloads, err := svc.List()
	if err != nil {
		return "", fmt.Errorf("failed to list downloads: %w", err)
	}
	candidates := make([]string, 0, len(downloads))
	for _, d := range downloads {
		candidates = append(candidates, d.ID)
	}
	return resolveIDFromCandidates(partialID, candidates)
}

func resolveIDFromCandidates(partialID string, candidates []string) (string, error) {
	var matches []string
	seen := make(map[string]bool)

	for _, id := range candidates {
		if id == partialID {
			return id, nil
		}
		if strings.HasPrefix(id, partialID) && !seen[id] {
			matches = append(matches, id)
			seen[id] = true
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d downloads", partialID, len(matches))
	}

	return partialID, nil // No match, use as-is (will fail with "not found" later)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
