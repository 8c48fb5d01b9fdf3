package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general" yaml:"general"`
	Server      ServerSettings      `json:"server" yaml:"server"`
	Connections ConnectionSettings  `json:"connections" yaml:"connections"`
	Chunks      ChunkSettings       `json:"chunks" yaml:"chunks"`
	Persistence PersistenceSettings `json:"persistence" yaml:"persistence"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DownloadDir        string `json:"download_dir" yaml:"download_dir"`
	AutoResume         bool   `json:"auto_resume" yaml:"auto_resume"`
	DeletePartialFiles bool   `json:"delete_partial_files" yaml:"delete_partial_files"`
	LogRetentionCount  int    `json:"log_retention_count" yaml:"log_retention_count"`
}

// ServerSettings controls where the control API listens.
type ServerSettings struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	Port          int    `json:"port" yaml:"port"`
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxChunks           int    `json:"max_chunks" yaml:"max_chunks"`
	UserAgent           string `json:"user_agent" yaml:"user_agent"`
	ProxyURL            string `json:"proxy_url" yaml:"proxy_url"`
	SkipTLSVerification bool   `json:"skip_tls_verification" yaml:"skip_tls_verification"`
	MaxProbeRetries     int    `json:"max_probe_retries" yaml:"max_probe_retries"`
}

// ChunkSettings contains download chunk configuration.
type ChunkSettings struct {
	MinChunkSize     int64 `json:"min_chunk_size" yaml:"min_chunk_size"`
	WorkerBufferSize int   `json:"worker_buffer_size" yaml:"worker_buffer_size"`
}

// PersistenceSettings selects the snapshot backend.
type PersistenceSettings struct {
	Backend string `json:"backend" yaml:"backend"`
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "int64", "bool"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "download_dir", Label: "Download Dir", Description: "Directory new downloads are written to.", Type: "string"},
			{Key: "auto_resume", Label: "Auto Resume", Description: "Resume paused downloads when the server starts.", Type: "bool"},
			{Key: "delete_partial_files", Label: "Delete Partial Files", Description: "Remove the unfinished file when a download is deleted.", Type: "bool"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"Server": {
			{Key: "listen_address", Label: "Listen Address", Description: "Address the control API binds to.", Type: "string"},
			{Key: "port", Label: "Port", Description: "Port the control API listens on.", Type: "int"},
		},
		"Network": {
			{Key: "max_chunks", Label: "Max Chunks", Description: "Maximum concurrent range streams per download (1-32).", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "http, https or socks5 proxy URL. Leave empty to use system default.", Type: "string"},
			{Key: "skip_tls_verification", Label: "Skip TLS Verification", Description: "Accept invalid server certificates.", Type: "bool"},
			{Key: "max_probe_retries", Label: "Max Probe Retries", Description: "Attempts for the initial metadata request.", Type: "int"},
			{Key: "min_chunk_size", Label: "Min Chunk Size", Description: "Smallest range assigned to one stream, in bytes.", Type: "int64"},
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "Bytes written per increment by each stream.", Type: "int"},
		},
		"Persistence": {
			{Key: "backend", Label: "Backend", Description: "Snapshot storage: json or sqlite.", Type: "string"},
		},
	}
}

// CategoryOrder returns the order of categories for display.
func CategoryOrder() []string {
	return []string{"General", "Server", "Network", "Persistence"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads", "fetchd")

	return &Settings{
		General: GeneralSettings{
			DownloadDir:        defaultDir,
			AutoResume:         false,
			DeletePartialFiles: true,
			LogRetentionCount:  5,
		},
		Server: ServerSettings{
			ListenAddress: "127.0.0.1",
			Port:          3000,
		},
		Connections: ConnectionSettings{
			MaxChunks:       8,
			UserAgent:       "", // Empty means use default UA
			MaxProbeRetries: 3,
		},
		Chunks: ChunkSettings{
			MinChunkSize:     64 * KB,
			WorkerBufferSize: 32 * KB,
		},
		Persistence: PersistenceSettings{
			Backend: BackendJSON,
		},
	}
}

// Validate reports the first setting that is out of range.
func (s *Settings) Validate() error {
	if s.General.DownloadDir == "" {
		return fmt.Errorf("download_dir must not be empty")
	}
	if s.General.LogRetentionCount < 0 {
		return fmt.Errorf("log_retention_count must not be negative")
	}
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Server.Port)
	}
	if s.Connections.MaxChunks < 1 || s.Connections.MaxChunks > 32 {
		return fmt.Errorf("max_chunks must be between 1 and 32, got %d", s.Connections.MaxChunks)
	}
	if s.Connections.MaxProbeRetries < 1 {
		return fmt.Errorf("max_probe_retries must be at least 1")
	}
	if s.Chunks.MinChunkSize <= 0 {
		return fmt.Errorf("min_chunk_size must be positive")
	}
	if s.Chunks.WorkerBufferSize <= 0 {
		return fmt.Errorf("worker_buffer_size must be positive")
	}
	switch s.Persistence.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown persistence backend %q", s.Persistence.Backend)
	}
	return nil
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetConfigDir(), "settings.json")
}

// LoadSettings loads settings from the default path. Returns defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads settings from path, decoding YAML for .yaml/.yml files and JSON otherwise.
func LoadSettingsFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, settings)
	default:
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig carries the settings the download engine needs.
type RuntimeConfig struct {
	MaxChunks           int
	MinChunkSize        int64
	WorkerBufferSize    int
	UserAgent           string
	ProxyURL            string
	SkipTLSVerification bool
	MaxProbeRetries     int
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxChunks:           s.Connections.MaxChunks,
		MinChunkSize:        s.Chunks.MinChunkSize,
		WorkerBufferSize:    s.Chunks.WorkerBufferSize,
		UserAgent:           s.Connections.UserAgent,
		ProxyURL:            s.Connections.ProxyURL,
		SkipTLSVerification: s.Connections.SkipTLSVerification,
		MaxProbeRetries:     s.Connections.MaxProbeRetries,
	}
}
