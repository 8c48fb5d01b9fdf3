package types

import "github.com/surge-downloader/fetchd/internal/config"

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	if rc == nil {
		return &RuntimeConfig{}
	}
	return &RuntimeConfig{
		MaxChunks:           rc.MaxChunks,
		MinChunkSize:        rc.MinChunkSize,
		WorkerBufferSize:    rc.WorkerBufferSize,
		UserAgent:           rc.UserAgent,
		ProxyURL:            rc.ProxyURL,
		SkipTLSVerification: rc.SkipTLSVerification,
		MaxProbeRetries:     rc.MaxProbeRetries,
	}
}
