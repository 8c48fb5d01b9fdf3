package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/config"
	"github.com/surge-downloader/fetchd/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// configPath overrides the settings file (--config).
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "fetchd",
	Short:   "A local multi-stream download manager",
	Long:    `fetchd downloads files over several concurrent byte-range streams and keeps its task list across restarts.`,
	Version: Version,
	// Usage is noise after a failed API call
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (.json or .yaml)")
	rootCmd.SetVersionTemplate("fetchd version {{.Version}}\n")
}

// readSettings loads the settings file chosen by --config, or the default one.
func readSettings() (*config.Settings, error) {
	if configPath != "" {
		return config.LoadSettingsFrom(configPath)
	}
	return config.LoadSettings()
}

// loadSettings is readSettings for callers that can live with defaults.
func loadSettings() *config.Settings {
	settings, err := readSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		return config.DefaultSettings()
	}
	return settings
}

// initializeGlobalState sets up the application directories and logging
func initializeGlobalState(settings *config.Settings) error {
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create application directories: %w", err)
	}

	utils.ConfigureDebug(config.GetLogsDir())
	utils.CleanupLogs(settings.General.LogRetentionCount)
	return nil
}
