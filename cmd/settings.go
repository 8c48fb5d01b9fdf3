package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/surge-downloader/fetchd/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := readSettings()
		if err != nil {
			return err
		}
		return printSettings(cmd.OutOrStdout(), settings)
	},
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default settings file if there is none",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetSettingsPath()
		settings, err := config.LoadSettings()
		if err != nil {
			return err
		}
		if err := config.SaveSettings(settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", path)
		return nil
	},
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Describe every setting",
	Run: func(cmd *cobra.Command, args []string) {
		printSettingsKeys(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsInitCmd, settingsKeysCmd)
}

func printSettingsKeys(out io.Writer) {
	meta := config.GetSettingsMetadata()
	for _, category := range config.CategoryOrder() {
		fmt.Fprintf(out, "%s:\n", strings.ToLower(category))
		for _, m := range meta[category] {
			fmt.Fprintf(out, "  %-24s %-7s %s\n", m.Key, m.Type, m.Description)
		}
	}
}

// printSettings writes settings as YAML, prefixed with a warning when they
// would not pass validation.
func printSettings(out io.Writer, s *config.Settings) error {
	if err := s.Validate(); err != nil {
		fmt.Fprintf(out, "# warning: %v\n", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
