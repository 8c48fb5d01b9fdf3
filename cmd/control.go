package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/core"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <id>...",
	Short: "Pause downloads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc core.DownloadService) error {
			return applyToIDs(cmd.OutOrStdout(), svc, args, svc.Pause, "Paused")
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>...",
	Short: "Resume paused downloads from the beginning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc core.DownloadService) error {
			return applyToIDs(cmd.OutOrStdout(), svc, args, svc.Resume, "Resumed")
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Reveal a completed download in the file browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc core.DownloadService) error {
			return applyToIDs(cmd.OutOrStdout(), svc, args, svc.Open, "Opened")
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm [id]...",
	Aliases: []string{"kill"},
	Short:   "Cancel and remove downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, _ := cmd.Flags().GetBool("completed")
		all, _ := cmd.Flags().GetBool("all")
		if len(args) == 0 && !completed && !all {
			return errors.New("give download ids, --completed or --all")
		}
		out := cmd.OutOrStdout()

		return withService(func(svc core.DownloadService) error {
			switch {
			case all:
				n, err := svc.DeleteAll()
				fmt.Fprintf(out, "Removed %d downloads\n", n)
				return err
			case completed:
				n, err := svc.DeleteCompleted()
				fmt.Fprintf(out, "Removed %d completed downloads\n", n)
				return err
			}
			return applyToIDs(out, svc, args, svc.Delete, "Removed")
		})
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, openCmd, rmCmd)
	rmCmd.Flags().Bool("completed", false, "Remove every completed download")
	rmCmd.Flags().Bool("all", false, "Remove every download")
}

func withService(fn func(svc core.DownloadService) error) error {
	svc, err := connectService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Shutdown() }()
	return fn(svc)
}

// applyToIDs resolves each id prefix and runs fn on it. It keeps going after
// a failure and reports how many ids failed.
func applyToIDs(out io.Writer, svc core.DownloadService, ids []string, fn func(string) error, verb string) error {
	failed := 0
	for _, partial := range ids {
		id, err := resolveDownloadID(svc, partial)
		if err == nil {
			err = fn(id)
		}
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", partial, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s %s\n", verb, shortID(id))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(ids))
	}
	return nil
}
