package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/engine/types"
)

var lsCmd = &cobra.Command{
	Use:     "ls [id]",
	Aliases: []string{"l"},
	Short:   "List downloads, or show one in detail",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		svc, err := connectService()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			id, err := resolveDownloadID(svc, args[0])
			if err != nil {
				return err
			}
			status, err := svc.GetStatus(id)
			if err != nil {
				return err
			}
			return printDownloadDetail(out, *status, asJSON)
		}
		return printDownloads(out, svc, asJSON)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "Output JSON")
}

func formatSize(total *int64) string {
	if total == nil {
		return "?"
	}
	return humanize.IBytes(uint64(*total))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printDownloads(out io.Writer, svc core.DownloadService, asJSON bool) error {
	statuses, err := svc.List()
	if err != nil {
		return err
	}

	if asJSON {
		if statuses == nil {
			statuses = []types.DownloadStatus{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(out, "No downloads.")
		return nil
	}

	fmt.Fprintf(out, "%-8s  %-30s  %-11s  %8s  %10s  %10s\n", "ID", "FILENAME", "STATUS", "PROGRESS", "DONE", "SIZE")
	for _, s := range statuses {
		fmt.Fprintf(out, "%-8s  %-30s  %-11s  %7.1f%%  %10s  %10s\n",
			shortID(s.ID),
			truncate(s.Filename, 30),
			s.Status,
			s.Progress,
			humanize.IBytes(uint64(s.Downloaded)),
			formatSize(s.TotalSize),
		)
	}
	return nil
}

func printDownloadDetail(out io.Writer, s types.DownloadStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "ID:         %s\n", s.ID)
	fmt.Fprintf(out, "URL:        %s\n", s.URL)
	fmt.Fprintf(out, "Filename:   %s\n", s.Filename)
	fmt.Fprintf(out, "Status:     %s\n", s.Status)
	fmt.Fprintf(out, "Progress:   %.1f%% (%s of %s)\n", s.Progress, humanize.IBytes(uint64(s.Downloaded)), formatSize(s.TotalSize))
	if s.Chunks > 0 {
		fmt.Fprintf(out, "Streams:    %d\n", s.Chunks)
	}
	if s.DestPath != "" {
		fmt.Fprintf(out, "Path:       %s\n", s.DestPath)
	}
	fmt.Fprintf(out, "Added:      %s\n", humanize.Time(s.CreatedAt))
	if s.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", s.Error)
	}
	return nil
}
