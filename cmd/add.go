package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/core"
)

var addCmd = &cobra.Command{
	Use:     "add [url]...",
	Aliases: []string{"get"},
	Short:   "Queue downloads on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")

		urls := append([]string(nil), args...)
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fileURLs...)
		}
		if fromClipboard {
			text, err := clipboard.ReadAll()
			if err != nil {
				return fmt.Errorf("failed to read clipboard: %w", err)
			}
			urls = append(urls, urlsFromText(text)...)
		}
		if len(urls) == 0 {
			return errors.New("no URLs given")
		}

		svc, err := connectService()
		if err != nil {
			return err
		}
		if added := addURLs(svc, urls, cmd.OutOrStdout()); added == 0 {
			return errors.New("no downloads were added")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	addCmd.Flags().BoolP("clipboard", "c", false, "Add URLs found in the clipboard")
}

// urlsFromText picks the http(s) URLs out of whitespace separated text.
func urlsFromText(text string) []string {
	var urls []string
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			urls = append(urls, field)
		}
	}
	return urls
}

// addURLs queues every URL and returns how many were accepted.
func addURLs(svc core.DownloadService, urls []string, out io.Writer) int {
	added := 0
	for _, u := range urls {
		status, err := svc.Add(u)
		if err != nil {
			fmt.Fprintf(out, "Error adding %s: %v\n", u, err)
			continue
		}
		fmt.Fprintf(out, "Queued %s [%s]\n", u, shortID(status.ID))
		added++
	}
	return added
}
