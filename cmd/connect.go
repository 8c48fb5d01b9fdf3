package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/tui"
)

var connectCmd = &cobra.Command{
	Use:     "connect [host:port]",
	Aliases: []string{"ui"},
	Short:   "Open the dashboard for a running fetchd server",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			svc core.DownloadService
			err error
		)
		if len(args) > 0 {
			insecureHTTP, _ := cmd.Flags().GetBool("insecure-http")
			baseURL, err := resolveConnectBaseURL(args[0], insecureHTTP)
			if err != nil {
				return err
			}
			svc = core.NewRemoteDownloadService(baseURL)
		} else if svc, err = connectService(); err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		// Fail before taking over the terminal.
		if _, err := svc.List(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		tui.ConfigureColor()
		p := tea.NewProgram(tui.NewRootModel(svc), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	connectCmd.Flags().Bool("insecure-http", false, "Allow plain HTTP for non-loopback targets")
	rootCmd.AddCommand(connectCmd)
}

// resolveConnectBaseURL turns host:port or a full URL into the API base URL.
// Bare targets use http on loopback and https elsewhere.
func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", errors.New("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", errors.New("refusing plain HTTP for a non-loopback target; use https:// or --insecure-http")
		}
		return u.Scheme + "://" + u.Host, nil
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	scheme := "https"
	if isLoopbackHost(host) {
		scheme = "http"
	}
	return scheme + "://" + target, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
