package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/fetchd/internal/config"
	"github.com/surge-downloader/fetchd/internal/core"
	"github.com/surge-downloader/fetchd/internal/engine/events"
	"github.com/surge-downloader/fetchd/internal/engine/types"
	"github.com/surge-downloader/fetchd/internal/utils"
)

var errAlreadyRunning = errors.New("fetchd server is already running")

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the fetchd background server (daemon)",
	Long:  `Start, stop, or check the status of the fetchd background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start [url]...",
	Short: "Start the fetchd server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := readSettings()
		if err != nil {
			return err
		}
		if err := initializeGlobalState(settings); err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		batchFile, _ := cmd.Flags().GetString("batch")
		outputDir, _ := cmd.Flags().GetString("output")
		if outputDir != "" {
			settings.General.DownloadDir = utils.EnsureAbsPath(outputDir)
		}

		urls := append([]string(nil), args...)
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fileURLs...)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, settings, serverOptions{Port: port, URLs: urls, Out: cmd.OutOrStdout()})
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fetchd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No running fetchd server found (PID file missing).")
			return nil
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("error finding process: %w", err)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("error stopping server: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to process %d\n", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the fetchd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(out, "fetchd server is NOT running.")
			return nil
		}

		// Signal 0 checks existence
		process, err := os.FindProcess(pid)
		if err == nil {
			err = process.Signal(syscall.Signal(0))
		}
		if err != nil {
			fmt.Fprintf(out, "fetchd server is NOT running (process %d gone).\n", pid)
			return nil
		}

		fmt.Fprintf(out, "fetchd server is running (PID: %d, Port: %d).\n", pid, readActivePort())
		if svc, err := connectService(); err == nil {
			if h, err := svc.Health(); err == nil && h.PersistenceError != "" {
				fmt.Fprintf(out, "Warning: state is not being saved: %s\n", h.PersistenceError)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().StringP("batch", "b", "", "File containing URLs to download")
	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: settings port or the next free one)")
	serverStartCmd.Flags().StringP("output", "o", "", "Download directory for this run")
}

type serverOptions struct {
	Port int // strict port; 0 searches from the configured one
	URLs []string
	Out  io.Writer
}

// runServer runs the daemon until ctx is cancelled: it takes the instance
// lock, starts the engine and the control API, queues initial URLs and on
// exit pauses running downloads and saves state.
func runServer(ctx context.Context, settings *config.Settings, opts serverOptions) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	isMaster, err := AcquireLock()
	if err != nil {
		return err
	}
	if !isMaster {
		return errAlreadyRunning
	}
	defer func() {
		if err := ReleaseLock(); err != nil {
			utils.Debug("Error releasing lock: %v", err)
		}
	}()

	savePID()
	defer removePID()

	host := settings.Server.ListenAddress
	var (
		port     int
		listener net.Listener
	)
	if opts.Port > 0 {
		port = opts.Port
		listener, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return fmt.Errorf("could not bind to port %d: %w", port, err)
		}
	} else {
		port, listener = findAvailablePort(host, settings.Server.Port)
		if listener == nil {
			return errors.New("could not find available port")
		}
	}

	progressCh := make(chan any, types.EventChannelBuffer)
	consumerDone := StartHeadlessConsumer(progressCh, out)

	svc, err := core.StartLocalDownloadService(settings, config.GetStateDir(), progressCh)
	if err != nil {
		_ = listener.Close()
		close(progressCh)
		<-consumerDone
		return err
	}
	svc.Port = port

	saveActivePort(port)
	defer removeActivePort()
	server := startHTTPServer(listener, svc)

	fmt.Fprintf(out, "fetchd %s running in server mode.\n", Version)
	fmt.Fprintf(out, "HTTP server listening on %s\n", net.JoinHostPort(host, strconv.Itoa(port)))
	fmt.Fprintf(out, "Downloading to %s\n", settings.General.DownloadDir)

	for _, u := range opts.URLs {
		if _, err := svc.Add(u); err != nil {
			fmt.Fprintf(out, "Error adding %s: %v\n", u, err)
		}
	}

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Debug("HTTP server shutdown: %v", err)
	}

	err = svc.Shutdown()
	close(progressCh)
	<-consumerDone
	return err
}

// StartHeadlessConsumer prints lifecycle events to out until ch is closed.
// The returned channel is closed once everything was printed.
func StartHeadlessConsumer(ch <-chan any, out io.Writer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			if line, ok := events.Describe(msg); ok {
				fmt.Fprintln(out, line)
			}
		}
	}()
	return done
}
