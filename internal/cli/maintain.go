package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/harun/ranya-sessions/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const pidFileName = "ranya-sessions.pid"

var (
	maintainRunOnce bool
	maintainNoServe bool
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the session maintenance service",
	Long: `Run the session maintenance service in the foreground.
It reconciles the metadata index on startup, runs the stale session cleanup
job on its cron schedule when enabled and serves prometheus metrics until it
receives SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runMaintain,
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainRunOnce, "run-once", false, "reconcile and clean up once, then exit")
	maintainCmd.Flags().BoolVar(&maintainNoServe, "no-metrics", false, "do not serve the metrics endpoint")
	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()

		fixed, err := a.service.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		log.Info().Int("fixed", fixed).Msg("Metadata index reconciled")

		cleanup := session.NewCleanup(a.service, a.cfg.Sessions.Cleanup.Schedule, a.cfg.CleanupMaxAge())

		if maintainRunOnce {
			report, err := cleanup.RunNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"fixed":   fixed,
				"cleanup": report,
			})
		}

		pidFile := getPIDFilePath(a.cfg.DataDir)
		if isRunning(pidFile) {
			return fmt.Errorf("maintenance service is already running (PID file: %s)", pidFile)
		}
		if err := writePIDFile(pidFile); err != nil {
			return err
		}
		defer os.Remove(pidFile)

		if a.cfg.Sessions.Cleanup.Enabled {
			if err := cleanup.Start(); err != nil {
				return err
			}
			defer cleanup.Stop()
		}

		var server *http.Server
		if a.cfg.Metrics.Enabled && !maintainNoServe {
			server = newMetricsServer(a.cfg.Metrics.Addr)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server failed")
				}
			}()
			log.Info().Str("addr", server.Addr).Msg("Serving metrics")
		}

		log.Info().
			Bool("cleanup", a.cfg.Sessions.Cleanup.Enabled).
			Str("schedule", a.cfg.Sessions.Cleanup.Schedule).
			Int("pid", os.Getpid()).
			Msg("Maintenance service started")

		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()

		log.Info().Msg("Shutting down maintenance service")
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}
		return nil
	})
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func getPIDFilePath(dataDir string) string {
	if dataDir == "" {
		return filepath.Join(os.TempDir(), pidFileName)
	}
	return filepath.Join(dataDir, pidFileName)
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
