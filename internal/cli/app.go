package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harun/ranya-sessions/internal/config"
	"github.com/harun/ranya-sessions/internal/logger"
	"github.com/harun/ranya-sessions/internal/observability"
	"github.com/harun/ranya-sessions/internal/tracing"
	"github.com/harun/ranya-sessions/pkg/iopool"
	"github.com/harun/ranya-sessions/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// app is the wired session subsystem shared by every command.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	store   *session.Store
	index   *session.Index
	service *session.Service
	audit   bool
}

// newApp loads the configuration and builds logging, tracing, the I/O pool,
// the log store, the metadata index and the service on top of them.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: lg}

	if cfg.Sessions.Audit.File != "" {
		if err := observability.InitAuditLogger(cfg.Sessions.Audit.File); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.audit = true
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	pool := iopool.New(cfg.Sessions.IOWorkers)

	a.store, err = session.NewStore(cfg.Sessions.Dir, pool)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.index, err = session.LoadIndex(cfg.Sessions.MetadataFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = session.NewService(a.store, a.index, session.WithRetryPolicy(cfg.RetryPolicy()))

	log.Debug().
		Str("sessions_dir", cfg.Sessions.Dir).
		Str("metadata_file", cfg.Sessions.MetadataFile).
		Int("io_workers", pool.Size()).
		Int("sessions", a.index.Len()).
		Msg("Session subsystem ready")

	return a, nil
}

// Close flushes tracing and releases the audit and log files.
func (a *app) Close() {
	if a.cfg.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
		cancel()
	}
	if a.audit {
		if err := observability.GetAuditLogger().Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close audit log")
		}
	}
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

// withApp builds the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
