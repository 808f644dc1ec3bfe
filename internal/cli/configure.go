package cli

import (
	"errors"
	"fmt"

	"github.com/harun/ranya-sessions/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureDataDir       string
	configureIOWorkers     int
	configureRetryAttempts int
	configureCleanup       bool
	configureSchedule      string
	configureMaxAgeHours   int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Write the configuration file, starting from the current configuration
(or defaults) and applying the given flags. The result is validated before
it is saved.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	flags := configureCmd.Flags()
	flags.StringVar(&configureDataDir, "data-dir", "", "data directory (sessions and logs live below it)")
	flags.IntVar(&configureIOWorkers, "io-workers", 0, "size of the blocking I/O pool")
	flags.IntVar(&configureRetryAttempts, "append-retries", 0, "append attempts on lock contention (1 fails fast)")
	flags.BoolVar(&configureCleanup, "cleanup", false, "enable the stale session cleanup job")
	flags.StringVar(&configureSchedule, "cleanup-schedule", "", "cron schedule of the cleanup job")
	flags.IntVar(&configureMaxAgeHours, "cleanup-max-age", 0, "hours of inactivity before a session is cleaned up")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = configureDataDir
		cfg.Sessions.Dir = ""
		cfg.Sessions.MetadataFile = ""
		cfg.Logging.File = ""
		cfg.ApplyPathDefaults(configureDataDir)
	}
	if flags.Changed("io-workers") {
		cfg.Sessions.IOWorkers = configureIOWorkers
	}
	if flags.Changed("append-retries") {
		cfg.Sessions.AppendRetry.MaxAttempts = configureRetryAttempts
	}
	if flags.Changed("cleanup") {
		cfg.Sessions.Cleanup.Enabled = configureCleanup
	}
	if flags.Changed("cleanup-schedule") {
		cfg.Sessions.Cleanup.Schedule = configureSchedule
	}
	if flags.Changed("cleanup-max-age") {
		cfg.Sessions.Cleanup.MaxAgeHours = configureMaxAgeHours
	}

	// Validate configuration
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	// Save configuration
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Configuration saved to: %s\n", loader.GetConfigPath())
	return printJSON(cmd, cfg)
}
