package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage and maintenance service status",
	Long: `Show where sessions are stored, how many are indexed and whether the
maintenance service is running.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	SessionsDir  string `json:"sessionsDir"`
	MetadataFile string `json:"metadataFile"`
	Sessions     int    `json:"sessions"`
	Maintain     string `json:"maintain"`
	PID          int    `json:"pid,omitempty"`
	Uptime       string `json:"uptime,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		report := statusReport{
			SessionsDir:  a.cfg.Sessions.Dir,
			MetadataFile: a.cfg.Sessions.MetadataFile,
			Sessions:     a.index.Len(),
			Maintain:     "stopped",
		}

		pidFile := getPIDFilePath(a.cfg.DataDir)
		if isRunning(pidFile) {
			report.Maintain = "running"
			if pid, err := readPID(pidFile); err == nil {
				report.PID = pid
			}
			// PID file modification time approximates the start time
			if info, err := os.Stat(pidFile); err == nil {
				report.Uptime = formatDuration(time.Since(info.ModTime()))
			}
		}

		return printJSON(cmd, report)
	})
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
