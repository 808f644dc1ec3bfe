package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/harun/ranya-sessions/pkg/session"
)

const maxIOWorkers = 256

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateIOWorkers validates the size of the blocking I/O pool
func (v *Validator) ValidateIOWorkers(n int) error {
	if n <= 0 {
		return fmt.Errorf("sessions.io_workers must be positive, got %d", n)
	}
	if n > maxIOWorkers {
		return fmt.Errorf("sessions.io_workers too large (max %d), got %d", maxIOWorkers, n)
	}
	return nil
}

// ValidateAppendRetry validates the append retry policy
func (v *Validator) ValidateAppendRetry(cfg AppendRetryConfig) error {
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("sessions.append_retry.max_attempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelayMs < 0 {
		return fmt.Errorf("sessions.append_retry.base_delay_ms must be >= 0, got %d", cfg.BaseDelayMs)
	}
	return nil
}

// ValidateCleanup validates the cleanup job settings. Disabled jobs are not
// checked.
func (v *Validator) ValidateCleanup(cfg CleanupConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if err := session.ParseSchedule(cfg.Schedule); err != nil {
		return fmt.Errorf("sessions.cleanup.schedule: %w", err)
	}
	if cfg.MaxAgeHours <= 0 {
		return fmt.Errorf("sessions.cleanup.max_age_hours must be positive, got %d", cfg.MaxAgeHours)
	}
	return nil
}

// ValidateMetricsAddr validates a host:port listen address
func (v *Validator) ValidateMetricsAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid metrics.addr %q: %w", addr, err)
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateIOWorkers(cfg.Sessions.IOWorkers); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateAppendRetry(cfg.Sessions.AppendRetry); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateCleanup(cfg.Sessions.Cleanup); err != nil {
		errors = append(errors, err)
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateMetricsAddr(cfg.Metrics.Addr); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Tracing.Enabled {
		if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_age must be >= 0"))
	}

	return errors
}
