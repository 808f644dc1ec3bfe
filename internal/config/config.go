package config

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/harun/ranya-sessions/internal/logger"
	"github.com/harun/ranya-sessions/pkg/session"
)

// Config represents the ranya-sessions configuration
type Config struct {
	// Data directory, defaults to ~/.ranya
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint used by the maintain command
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// SessionsConfig holds session storage configuration
type SessionsConfig struct {
	Dir          string             `json:"dir" mapstructure:"dir"`                     // defaults to <data_dir>/sessions
	MetadataFile string             `json:"metadata_file" mapstructure:"metadata_file"` // defaults to <dir>/sessions.json
	IOWorkers    int                `json:"io_workers" mapstructure:"io_workers"`
	AppendRetry  AppendRetryConfig  `json:"append_retry" mapstructure:"append_retry"`
	Cleanup      CleanupConfig      `json:"cleanup" mapstructure:"cleanup"`
	Audit        SessionAuditConfig `json:"audit" mapstructure:"audit"`
}

// AppendRetryConfig controls retries of appends rejected by a held log lock
type AppendRetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"` // 1 means fail fast
	BaseDelayMs int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
}

// CleanupConfig controls the stale session cleanup job
type CleanupConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Schedule    string `json:"schedule" mapstructure:"schedule"`
	MaxAgeHours int    `json:"max_age_hours" mapstructure:"max_age_hours"`
}

// SessionAuditConfig controls the audit trail of session mutations
type SessionAuditConfig struct {
	File string `json:"file" mapstructure:"file"` // empty writes audit events to stderr
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	Pretty   bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{
			IOWorkers: 8,
			AppendRetry: AppendRetryConfig{
				MaxAttempts: 1,
				BaseDelayMs: 25,
			},
			Cleanup: CleanupConfig{
				Enabled:     false,
				Schedule:    session.DefaultCleanupSchedule,
				MaxAgeHours: int(session.DefaultCleanupAge / time.Hour),
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Pretty:   true,
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ranya-sessions",
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid and returns the first problem
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ApplyPathDefaults fills empty paths from dataDir. It is a no-op for paths
// that are already set.
func (c *Config) ApplyPathDefaults(dataDir string) {
	if c.DataDir == "" {
		c.DataDir = dataDir
	}
	if c.Sessions.Dir == "" {
		c.Sessions.Dir = filepath.Join(c.DataDir, "sessions")
	}
	if c.Sessions.MetadataFile == "" {
		c.Sessions.MetadataFile = filepath.Join(c.Sessions.Dir, session.MetadataFileName)
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "ranya-sessions.log")
	}
}

// RetryPolicy converts the append retry settings
func (c *Config) RetryPolicy() session.RetryPolicy {
	return session.RetryPolicy{
		MaxAttempts: c.Sessions.AppendRetry.MaxAttempts,
		BaseDelay:   time.Duration(c.Sessions.AppendRetry.BaseDelayMs) * time.Millisecond,
	}
}

// CleanupMaxAge returns the cleanup age as a duration
func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.Sessions.Cleanup.MaxAgeHours) * time.Hour
}

// LoggerConfig converts the logging settings. Console output is always on.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:    c.Logging.Level,
		File:     c.Logging.File,
		Console:  true,
		Pretty:   c.Logging.Pretty,
		MaxSize:  c.Logging.MaxSize,
		MaxAge:   c.Logging.MaxAge,
		Compress: c.Logging.Compress,
	}
}
