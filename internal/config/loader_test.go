package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(tmpDir, "nonexistent.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Sessions.IOWorkers)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions"), cfg.Sessions.Dir)
		assert.Equal(t, filepath.Join(cfg.Sessions.Dir, "sessions.json"), cfg.Sessions.MetadataFile)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + filepath.ToSlash(tmpDir) + `",
			"sessions": {
				"io_workers": 3,
				"append_retry": {"max_attempts": 5},
				"cleanup": {"enabled": true, "schedule": "0 4 * * *"}
			},
			"logging": {"level": "debug"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, filepath.ToSlash(tmpDir), cfg.DataDir)
		assert.Equal(t, 3, cfg.Sessions.IOWorkers)
		assert.Equal(t, 5, cfg.Sessions.AppendRetry.MaxAttempts)
		assert.Equal(t, 25, cfg.Sessions.AppendRetry.BaseDelayMs, "unset keys keep defaults")
		assert.True(t, cfg.Sessions.Cleanup.Enabled)
		assert.Equal(t, "0 4 * * *", cfg.Sessions.Cleanup.Schedule)
		assert.Equal(t, 720, cfg.Sessions.Cleanup.MaxAgeHours)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("RANYA_SESSIONS_IO_WORKERS", "12")
		t.Setenv("RANYA_LOGGING_LEVEL", "warn")
		t.Setenv("RANYA_DATA_DIR", tmpDir)

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, 12, cfg.Sessions.IOWorkers)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Sessions.Dir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Sessions.IOWorkers = 6
	cfg.Sessions.Cleanup.Enabled = true

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))
	assert.FileExists(t, configPath)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, tmpDir, loaded.DataDir)
	assert.Equal(t, 6, loaded.Sessions.IOWorkers)
	assert.True(t, loaded.Sessions.Cleanup.Enabled)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
