package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobalLogger(t *testing.T) {
	t.Helper()
	previous := log.Logger
	t.Cleanup(func() { log.Logger = previous })
}

func TestNew(t *testing.T) {
	restoreGlobalLogger(t)

	t.Run("console output is JSON when not pretty", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newWithConsole(Config{Level: "info", Console: true}, &buf)
		require.NoError(t, err)
		defer logger.Close()

		log.Info().Str("session_key", "main").Msg("hello")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "hello", entry["message"])
		assert.Equal(t, "main", entry["session_key"])
		assert.Equal(t, "info", entry["level"])
		assert.Contains(t, entry, "time")
	})

	t.Run("level filters events", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newWithConsole(Config{Level: "warn", Console: true}, &buf)
		require.NoError(t, err)
		defer logger.Close()

		log.Info().Msg("dropped")
		assert.Zero(t, buf.Len())
		log.Warn().Msg("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := newWithConsole(Config{Level: "loud"}, &bytes.Buffer{})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		log.Debug().Msg("written to file")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to file")
	})

	t.Run("rotating file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1, MaxAge: 7})
		require.NoError(t, err)
		defer logger.Close()

		_, ok := logger.closer.(*RotatingWriter)
		assert.True(t, ok)
	})

	t.Run("console and file together", func(t *testing.T) {
		var buf bytes.Buffer
		logFile := filepath.Join(t.TempDir(), "both.log")

		logger, err := newWithConsole(Config{Level: "info", Console: true, File: logFile}, &buf)
		require.NoError(t, err)

		log.Info().Msg("twice")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "twice")
		assert.Contains(t, buf.String(), "twice")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
