package cli

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/ranya-sessions/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type maintainOutput struct {
	Fixed   int                    `json:"fixed"`
	Cleanup *session.CleanupReport `json:"cleanup"`
}

func TestMaintainRunOnce(t *testing.T) {
	env := newTestEnv(t, `, "sessions": {"cleanup": {"enabled": true, "max_age_hours": 1}}`)

	env.mustRun(t, nil, "sessions", "append", "main", `{"n":1}`)
	env.mustRun(t, nil, "sessions", "append", "fresh", `{"n":1}`)

	// Orphaned log that reconcile will index before cleanup looks at it
	orphan := filepath.Join(env.sessionsDir(), "orphan.jsonl")
	require.NoError(t, os.WriteFile(orphan, []byte("{\"n\":1}\n"), 0644))

	var out maintainOutput
	env.mustRun(t, &out, "maintain", "--run-once")

	assert.Equal(t, 1, out.Fixed)
	require.NotNil(t, out.Cleanup)
	assert.Equal(t, 3, out.Cleanup.Scanned)
	assert.Empty(t, out.Cleanup.Deleted, "nothing is older than an hour")
	assert.Zero(t, out.Cleanup.Failed)

	assert.NoFileExists(t, getPIDFilePath(env.dataDir), "run-once does not claim the PID file")
}

func TestMaintainAlreadyRunning(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, writePIDFile(getPIDFilePath(env.dataDir)))

	maintainRunOnce = false
	t.Cleanup(func() { maintainRunOnce = false })

	_, err := env.run(t, "", "maintain", "--no-metrics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestMetricsServer(t *testing.T) {
	server := newMetricsServer("127.0.0.1:0")
	assert.Equal(t, 5*time.Second, server.ReadHeaderTimeout)

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "active_sessions")

	missing, err := ts.Client().Get(ts.URL + "/other")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, 404, missing.StatusCode)
}
