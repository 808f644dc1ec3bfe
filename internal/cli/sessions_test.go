package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/ranya-sessions/pkg/session"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points the CLI at a config file inside a temp data dir.
type testEnv struct {
	dataDir    string
	configPath string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	configPath := filepath.Join(dataDir, "config.json")
	doc := `{"data_dir": "` + filepath.ToSlash(dataDir) + `", "logging": {"level": "warn"}` + extra + `}`
	require.NoError(t, os.WriteFile(configPath, []byte(doc), 0644))

	return &testEnv{dataDir: dataDir, configPath: configPath}
}

func (e *testEnv) sessionsDir() string {
	return filepath.Join(e.dataDir, "sessions")
}

// run executes the root command with args and returns stdout.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	previewLimit = session.DefaultPreviewLimit
	renameLabel = ""
	if f := sessionsRenameCmd.Flags().Lookup("label"); f != nil {
		f.Changed = false
	}

	cmd := GetRootCmd()
	resetHelpFlags(cmd)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()
	return output.String(), err
}

// resetHelpFlags clears --help left set by earlier executions of the shared
// command tree.
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, c := range cmd.Commands() {
		resetHelpFlags(c)
	}
}

func (e *testEnv) mustRun(t *testing.T, v interface{}, args ...string) {
	t.Helper()

	out, err := e.run(t, "", args...)
	require.NoError(t, err, "args: %v", args)
	if v != nil {
		require.NoError(t, json.Unmarshal([]byte(out), v), out)
	}
}

type listOutput struct {
	Sessions []session.Entry `json:"sessions"`
}

func TestSessionsCommandExists(t *testing.T) {
	found := map[string]bool{}
	for _, c := range sessionsCmd.Commands() {
		found[c.Name()] = true
	}

	for _, name := range []string{"list", "preview", "show", "rename", "reset", "delete", "compact", "append", "reconcile"} {
		assert.True(t, found[name], "sessions %s should exist", name)
	}
}

func TestSessionsLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	var appended session.AppendResult
	env.mustRun(t, &appended, "sessions", "append", "chat:1", `{"role":"user","content":"hi"}`)
	assert.Equal(t, "chat:1", appended.Key)
	assert.Equal(t, uint32(1), appended.MessageCount)

	env.mustRun(t, &appended, "sessions", "append", "chat:1", `{"role":"assistant","content":"hello"}`)
	assert.Equal(t, uint32(2), appended.MessageCount)
	assert.FileExists(t, filepath.Join(env.sessionsDir(), "chat%3A1.jsonl"))

	var list listOutput
	env.mustRun(t, &list, "sessions", "list")
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "chat:1", list.Sessions[0].Key)
	assert.Equal(t, uint32(2), list.Sessions[0].MessageCount)
	assert.Nil(t, list.Sessions[0].Label)

	var preview session.PreviewResult
	env.mustRun(t, &preview, "sessions", "preview", "chat:1", "--limit", "1")
	require.Len(t, preview.Messages, 1)
	assert.JSONEq(t, `{"role":"assistant","content":"hello"}`, string(preview.Messages[0]))

	env.mustRun(t, &preview, "sessions", "preview", "chat:1", "--limit", "0")
	assert.Empty(t, preview.Messages)

	env.mustRun(t, &preview, "sessions", "preview", "chat:1")
	assert.Len(t, preview.Messages, 2)

	var patched session.PatchResult
	env.mustRun(t, &patched, "sessions", "rename", "chat:1", "--label", "Support")
	require.NotNil(t, patched.Label)
	assert.Equal(t, "Support", *patched.Label)

	var resolved session.ResolveResult
	env.mustRun(t, &resolved, "sessions", "show", "chat:1")
	assert.Len(t, resolved.History, 2)
	require.NotNil(t, resolved.Entry.Label)
	assert.Equal(t, "Support", *resolved.Entry.Label)

	var ack session.Ack
	env.mustRun(t, &ack, "sessions", "reset", "chat:1")
	assert.Equal(t, session.AckOK, ack.Status)

	env.mustRun(t, &resolved, "sessions", "show", "chat:1")
	assert.Empty(t, resolved.History)
	assert.Equal(t, uint32(0), resolved.Entry.MessageCount)

	env.mustRun(t, &ack, "sessions", "delete", "chat:1")
	assert.Equal(t, session.AckOK, ack.Status)

	env.mustRun(t, &list, "sessions", "list")
	assert.Empty(t, list.Sessions)
}

func TestSessionsAppendFromStdin(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, `{"role":"user","content":"piped"}`+"\n", "sessions", "append", "main")
	require.NoError(t, err)

	var appended session.AppendResult
	require.NoError(t, json.Unmarshal([]byte(out), &appended))
	assert.Equal(t, "main", appended.Key)
	assert.Equal(t, uint32(1), appended.MessageCount)
}

func TestSessionsAppendRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "", "sessions", "append", "main", "{not json")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidParams)

	_, err = env.run(t, "   ", "sessions", "append", "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidParams)
}

func TestSessionsErrors(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("show unknown session", func(t *testing.T) {
		_, err := env.run(t, "", "sessions", "show", "nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("rename unknown session", func(t *testing.T) {
		_, err := env.run(t, "", "sessions", "rename", "nope", "--label", "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("delete main is refused", func(t *testing.T) {
		_, err := env.run(t, "", "sessions", "delete", session.MainKey)
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrReservedSession)
	})

	t.Run("missing key argument", func(t *testing.T) {
		_, err := env.run(t, "", "sessions", "show")
		assert.Error(t, err)
	})
}

func TestSessionsCompact(t *testing.T) {
	env := newTestEnv(t, "")

	var ack session.Ack
	env.mustRun(t, &ack, "sessions", "compact", "main")
	assert.Equal(t, session.AckNotSupported, ack.Status)
	assert.NotEmpty(t, ack.Message)
}

func TestSessionsReconcile(t *testing.T) {
	env := newTestEnv(t, "")

	env.mustRun(t, nil, "sessions", "append", "main", `{"n":1}`)

	// A log written behind the index's back
	orphan := filepath.Join(env.sessionsDir(), "orphan.jsonl")
	require.NoError(t, os.WriteFile(orphan, []byte("{\"n\":1}\n{\"n\":2}\n"), 0644))

	var result map[string]int
	env.mustRun(t, &result, "sessions", "reconcile")
	assert.Equal(t, 1, result["fixed"])

	var list listOutput
	env.mustRun(t, &list, "sessions", "list")
	counts := map[string]uint32{}
	for _, e := range list.Sessions {
		counts[e.Key] = e.MessageCount
	}
	assert.Equal(t, map[string]uint32{"main": 1, "orphan": 2}, counts)

	env.mustRun(t, &result, "sessions", "reconcile")
	assert.Equal(t, 0, result["fixed"])
}

func TestReadMessage(t *testing.T) {
	cmd := &cobra.Command{}

	cmd.SetIn(strings.NewReader(`  {"a":1}  `))
	msg, err := readMessage(cmd, []string{"-"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(msg))

	msg, err = readMessage(cmd, []string{`"plain string"`})
	require.NoError(t, err)
	assert.Equal(t, `"plain string"`, string(msg))
}
