package cli

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/harun/ranya-sessions/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCCommand(t *testing.T) {
	env := newTestEnv(t, "")

	requests := strings.Join([]string{
		`{"jsonrpc":"2.0","id":"1","method":"sessions.append","params":{"key":"chat:7","message":{"role":"user","content":"hi"}}}`,
		``,
		`{"jsonrpc":"2.0","id":"2","method":"sessions.resolve","params":{"key":"chat:7"}}`,
		`{"jsonrpc":"2.0","id":"3","method":"sessions.delete","params":{"key":"main"}}`,
		`{"jsonrpc":"2.0","id":"4","method":"sessions.bogus"}`,
	}, "\n")

	out, err := env.run(t, requests, "rpc")
	require.NoError(t, err)

	var responses []gateway.RPCResponse
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var resp gateway.RPCResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), scanner.Text())
		responses = append(responses, resp)
	}
	require.Len(t, responses, 4, "blank lines are skipped")

	assert.Equal(t, "1", responses[0].ID)
	assert.Nil(t, responses[0].Error)
	appended := responses[0].Result.(map[string]interface{})
	assert.Equal(t, "chat:7", appended["key"])
	assert.Equal(t, float64(1), appended["messageCount"])

	assert.Nil(t, responses[1].Error)
	resolved := responses[1].Result.(map[string]interface{})
	assert.Len(t, resolved["history"], 1)

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, gateway.Forbidden, responses[2].Error.Code)

	require.NotNil(t, responses[3].Error)
	assert.Equal(t, gateway.MethodNotFound, responses[3].Error.Code)
}
