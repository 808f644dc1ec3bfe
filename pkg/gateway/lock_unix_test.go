//go:build unix

package gateway

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSessionMethods_AppendLocked(t *testing.T) {
	f := newGatewayFixture(t)

	path, err := f.store.Path("busy")
	require.NoError(t, err)
	holder, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_EX|unix.LOCK_NB))

	_, rpcErr := f.call(t, "sessions.append", map[string]interface{}{"key": "busy", "message": "hi"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, SessionLocked, rpcErr.Code)
}

func TestSessionMethods_AppendRetryAfterUnlock(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	path, err := f.store.Path("busy")
	require.NoError(t, err)
	holder, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_EX|unix.LOCK_NB))

	req := &RPCRequest{
		ID:             "1",
		Method:         "sessions.append",
		Params:         map[string]interface{}{"key": "busy", "message": "hi"},
		IdempotencyKey: "append-1",
	}
	first := f.router.RouteRequest(ctx, req)
	require.NotNil(t, first.Error)
	assert.Equal(t, SessionLocked, first.Error.Code)

	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_UN))

	retry := f.router.RouteRequest(ctx, req)
	require.Nil(t, retry.Error)

	records, err := f.store.Read(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// A replay of the successful request does not append again
	replay := f.router.RouteRequest(ctx, req)
	require.Nil(t, replay.Error)
	records, err = f.store.Read(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
