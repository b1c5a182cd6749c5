package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"

	"github.com/ferrynet/ferrytest/backend"
)

func TestWaiterDeliversResult(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	release := make(chan struct{})
	methods := backend.Methods{
		"block": func(_ context.Context, params []json.RawMessage) (any, error) {
			<-release
			return backend.StringArg(params, 0)
		},
	}
	e := startEndpoint(t, methods)
	client := dialEndpoint(t, e)

	w := NewWaiter(client, "block", []string{"payload"})
	req.True(w.StillPending(100 * time.Millisecond))

	close(release)
	var result string
	req.NoError(w.Wait(&result))
	req.Equal("payload", result)
	req.False(w.StillPending(0))
}

func TestWaiterReRaisesError(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	e := startEndpoint(t, backend.NewEcho().Methods())
	client := dialEndpoint(t, e)

	w := NewWaiter(client, "error", []string{"delayed failure"})
	err := w.Wait(nil)
	req.Error(err)
	var rpcErr *jsonrpc2.Error
	req.ErrorAs(err, &rpcErr)
	req.Regexp(".*delayed failure.*", rpcErr.Message)
}

func TestWaiterDiscardsResultWithoutTarget(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	e := startEndpoint(t, backend.NewEcho().Methods())
	client := dialEndpoint(t, e)

	w := NewWaiter(client, "echo", []string{"ignored"})
	req.NoError(w.Wait(nil))
}
