package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrynet/ferrytest/backend"
)

// TestBasicCalls covers non-blocking calls forwarded through the ferry:
// successful round trips, error propagation and rejection of methods the
// proxy does not carry.
func TestBasicCalls(t *testing.T) {
	requireBinaries(t)
	req := require.New(t)
	f := NewFixture(t)

	methods := []string{"echo", "error"}
	handlers := backend.NewEcho().Methods().Extended(backend.Methods{
		"doNotCall": func(context.Context, []json.RawMessage) (any, error) {
			return nil, errors.New("invalid forwarded call")
		},
	})

	c := f.RunClient(methods)

	srv := f.RunServer(methods, handlers)

	f.Log().Info("testing successful call forwarding")
	var result string
	req.NoError(c.Rpc().Call(context.Background(), "echo", []string{"bla"}, &result))
	req.Equal("bla", result)
	f.ExpectRPCError(".*my error.*",
		c.Rpc().Call(context.Background(), "error", []string{"my error"}, nil))

	f.Log().Info("testing invalid method call")
	f.ExpectRPCError(".*METHOD_NOT_FOUND.*",
		c.Rpc().Call(context.Background(), "doNotCall", nil, nil))

	srv.Stop()

	f.Log().Info("testing server reselection")
	f.RunServer(methods, handlers)
	req.NoError(c.Rpc().Call(context.Background(), "echo", []string{"success"}, &result))
	req.Equal("success", result)
}
