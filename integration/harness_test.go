package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"

	"github.com/ferrynet/ferrytest/backend"
	"github.com/ferrynet/ferrytest/rpc"
)

func TestFixtureBaseDirLifecycle(t *testing.T) {
	var base string

	t.Run("scope", func(t *testing.T) {
		f := NewFixture(t)
		base = f.BaseDir

		info, err := os.Stat(base)
		require.NoError(t, err)
		require.True(t, info.IsDir())

		_, err = os.Stat(filepath.Join(base, "test.log"))
		require.NoError(t, err)
	})

	_, err := os.Stat(base)
	require.True(t, os.IsNotExist(err), "base directory must be removed after a successful test")
}

func TestFixtureNotificationBackendDisabledOnCleanup(t *testing.T) {
	var notif *backend.Notification

	t.Run("scope", func(t *testing.T) {
		f := NewFixture(t)
		notif = f.NewNotificationBackend()
		notif.Update("inside")
	})

	// Cleanup disabled the backend, so the call returns immediately
	// instead of parking.
	state, err := notif.WaitForChange("")
	require.NoError(t, err)
	require.Equal(t, "inside", state)
}

func TestFixtureExpectRPCError(t *testing.T) {
	f := NewFixture(t)

	f.ExpectRPCError(".*my error.*", &jsonrpc2.Error{
		Code:    jsonrpc2.CodeInternalError,
		Message: "handler: my error",
	})
}

func TestFixtureDrivesNotificationEndpoint(t *testing.T) {
	req := require.New(t)
	f := NewFixture(t)

	notif := f.NewNotificationBackend()

	e := rpc.NewEndpoint("127.0.0.1:0", notif.Methods(), f.Log())
	req.NoError(e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, err := rpc.Dial(ctx, e.Addr(), f.Log())
	req.NoError(err)
	t.Cleanup(func() { _ = client.Close() })

	w := rpc.NewWaiter(client, "waitforchange", []string{""})
	f.AssertStillPending(w)

	notif.Update("finally")
	var state string
	req.NoError(w.Wait(&state))
	req.Equal("finally", state)
}

func TestFixturePreservesPortOrderAcrossHelpers(t *testing.T) {
	f := NewFixture(t)

	first := f.Ports.Next()
	second := f.Ports.Next()
	require.Equal(t, first+1, second)
}
