package integration

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ferrynet/ferrytest/backend"
	"github.com/ferrynet/ferrytest/logging"
	"github.com/ferrynet/ferrytest/rpc"
)

const dirPrefix = "ferrytest"

// dialTimeout bounds connecting to a freshly started process's local RPC
// server. The startup grace has already passed by then.
const dialTimeout = 5 * time.Second

// Fixture assembles what one end-to-end test needs: the resolved XMPP
// environment, a scratch directory for logs, a logger writing there and
// a port allocator. Teardown is hooked into the test: on success the
// scratch directory is removed, on failure it is kept for postmortem
// reading.
type Fixture struct {
	Env     *Environment
	BaseDir string
	Ports   *PortAllocator

	t   *testing.T
	log *zap.Logger
}

// NewFixture resolves the test environment and builds the fixture,
// failing the test immediately if the configuration is broken.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	env, err := ResolveEnvironment()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	base := filepath.Join(os.TempDir(), fmt.Sprintf("%s_%08x", dirPrefix, rng.Uint32()))
	require.NoError(t, os.RemoveAll(base))
	require.NoError(t, os.Mkdir(base, 0o755))

	log := logging.New(zapcore.InfoLevel, filepath.Join(base, "test.log"), false)
	log.Info("base directory for integration test", zap.String("dir", base))
	log.Info("using test server", zap.String("server", env.Server))

	f := &Fixture{
		Env:     env,
		BaseDir: base,
		Ports:   NewPortAllocator(log),
		t:       t,
		log:     log,
	}
	t.Cleanup(f.teardown)
	return f
}

func (f *Fixture) teardown() {
	if f.t.Failed() {
		f.log.Error("test failed, keeping base directory", zap.String("dir", f.BaseDir))
		_ = f.log.Sync()
		f.t.Logf("logs preserved in %s", f.BaseDir)
		return
	}
	f.log.Info("test succeeded")
	_ = f.log.Sync()
	_ = os.RemoveAll(f.BaseDir)
}

// Log returns the fixture's logger. Scenario tests use it to mark their
// progress in the preserved log file.
func (f *Fixture) Log() *zap.Logger {
	return f.log
}

// ClientProcess is a running ferry-client process together with a
// persistent connection to its local RPC server.
type ClientProcess struct {
	fixture *Fixture
	super   *Supervisor
	rpc     *rpc.Client
	port    int
	stopped bool
}

// RunClient launches a ferry-client exposing the given methods on a local
// port, connects to it and registers cleanup with the test. The second
// test account is the client's own login; the first is the server JID it
// sends calls to.
func (f *Fixture) RunClient(methods []string, extraArgs ...string) *ClientProcess {
	f.t.Helper()

	port := f.Ports.Next()
	args := []string{
		"--nodetect_server",
		"--port", strconv.Itoa(port),
		"--client_jid", f.Env.JID(1),
		"--server_jid", f.Env.JID(0),
		"--password", f.Env.Accounts[1].Password,
		"--methods", strings.Join(methods, ","),
		"--cafile", f.Env.RootCAPath(),
	}
	args = append(args, extraArgs...)

	super := NewSupervisor(f.log, ProcessConfig{
		Name:   "ferry-client",
		Binary: BinaryPath("ferry-client"),
		Args:   args,
		Env:    []string{EnvLogDir + "=" + f.BaseDir},
		Grace:  startupGrace,
	})
	require.NoError(f.t, super.Start())

	c := &ClientProcess{fixture: f, super: super, port: port}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := rpc.Dial(ctx, c.Addr(), f.log.Named("client_rpc"))
	if err != nil {
		_ = super.Stop()
		f.t.Fatalf("connecting to ferry-client: %v", err)
	}
	c.rpc = conn

	f.t.Cleanup(func() {
		if !c.stopped {
			c.Stop()
		}
	})
	return c
}

// Addr returns the address of the process's local RPC server.
func (c *ClientProcess) Addr() string {
	return fmt.Sprintf("localhost:%d", c.port)
}

// Rpc returns the persistent connection to the process.
func (c *ClientProcess) Rpc() *rpc.Client {
	return c.rpc
}

// Connect opens a fresh connection to the process's local RPC server for
// callers that want one with its own lifecycle, load generators for
// example.
func (c *ClientProcess) Connect(ctx context.Context) (*rpc.Client, error) {
	return rpc.Dial(ctx, c.Addr(), c.fixture.log.Named("client_rpc"))
}

// Stop shuts the process down through its remote stop method, falling
// back to SIGTERM, and fails the test if that does not complete cleanly.
func (c *ClientProcess) Stop() {
	f := c.fixture
	f.t.Helper()
	c.stopped = true

	err := c.super.StopGracefully(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return c.rpc.Notify(ctx, "stop", nil)
	})
	closeErr := c.rpc.Close()
	require.NoError(f.t, err)
	require.NoError(f.t, closeErr)
}

// ServerProcess is a running ferry-server process together with the
// backend endpoint it forwards calls to.
type ServerProcess struct {
	fixture  *Fixture
	super    *Supervisor
	endpoint *rpc.Endpoint
	stopped  bool
}

// RunServer starts a backend endpoint serving handlers and then a
// ferry-server forwarding the given methods to it. The endpoint comes up
// before the process, so the backend is reachable the moment the process
// connects. Cleanup is registered with the test; tests that replace a
// server mid-run call Stop themselves.
func (f *Fixture) RunServer(methods []string, handlers backend.Methods, extraArgs ...string) *ServerProcess {
	f.t.Helper()

	port := f.Ports.Next()
	addr := fmt.Sprintf("localhost:%d", port)

	endpoint := rpc.NewEndpoint(addr, handlers, f.log.Named("backend"))
	require.NoError(f.t, endpoint.Start(context.Background()))

	args := []string{
		"--backend_rpc_url", "http://" + addr,
		"--server_jid", f.Env.JID(0),
		"--password", f.Env.Accounts[0].Password,
		"--pubsub_service", f.Env.PubSub,
		"--methods", strings.Join(methods, ","),
		"--cafile", f.Env.RootCAPath(),
	}
	args = append(args, extraArgs...)

	super := NewSupervisor(f.log, ProcessConfig{
		Name:   "ferry-server",
		Binary: BinaryPath("ferry-server"),
		Args:   args,
		Env:    []string{EnvLogDir + "=" + f.BaseDir},
		Grace:  startupGrace,
	})
	if err := super.Start(); err != nil {
		_ = endpoint.Stop()
		f.t.Fatalf("starting ferry-server: %v", err)
	}

	s := &ServerProcess{fixture: f, super: super, endpoint: endpoint}
	f.t.Cleanup(func() {
		if !s.stopped {
			s.Stop()
		}
	})
	return s
}

// Stop terminates the process and then the backend endpoint, in that
// order, failing the test if either does not shut down cleanly.
func (s *ServerProcess) Stop() {
	f := s.fixture
	f.t.Helper()
	s.stopped = true

	procErr := s.super.Stop()
	endpointErr := s.endpoint.Stop()
	require.NoError(f.t, procErr)
	require.NoError(f.t, endpointErr)
}

// NewNotificationBackend returns an enabled Notification whose disable is
// deferred to test cleanup. The deferred disable is what releases waiters
// still parked when the test ends; the endpoint does not wait for them on
// its own.
func (f *Fixture) NewNotificationBackend() *backend.Notification {
	n := backend.NewNotification(f.log.Named("notification"))
	n.Enable()
	f.t.Cleanup(n.Disable)
	return n
}

// ExpectRPCError asserts that err is a structured RPC error whose message
// matches pattern, recording the message in the test log.
func (f *Fixture) ExpectRPCError(pattern string, err error) {
	f.t.Helper()
	req := require.New(f.t)

	req.Error(err, "expected RPC error matching %q", pattern)
	var rpcErr *jsonrpc2.Error
	req.ErrorAs(err, &rpcErr, "expected RPC error matching %q, got: %v", pattern, err)
	req.Regexp(pattern, rpcErr.Message)
	f.log.Info("caught expected RPC error", zap.String("message", rpcErr.Message))
}

// AssertStillPending fails the test if the call tracked by w completed
// within a 100ms probe window.
func (f *Fixture) AssertStillPending(w *rpc.Waiter) {
	f.t.Helper()
	require.True(f.t, w.StillPending(100*time.Millisecond),
		"call completed although it should still be blocked")
}
