package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ferrynet/ferrytest/backend"
	"github.com/ferrynet/ferrytest/logging"
)

// Endpoint serves a fixed set of backend methods as JSON-RPC on a TCP
// address. The method set is copied at construction and cannot be changed
// afterwards. Requests are dispatched concurrently; calls into different
// methods never wait on each other.
type Endpoint struct {
	addr    string
	methods backend.Methods
	log     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*jsonrpc2.Conn]struct{}
	stopped  bool

	eg errgroup.Group
}

func NewEndpoint(addr string, methods backend.Methods, log *zap.Logger) *Endpoint {
	return &Endpoint{
		addr:    addr,
		methods: methods.Extended(nil),
		log:     log,
		conns:   make(map[*jsonrpc2.Conn]struct{}),
	}
}

// Start binds the listener and runs the accept loop on a background
// goroutine until Stop is called. Starting twice is an error.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return errors.New("endpoint already started")
	}
	if e.stopped {
		return errors.New("endpoint already stopped")
	}

	lis, err := net.Listen("tcp", e.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.addr, err)
	}
	e.listener = lis
	e.log.Info("serving backend methods",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("methods", e.methods.Names()),
	)

	ctx = logging.NewContext(ctx, e.log)
	e.eg.Go(func() error {
		return e.acceptLoop(ctx, lis)
	})
	return nil
}

// Addr returns the address the endpoint listens on. Before Start it is the
// address the endpoint was constructed with.
func (e *Endpoint) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.addr
}

// Stop closes the listener and all open connections and waits for the
// accept loop to finish. Handlers still parked inside a blocking backend
// method are not awaited; releasing them is that backend's teardown duty.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.listener == nil {
		e.mu.Unlock()
		return errors.New("endpoint was never started")
	}
	if e.stopped {
		e.mu.Unlock()
		return errors.New("endpoint already stopped")
	}
	e.stopped = true
	lis := e.listener
	conns := make([]*jsonrpc2.Conn, 0, len(e.conns))
	for conn := range e.conns {
		conns = append(conns, conn)
	}
	e.mu.Unlock()

	var result *multierror.Error
	result = multierror.Append(result, lis.Close())
	for _, conn := range conns {
		if err := conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	result = multierror.Append(result, e.eg.Wait())

	e.log.Info("endpoint stopped", zap.String("addr", lis.Addr().String()))
	return result.ErrorOrNil()
}

func (e *Endpoint) acceptLoop(ctx context.Context, lis net.Listener) error {
	handler := jsonrpc2.AsyncHandler(dispatcher{methods: e.methods, log: e.log})
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})
		e.track(jsonrpc2.NewConn(ctx, stream, handler))
	}
}

func (e *Endpoint) track(conn *jsonrpc2.Conn) {
	e.mu.Lock()
	if e.stopped {
		// Lost the race against Stop; its close sweep no longer
		// covers this connection.
		e.mu.Unlock()
		_ = conn.Close()
		return
	}
	e.conns[conn] = struct{}{}
	e.mu.Unlock()
	openConnectionsMetric.Inc()

	go func() {
		<-conn.DisconnectNotify()
		e.mu.Lock()
		delete(e.conns, conn)
		e.mu.Unlock()
		openConnectionsMetric.Dec()
	}()
}

// dispatcher resolves inbound requests against the method registry.
type dispatcher struct {
	methods backend.Methods
	log     *zap.Logger
}

func (d dispatcher) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	logger := d.log.Named(req.Method).With(zap.Stringer("request_id", uuid.New()))
	ctx = logging.NewContext(ctx, logger)

	if req.Notif {
		logger.Debug("ignoring notification")
		return
	}
	requestsMetric.WithLabelValues(req.Method).Inc()

	handler, ok := d.methods[req.Method]
	if !ok {
		logger.Info("method not found")
		requestErrorsMetric.WithLabelValues(req.Method).Inc()
		d.reply(ctx, logger, conn, req, nil, methodNotFound(req.Method))
		return
	}

	params, err := positionalParams(req.Params)
	if err != nil {
		requestErrorsMetric.WithLabelValues(req.Method).Inc()
		d.reply(ctx, logger, conn, req, nil, err)
		return
	}

	result, err := handler(ctx, params)
	if err != nil {
		logger.Info("handler failed", zap.Error(err))
		requestErrorsMetric.WithLabelValues(req.Method).Inc()
	}
	d.reply(ctx, logger, conn, req, result, err)
}

// reply sends the response, translating plain handler errors into RPC
// errors that keep the handler's message text for the remote caller.
func (d dispatcher) reply(
	ctx context.Context,
	logger *zap.Logger,
	conn *jsonrpc2.Conn,
	req *jsonrpc2.Request,
	result any,
	err error,
) {
	if err != nil {
		respErr := &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		var rpcErr *jsonrpc2.Error
		if errors.As(err, &rpcErr) {
			respErr = rpcErr
		}
		if rerr := conn.ReplyWithError(ctx, req.ID, respErr); rerr != nil && !errors.Is(rerr, jsonrpc2.ErrClosed) {
			logger.Debug("failed to send error reply", zap.Error(rerr))
		}
		return
	}
	if rerr := conn.Reply(ctx, req.ID, result); rerr != nil && !errors.Is(rerr, jsonrpc2.ErrClosed) {
		logger.Debug("failed to send reply", zap.Error(rerr))
	}
}

func positionalParams(raw *json.RawMessage) ([]json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(*raw, &params); err != nil {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: fmt.Sprintf("expected positional parameters: %v", err),
		}
	}
	return params, nil
}
