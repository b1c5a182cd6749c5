package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

const dialRetryInterval = 100 * time.Millisecond

// Client is a JSON-RPC connection to an endpoint, either the harness's own
// backend endpoint or the local server of a ferry-client process.
type Client struct {
	conn *jsonrpc2.Conn
	log  *zap.Logger
}

// Dial connects to addr, retrying transient failures until ctx expires.
// The processes under test open their listening sockets at their own pace,
// so a refused dial shortly after startup is normal.
func Dial(ctx context.Context, addr string, log *zap.Logger) (*Client, error) {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})
			return &Client{
				conn: jsonrpc2.NewConn(context.Background(), stream, noopHandler{}),
				log:  log,
			}, nil
		}
		if !IsTransient(err) {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-time.After(dialRetryInterval):
			log.Debug("retrying dial", zap.String("addr", addr), zap.Error(err))
		}
	}
}

// Call invokes method with the given params (marshaled as the positional
// argument list) and decodes the reply into result, which may be nil.
// RPC-level failures come back as *jsonrpc2.Error values.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.conn.Call(ctx, method, params, result)
}

// Notify sends a notification, expecting no reply.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.conn.Notify(ctx, method, params)
}

// Close shuts the connection down. Closing twice is harmless.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return err
	}
	return nil
}

// noopHandler drops server-initiated traffic; the endpoints this client
// talks to do not push requests to their callers.
type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}
