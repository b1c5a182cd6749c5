package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	req.False(IsTransient(nil))
	req.False(IsTransient(errors.New("handler blew up")))
	req.False(IsTransient(&jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: "METHOD_NOT_FOUND: bla is not available on this endpoint",
	}))

	req.True(IsTransient(io.EOF))
	req.True(IsTransient(io.ErrUnexpectedEOF))
	req.True(IsTransient(net.ErrClosed))
	req.True(IsTransient(jsonrpc2.ErrClosed))
	req.True(IsTransient(syscall.ECONNREFUSED))
	req.True(IsTransient(fmt.Errorf("write tcp: %w", syscall.EPIPE)))
	req.True(IsTransient(fmt.Errorf("read tcp: %w", syscall.ECONNRESET)))
}
