package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/sourcegraph/jsonrpc2"
)

// methodNotFound builds the error reply for calls to unregistered methods.
// Tests and the processes under test match on the message prefix.
func methodNotFound(method string) *jsonrpc2.Error {
	return &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("METHOD_NOT_FOUND: %s is not available on this endpoint", method),
	}
}

// IsTransient reports whether err is transport-level noise of the kind a
// disrupted connection produces: closed or reset connections, refused
// dials, truncated streams. A structured RPC error reply is never
// transient; by the time it arrives the transport has worked.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, jsonrpc2.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
