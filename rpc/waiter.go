package rpc

import (
	"context"
	"encoding/json"
	"time"
)

// Waiter drives exactly one asynchronous call. It backs the blocking
// long-poll probes: a test issues the call, asserts it has not completed
// yet, triggers backend activity, and then joins on the result. A Waiter
// is single-use.
type Waiter struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// NewWaiter issues the call on a background goroutine. The call runs
// without a deadline; it is expected to be released by backend activity
// (or by the connection going away).
func NewWaiter(client *Client, method string, params any) *Waiter {
	w := &Waiter{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = client.Call(context.Background(), method, params, &w.result)
	}()
	return w
}

// StillPending sleeps for delay and then reports whether the call has not
// completed yet.
func (w *Waiter) StillPending(delay time.Duration) bool {
	time.Sleep(delay)
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the call completes. A successful reply is decoded into
// result when result is non-nil; a failed call returns its error instead.
func (w *Waiter) Wait(result any) error {
	<-w.done
	if w.err != nil {
		return w.err
	}
	if result == nil || w.result == nil {
		return nil
	}
	return json.Unmarshal(w.result, result)
}
