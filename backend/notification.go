package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ferrynet/ferrytest/logging"
)

// Notification is the blocking long-poll backend. It holds a single state
// string; while enabled, waitforchange callers are parked until the state
// is updated or waiting is disabled. Every transition wakes all parked
// callers at once, never just one.
//
// Whoever enables a Notification must disable it again before its scope
// ends: a caller parked in WaitForChange holds its goroutine until the
// next broadcast.
type Notification struct {
	log *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	state   string
	enabled bool
}

func NewNotification(log *zap.Logger) *Notification {
	n := &Notification{log: log}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Methods exposes the long-poll entry point for serving on an endpoint.
func (n *Notification) Methods() Methods {
	return Methods{
		"waitforchange": n.waitHandler,
	}
}

func (n *Notification) waitHandler(ctx context.Context, params []json.RawMessage) (any, error) {
	known, err := StringArg(params, 0)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	log.Debug("waiting for a state change")
	state, err := n.WaitForChange(known)
	if err == nil {
		log.Debug("released", zap.String("state", state))
	}
	return state, err
}

// Enable lets subsequent WaitForChange calls block for the next update.
func (n *Notification) Enable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = true
	n.cond.Broadcast()
}

// Disable wakes every parked caller; each returns the state as it is now.
// While disabled, WaitForChange answers immediately.
func (n *Notification) Disable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = false
	n.cond.Broadcast()
	n.log.Debug("notification waiting disabled")
}

// Update sets the state unconditionally and wakes every parked caller,
// which will each return the new value.
func (n *Notification) Update(state string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = state
	n.cond.Broadcast()
	n.log.Debug("state updated", zap.String("state", state))
}

// Current returns the state without blocking.
func (n *Notification) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// WaitForChange parks the caller until the next Update or Disable and
// returns the state afterwards, which may be unchanged. When disabled it
// returns the current state right away.
//
// The server under test always long-polls with the empty sentinel for
// known; a real previous value never reaches the backend and is rejected.
func (n *Notification) WaitForChange(known string) (string, error) {
	if known != "" {
		return "", fmt.Errorf("waitforchange expects the empty sentinel, got %q", known)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enabled {
		n.cond.Wait()
	}
	return n.state, nil
}
