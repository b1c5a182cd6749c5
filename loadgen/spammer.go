// Package loadgen provides background agents that keep traffic flowing
// through a ferry connection while a test disrupts it. They are used to
// verify that the proxy recovers gracefully from disconnects that happen
// in the middle of real work, not only between calls.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/ferrynet/ferrytest/backend"
	"github.com/ferrynet/ferrytest/rpc"
)

// spamInterval is slept between iterations, outside the stop-flag lock,
// so other goroutines get a chance to make progress.
const spamInterval = 10 * time.Millisecond

// UpdateSpammer floods a Notification backend with throwaway state
// updates. The values are never asserted on; the point is that the
// stream of pubsub publishes keeps flowing while the connection is
// being disrupted.
type UpdateSpammer struct {
	log   *zap.Logger
	notif *backend.Notification

	mu         sync.Mutex
	shouldStop bool
	count      int

	done chan struct{}
}

// StartUpdateSpammer starts the update loop. The caller must call Stop
// exactly once before the notification backend goes out of scope.
func StartUpdateSpammer(log *zap.Logger, notif *backend.Notification) *UpdateSpammer {
	s := &UpdateSpammer{
		log:   log.Named("update_spammer"),
		notif: notif,
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *UpdateSpammer) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.shouldStop {
			count := s.count
			s.mu.Unlock()
			s.log.Info("spammed state updates", zap.Int("count", count))
			return
		}
		s.notif.Update(fmt.Sprintf("ignored %d", s.count))
		s.count++
		iterationsMetric.WithLabelValues("update").Inc()
		s.mu.Unlock()

		time.Sleep(spamInterval)
	}
}

// Stop terminates the loop and waits for it to exit.
func (s *UpdateSpammer) Stop() {
	s.mu.Lock()
	s.shouldStop = true
	s.mu.Unlock()
	<-s.done
}

// Count returns the number of updates published so far.
func (s *UpdateSpammer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// EchoSpammer floods an RPC endpoint with echo calls and verifies each
// response against the value sent. Two kinds of noise are expected while
// the connection is disrupted and get tolerated: transport failures, after
// which the spammer reconnects, and structured error replies such as the
// forwarding timeouts a proxy reports while its upstream is gone. A wrong
// echo value or any local failure is fatal and surfaces from Stop.
type EchoSpammer struct {
	log  *zap.Logger
	dial func(ctx context.Context) (*rpc.Client, error)

	mu         sync.Mutex
	shouldStop bool
	count      int
	fatal      error

	done chan struct{}
}

// StartEchoSpammer starts the echo loop. The dial callback is invoked
// for the initial connection and again after every transport failure;
// it should bound its own connection attempts since an iteration in
// flight delays Stop. Stop must be called exactly once before the test
// ends.
func StartEchoSpammer(log *zap.Logger, dial func(ctx context.Context) (*rpc.Client, error)) *EchoSpammer {
	s := &EchoSpammer{
		log:  log.Named("echo_spammer"),
		dial: dial,
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *EchoSpammer) loop() {
	defer close(s.done)

	var client *rpc.Client
	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	for {
		s.mu.Lock()
		if s.shouldStop || s.fatal != nil {
			count := s.count
			s.mu.Unlock()
			s.log.Info("spammed RPC calls", zap.Int("count", count))
			return
		}
		client = s.spamOnce(client)
		s.mu.Unlock()

		time.Sleep(spamInterval)
	}
}

// spamOnce runs a single echo round trip while holding s.mu. It returns
// the connection to carry into the next iteration, or nil after
// transport noise so the next iteration redials.
func (s *EchoSpammer) spamOnce(client *rpc.Client) *rpc.Client {
	if client == nil {
		c, err := s.dial(context.Background())
		if err != nil {
			if rpc.IsTransient(err) {
				transientErrorsMetric.WithLabelValues("echo").Inc()
				s.log.Debug("reconnect failed, will retry", zap.Error(err))
				return nil
			}
			s.fatal = fmt.Errorf("connecting to endpoint: %w", err)
			return nil
		}
		client = c
	}

	sent := fmt.Sprintf("iteration %d", s.count)
	s.count++
	iterationsMetric.WithLabelValues("echo").Inc()

	var got string
	err := client.Call(context.Background(), "echo", []string{sent}, &got)
	var rpcErr *jsonrpc2.Error
	switch {
	case err == nil && got == sent:
		return client

	case errors.As(err, &rpcErr):
		// An error reply still travelled the full round trip, so the
		// connection is fine. The proxy answers like this while its
		// upstream is disrupted, with forwarding timeouts typically.
		transientErrorsMetric.WithLabelValues("echo").Inc()
		s.log.Debug("error reply during echo", zap.Error(err))
		return client

	case err != nil && rpc.IsTransient(err):
		// While the server is disconnected, calls fail with
		// transport errors. Reconnect on the next iteration.
		transientErrorsMetric.WithLabelValues("echo").Inc()
		s.log.Debug("transport noise during echo", zap.Error(err))

	case err != nil:
		s.fatal = fmt.Errorf("echo %q: %w", sent, err)

	default:
		s.fatal = fmt.Errorf("echo %q returned %q", sent, got)
	}

	_ = client.Close()
	return nil
}

// Stop terminates the loop, waits for it to exit and reports any fatal
// error the loop recorded. Transport noise is not an error.
func (s *EchoSpammer) Stop() error {
	s.mu.Lock()
	s.shouldStop = true
	s.mu.Unlock()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Count returns the number of echo calls attempted so far.
func (s *EchoSpammer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
