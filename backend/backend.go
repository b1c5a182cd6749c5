// Package backend implements the method registries that test code serves
// to the processes under test as their RPC backend. Methods are declared
// explicitly as a capability list; nothing is discovered by reflection.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ferrynet/ferrytest/logging"
)

// Handler implements a single backend method. The params hold the
// positional arguments of the call, still JSON-encoded.
type Handler func(ctx context.Context, params []json.RawMessage) (any, error)

// Methods maps method names to handlers. An rpc.Endpoint copies the map at
// construction, so a Methods value may be composed and extended freely up
// to that point and reused afterwards.
type Methods map[string]Handler

// Extended returns a copy of m with the entries of more added on top.
func (m Methods) Extended(more Methods) Methods {
	out := make(Methods, len(m)+len(more))
	for name, h := range m {
		out[name] = h
	}
	for name, h := range more {
		out[name] = h
	}
	return out
}

// Names returns the registered method names in sorted order.
func (m Methods) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StringArg decodes the positional argument at index i as a string.
func StringArg(params []json.RawMessage, i int) (string, error) {
	if i >= len(params) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return "", fmt.Errorf("argument %d is not a string: %w", i, err)
	}
	return s, nil
}

// Echo is the simplest request/response backend: it returns values
// verbatim and raises errors on demand. Handlers log on the logger
// carried by the request context, so their lines stay tagged with the
// dispatching endpoint's request id.
type Echo struct{}

func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Methods() Methods {
	return Methods{
		"echo":  e.echo,
		"error": e.fail,
	}
}

func (e *Echo) echo(ctx context.Context, params []json.RawMessage) (any, error) {
	val, err := StringArg(params, 0)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("echoing value", zap.String("value", val))
	return val, nil
}

// fail returns an error carrying exactly the message the caller supplied,
// so the remote side can match on it.
func (e *Echo) fail(ctx context.Context, params []json.RawMessage) (any, error) {
	msg, err := StringArg(params, 0)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("failing on demand", zap.String("message", msg))
	return nil, errors.New(msg)
}
