package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/ferrynet/ferrytest/backend"
	"github.com/ferrynet/ferrytest/logging"
	"github.com/ferrynet/ferrytest/rpc"
)

type options struct {
	Listen        string `long:"listen" description:"Interface and port to serve the backend on" default:"localhost:8599"`
	LogDir        string `long:"logdir" description:"Directory for the log file" default:"."`
	Notifications bool   `long:"notifications" description:"Expose the waitforchange notification backend"`
	DebugLog      bool   `long:"debuglog" description:"Enable debug logging"`
	JSONLog       bool   `long:"jsonlog" description:"Write logs as JSON"`
}

// backendMain is the true entry point. This function is required since
// defers created in the top-level scope of a main method aren't executed
// if os.Exit() is called.
//
// The binary serves the same backend the integration fixture spins up in
// process, so a ferry-server can be pointed at it by hand, against the
// remote environment for example, without the Go test runner involved.
func backendMain() error {
	opts := &options{}
	if _, err := flags.Parse(opts); err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if opts.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, filepath.Join(opts.LogDir, "ferrytest-backend.log"), opts.JSONLog)

	defer func() {
		logger.Info("shutdown complete")
	}()

	ctx := logging.NewContext(context.Background(), logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	methods := backend.NewEcho().Methods()
	if opts.Notifications {
		notif := backend.NewNotification(logger)
		notif.Enable()
		defer notif.Disable()
		methods = methods.Extended(notif.Methods()).Extended(controlMethods(notif))
	}

	endpoint := rpc.NewEndpoint(opts.Listen, methods, logger)
	if err := endpoint.Start(ctx); err != nil {
		return fmt.Errorf("failed to start endpoint: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := endpoint.Stop(); err != nil {
		return fmt.Errorf("failure during shutdown: %w", err)
	}

	return nil
}

// controlMethods exposes the notification backend's transitions as RPC
// methods, so whatever drives this process can push state updates
// without a side channel into the process.
func controlMethods(notif *backend.Notification) backend.Methods {
	return backend.Methods{
		"update": func(ctx context.Context, params []json.RawMessage) (any, error) {
			state, err := backend.StringArg(params, 0)
			if err != nil {
				return nil, err
			}
			logging.FromContext(ctx).Info("pushing state update", zap.String("state", state))
			notif.Update(state)
			return state, nil
		},
		"enable": func(ctx context.Context, _ []json.RawMessage) (any, error) {
			logging.FromContext(ctx).Info("enabling change waits")
			notif.Enable()
			return true, nil
		},
		"disable": func(ctx context.Context, _ []json.RawMessage) (any, error) {
			logging.FromContext(ctx).Info("disabling change waits")
			notif.Disable()
			return true, nil
		},
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := backendMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
