package integration

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// startupGrace is slept by the fixture after launching a binary under
// test. The binaries expose no readiness probe, the server role has no
// RPC interface of its own at all, so there is nothing better to wait
// on than a fixed delay. Too short a delay on a loaded machine shows up
// as spurious connection failures early in a test.
const startupGrace = time.Second

// defaultStopTimeout bounds how long stopping waits for a process to
// exit before killing it.
const defaultStopTimeout = 10 * time.Second

// EnvLogDir is set in every child's environment; the binaries under
// test write their own log files to the directory it names.
const EnvLogDir = "FERRY_LOG_DIR"

// ProcessConfig describes one external process to launch.
type ProcessConfig struct {
	// Name tags log lines and error messages.
	Name string

	// Binary is the path of the executable.
	Binary string

	// Args are passed to the process verbatim.
	Args []string

	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env []string

	// Grace is slept by Start after launching the process, giving it
	// time to come up before the test drives it.
	Grace time.Duration

	// StopTimeout bounds how long stopping waits for the process to
	// exit. Zero means defaultStopTimeout.
	StopTimeout time.Duration
}

// Supervisor launches one external process and manages its lifetime.
// Instances are single-use: Start once, then Stop or StopGracefully
// exactly once. Violating that order is a bug in the calling test and
// fails loud instead of being papered over.
type Supervisor struct {
	log *zap.Logger
	cfg ProcessConfig

	cmd     *exec.Cmd
	stderr  bytes.Buffer
	stopped bool

	// processExit is closed once the process has exited; waitErr holds
	// the exit error, if any, by the time it closes.
	processExit chan struct{}
	waitErr     error
}

// NewSupervisor prepares a supervisor for the process cfg describes
// without starting anything yet.
func NewSupervisor(log *zap.Logger, cfg ProcessConfig) *Supervisor {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Supervisor{
		log: log.Named(cfg.Name),
		cfg: cfg,
	}
}

// Start launches the process and then sleeps for the configured grace
// period.
func (s *Supervisor) Start() error {
	if s.cmd != nil {
		return fmt.Errorf("%s: started twice", s.cfg.Name)
	}

	s.log.Info("starting process",
		zap.String("binary", s.cfg.Binary),
		zap.Strings("args", s.cfg.Args),
	)

	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}
	s.cmd = cmd

	s.processExit = make(chan struct{})
	go func() {
		defer close(s.processExit)

		err := cmd.Wait()
		if err != nil && !expectedExit(err) {
			s.waitErr = fmt.Errorf("%s: %w\n%s", s.cfg.Name, err, s.stderr.String())
		}
	}()

	time.Sleep(s.cfg.Grace)
	return nil
}

// Exited is closed once the process has exited, whether or not anyone
// asked it to. Only valid after Start succeeded.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.processExit
}

// Stderr returns what the process wrote to stderr. Only valid once the
// process has exited.
func (s *Supervisor) Stderr() string {
	return s.stderr.String()
}

// Stop terminates the process with SIGTERM and waits for it to exit.
// A process that exited on its own beforehand is fine; its exit error,
// if any, is what gets returned.
func (s *Supervisor) Stop() error {
	if err := s.beginStop(); err != nil {
		return err
	}

	s.log.Info("stopping process")
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminating %s: %w", s.cfg.Name, err)
	}
	return s.awaitExit()
}

// StopGracefully asks the process to shut itself down by invoking stop,
// typically an RPC telling it to quit, and falls back to SIGTERM when
// that fails. Either way it then waits for the process to exit.
func (s *Supervisor) StopGracefully(stop func() error) error {
	if err := s.beginStop(); err != nil {
		return err
	}

	s.log.Info("stopping process gracefully")
	if err := stop(); err != nil {
		s.log.Warn("graceful stop failed, sending SIGTERM", zap.Error(err))
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("terminating %s: %w", s.cfg.Name, err)
		}
	}
	return s.awaitExit()
}

func (s *Supervisor) beginStop() error {
	if s.cmd == nil {
		return fmt.Errorf("%s: stopped before being started", s.cfg.Name)
	}
	if s.stopped {
		return fmt.Errorf("%s: stopped twice", s.cfg.Name)
	}
	s.stopped = true
	return nil
}

// awaitExit waits for the process to exit, killing it when the stop
// timeout runs out. A kill is reported as an error: a process that needs
// it did not shut down cleanly.
func (s *Supervisor) awaitExit() error {
	select {
	case <-s.processExit:
		return s.waitErr

	case <-time.After(s.cfg.StopTimeout):
		s.log.Error("process did not exit in time, killing it")
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
		}
		<-s.processExit
		return fmt.Errorf("%s: did not exit within %v", s.cfg.Name, s.cfg.StopTimeout)
	}
}

// expectedExit reports whether err is the exit status produced by our
// own SIGTERM or SIGKILL rather than a crash.
func expectedExit(err error) bool {
	return strings.Contains(err.Error(), "signal: terminated") ||
		strings.Contains(err.Error(), "signal: killed")
}
