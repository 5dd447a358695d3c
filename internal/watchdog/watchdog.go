// Package watchdog supervises the license server as a child OS process,
// restarting it on a fixed cadence. The restart is unconditional rather
// than health-triggered: it is a blunt defence against slow resource leaks
// and hangs, carried over from how this service has always been operated.
package watchdog

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is how long each child process runs before being
	// replaced.
	DefaultInterval = 10 * time.Minute

	// DefaultGrace is how long a child gets to exit after SIGTERM before
	// it is killed.
	DefaultGrace = 10 * time.Second
)

// Supervisor runs a command in a loop, replacing the child process on a
// fixed interval. One child runs at a time; a child is always fully reaped
// before its successor starts, so two children never hold the listening
// port simultaneously.
type Supervisor struct {
	command  []string
	interval time.Duration
	grace    time.Duration
	stdout   io.Writer
	stderr   io.Writer
	onStart  func(pid int)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithInterval sets the restart cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// WithGrace sets the SIGTERM-to-SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithOutput redirects the child's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithOnStart sets a hook invoked with each child's pid, used in tests.
func WithOnStart(fn func(pid int)) Option {
	return func(s *Supervisor) { s.onStart = fn }
}

// New creates a Supervisor for the given command line.
func New(command []string, opts ...Option) (*Supervisor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("supervised command is required")
	}

	s := &Supervisor{
		command:  command,
		interval: DefaultInterval,
		grace:    DefaultGrace,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run supervises the command until ctx is cancelled. It never returns on
// child failure: a child that cannot start or exits early is logged and
// replaced on the next interval boundary.
func (s *Supervisor) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		timer := time.NewTimer(s.interval)

		cmd := exec.Command(s.command[0], s.command[1:]...)
		cmd.Stdout = s.stdout
		cmd.Stderr = s.stderr

		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Strs("command", s.command).Msg("Failed to start server process, retrying next interval")
			if !s.sleepUntil(ctx, timer) {
				return ctx.Err()
			}
			continue
		}

		log.Info().Int("pid", cmd.Process.Pid).Msg("Started server process")
		if s.onStart != nil {
			s.onStart(cmd.Process.Pid)
		}

		done := make(chan error, 1)
		go func() {
			done <- cmd.Wait()
		}()

		select {
		case <-ctx.Done():
			timer.Stop()
			s.terminate(log, cmd, done)
			return ctx.Err()

		case err := <-done:
			// Child died on its own; hold the cadence before replacing it.
			log.Error().Err(err).Int("pid", cmd.Process.Pid).Msg("Server process exited early")
			if !s.sleepUntil(ctx, timer) {
				return ctx.Err()
			}

		case <-timer.C:
			log.Info().Int("pid", cmd.Process.Pid).Msg("Restart interval elapsed, replacing server process")
			s.terminate(log, cmd, done)
		}
	}
}

// terminate stops the child and waits for it to be fully reaped. SIGTERM
// first, SIGKILL after the grace period. No graceful drain: in-flight
// requests are dropped by design of the restart strategy.
func (s *Supervisor) terminate(log *zerolog.Logger, cmd *exec.Cmd, done <-chan error) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(s.grace):
		log.Warn().Int("pid", cmd.Process.Pid).Msg("Server process did not exit in time, killing")
		_ = cmd.Process.Kill()
		<-done
	}

	log.Info().Int("pid", cmd.Process.Pid).Msg("Server process fully stopped")
}

// sleepUntil waits for the timer or context cancellation. Returns false if
// the context was cancelled.
func (s *Supervisor) sleepUntil(ctx context.Context, timer *time.Timer) bool {
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
