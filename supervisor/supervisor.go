// Package supervisor runs child processes with a timeout while watching the
// termination flag, killing the whole process group when either fires.
package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/suitesched/suitesched/termination"
)

// Outcome is the result of a supervised process that was not terminated.
type Outcome struct {
	ExitCode int
	TimedOut bool
	Runtime  time.Duration
}

// Run starts cmd in its own process group and waits for it to exit, for the
// timeout to expire or for flag to be raised. A timeout is reported through
// Outcome.TimedOut; a raised flag yields termination.ErrTerminated. A
// non-positive timeout disables the deadline.
func Run(logger zerolog.Logger, cmd *exec.Cmd, timeout time.Duration, flag *termination.Flag) (Outcome, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	logger.Debug().
		Str("command", shellescape.QuoteCommand(cmd.Args)).
		Dur("timeout", timeout).
		Msg("Starting child process")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var terminated <-chan struct{}
	if flag != nil {
		terminated = flag.Done()
	}

	select {
	case err := <-done:
		return exitOutcome(err, time.Since(start))
	case <-deadline:
		logger.Warn().Int("pid", cmd.Process.Pid).Dur("timeout", timeout).Msg("Child process timed out, killing")
		killGroup(logger, cmd)
		<-done
		return Outcome{TimedOut: true, Runtime: time.Since(start)}, nil
	case <-terminated:
		logger.Info().Int("pid", cmd.Process.Pid).Msg("Killing child process after termination signal")
		killGroup(logger, cmd)
		<-done
		return Outcome{}, termination.ErrTerminated
	}
}

func exitOutcome(err error, runtime time.Duration) (Outcome, error) {
	if err == nil {
		return Outcome{Runtime: runtime}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Outcome{ExitCode: exitErr.ExitCode(), Runtime: runtime}, nil
	}
	return Outcome{}, fmt.Errorf("failed to wait for child process: %w", err)
}

func killGroup(logger zerolog.Logger, cmd *exec.Cmd) {
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Failed to kill process group")
	}
}
