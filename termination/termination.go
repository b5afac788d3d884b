// Package termination provides the process-wide termination flag that is
// raised once by a signal handler and polled by every long-running wait.
package termination

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
)

// ErrTerminated is returned by any wait that observed a raised Flag.
var ErrTerminated = errors.New("terminated")

// Flag is a raise-once boolean shared by pointer between all waiters.
type Flag struct {
	raised atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// New returns a Flag that has not been raised.
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Raise marks the flag as raised. Calling it more than once has no effect.
func (f *Flag) Raise() {
	f.once.Do(func() {
		f.raised.Store(true)
		close(f.done)
	})
}

// IsRaised reports whether Raise has been called.
func (f *Flag) IsRaised() bool {
	return f.raised.Load()
}

// Done returns a channel that is closed when the flag is raised.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// Start installs a handler for SIGINT and SIGTERM that raises the returned
// flag on the first signal received.
func Start(logger zerolog.Logger) *Flag {
	flag := New()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-signals
		logger.Info().Str("signal", sig.String()).Msg("Received termination signal")
		flag.Raise()
		signal.Stop(signals)
	}()

	return flag
}
