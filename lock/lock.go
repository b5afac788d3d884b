// Package lock implements advisory, file-backed shared and exclusive locks
// whose blocking acquisition can be abandoned through a termination flag.
package lock

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/suitesched/suitesched/termination"
)

// DefaultPollInterval bounds how long a terminated acquisition may keep waiting.
const DefaultPollInterval = 250 * time.Millisecond

// ErrReleased is returned when a Lock is released a second time.
var ErrReleased = errors.New("lock already released")

type mode int

const (
	shared mode = iota
	exclusive
)

func (m mode) String() string {
	if m == exclusive {
		return "write"
	}
	return "read"
}

func (m mode) flags() int {
	if m == exclusive {
		return unix.LOCK_EX
	}
	return unix.LOCK_SH
}

// Locker describes a lockable resource. It holds no OS resources and may be
// copied freely; all copies refer to the same backing file and flag.
type Locker struct {
	path         string
	flag         *termination.Flag
	pollInterval time.Duration
}

// NewLocker returns a Locker for the file at path. With a nil flag,
// acquisition blocks in the kernel until the lock is granted.
func NewLocker(path string, flag *termination.Flag) Locker {
	return Locker{
		path:         path,
		flag:         flag,
		pollInterval: DefaultPollInterval,
	}
}

// WithPollInterval returns a copy of l that retries contended locks at interval d.
func (l Locker) WithPollInterval(d time.Duration) Locker {
	if d > 0 {
		l.pollInterval = d
	}
	return l
}

// Path returns the backing file of the lock.
func (l Locker) Path() string {
	return l.path
}

// WaitForReadLock acquires a shared lock.
func (l Locker) WaitForReadLock() (*Lock, error) {
	return l.acquire(shared)
}

// WaitForWriteLock acquires an exclusive lock.
func (l Locker) WaitForWriteLock() (*Lock, error) {
	return l.acquire(exclusive)
}

func (l Locker) acquire(m mode) (*Lock, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for locking: %w", l.path, err)
	}

	if l.flag != nil {
		err = l.pollLock(file, m)
	} else {
		err = blockingLock(file, m)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to acquire %s lock on %s: %w", m, l.path, err)
	}

	lock := &Lock{file: file}
	// Closing the descriptor drops the flock if the holder never calls Release.
	runtime.SetFinalizer(lock, func(lock *Lock) { lock.file.Close() })
	return lock, nil
}

func (l Locker) pollLock(file *os.File, m mode) error {
	for {
		if l.flag.IsRaised() {
			return termination.ErrTerminated
		}
		err := unix.Flock(int(file.Fd()), m.flags()|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			time.Sleep(l.pollInterval)
		default:
			return fmt.Errorf("unexpected error while attempting to acquire lock: %w", err)
		}
	}
}

func blockingLock(file *os.File, m mode) error {
	for {
		err := unix.Flock(int(file.Fd()), m.flags())
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("unexpected error while attempting to acquire lock: %w", err)
		}
	}
}

// Lock is a held advisory lock. It must not be shared between goroutines.
type Lock struct {
	file     *os.File
	released bool
}

// Release unlocks and closes the backing file. It returns ErrReleased when
// called on a lock that was already released.
func (l *Lock) Release() error {
	if l.released {
		return ErrReleased
	}
	l.released = true
	runtime.SetFinalizer(l, nil)

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}
