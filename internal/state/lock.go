package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked means another process holds the cycle lock.
var ErrLocked = errors.New("cycle lock held by another process")

// CycleLock is an flock(2) on a file next to the state file. It keeps
// a one-shot suspend from overlapping the daemon's cycle.
type CycleLock struct {
	path string
}

// NewCycleLock returns a lock on path. Nothing is opened until
// TryAcquire.
func NewCycleLock(path string) *CycleLock {
	return &CycleLock{path: path}
}

// LockPathFor is the cycle lock that goes with a state file.
func LockPathFor(stateFile string) string {
	return stateFile + ".lock"
}

// Path returns the lock file path.
func (l *CycleLock) Path() string {
	return l.path
}

// TryAcquire takes the lock without waiting. It returns ErrLocked when
// another holder has it. The returned function releases it.
func (l *CycleLock) TryAcquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open cycle lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, l.path)
		}
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
