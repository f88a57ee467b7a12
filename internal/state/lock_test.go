package state

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCycleLockExcludesSecondHolder(t *testing.T) {
	path := LockPathFor(filepath.Join(t.TempDir(), "lib", "state.json"))

	// Two CycleLocks open the file separately, like two processes.
	first, second := NewCycleLock(path), NewCycleLock(path)

	release, err := first.TryAcquire()
	if err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}

	if _, err := second.TryAcquire(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second TryAcquire error = %v, want ErrLocked", err)
	}

	release()

	release2, err := second.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	release2()
}

func TestLockPathFor(t *testing.T) {
	if got := LockPathFor("/var/lib/xensuspend/state.json"); got != "/var/lib/xensuspend/state.json.lock" {
		t.Errorf("LockPathFor() = %q", got)
	}
}
