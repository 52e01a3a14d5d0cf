package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked indicates the per-asset write lock is held by another
// writer. Callers treat it as transient and retry on their next cycle;
// it is never retried inline.
var ErrLocked = errors.New("record is locked by another writer")

// lockPollInterval is how often a bounded acquire re-probes the lock.
const lockPollInterval = 25 * time.Millisecond

// FileLock is an exclusive advisory lock scoped to one asset's record.
// It locks a sidecar file rather than the record itself so the atomic
// rename of the record does not invalidate the lock.
type FileLock struct {
	path string
	file *os.File
}

// AcquireLock obtains the exclusive lock at path, retrying up to
// timeout. It fails fast with ErrLocked rather than blocking
// indefinitely so a wedged writer cannot stall unrelated work.
func AcquireLock(path string, timeout time.Duration) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &FileLock{path: path, file: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, ErrLocked
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return closeErr
}
