package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"audioforge/internal/logging"
)

// lockPollInterval is the sleep between non-blocking acquisition attempts.
// POSIX flock and Windows LockFileEx differ around blocking semantics and
// inherited handles, so the wrapper always polls non-blocking on both.
const lockPollInterval = 50 * time.Millisecond

// FileLock is an OS-level advisory lock on a sibling .lock file. It
// serializes writers across processes; readers never take it.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock handle for the given lock-file path.
// No lock is taken until TryAcquire.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock-file path.
func (l *FileLock) Path() string { return l.path }

// TryAcquire attempts to take the exclusive lock, polling until timeout.
// A timeout of zero means exactly one attempt. Returns LockTimeoutError
// when the lock stays held by another process for the whole budget.
func (l *FileLock) TryAcquire(timeout time.Duration) error {
	if l.file != nil {
		return fmt.Errorf("state: lock %s already held by this handle", l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("state: create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("state: open lock file: %w", err)
		}

		err = lockFileExclusive(f)
		if err == nil {
			l.file = f
			logging.StateDebug("acquired lock %s", l.path)
			return nil
		}
		_ = f.Close()

		if !isLockHeldError(err) {
			return fmt.Errorf("state: acquire lock %s: %w", l.path, err)
		}
		if time.Now().Add(lockPollInterval).After(deadline) {
			return &LockTimeoutError{Path: l.path, Timeout: timeout}
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the lock. A no-op when the lock is not held.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := unlockFile(l.file); err != nil {
		return fmt.Errorf("state: release lock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("state: close lock file: %w", err)
	}
	l.file = nil
	logging.StateDebug("released lock %s", l.path)
	return nil
}
