// Package state implements the atomic pipeline-state store: single-writer,
// concurrent-reader persistence of pipeline.json with advisory file locking,
// timestamped backups, a transaction scope, and a JSONL audit trail.
package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled reports cooperative cancellation observed inside a store
// operation.
var ErrCancelled = errors.New("state: operation cancelled")

// LockTimeoutError reports that the advisory state lock could not be
// acquired within the budget. Callers may retry with backoff.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("state: could not acquire lock %s within %s", e.Path, e.Timeout)
}

// IsLockTimeout reports whether err is (or wraps) a lock-timeout error.
func IsLockTimeout(err error) bool {
	var lt *LockTimeoutError
	return errors.As(err, &lt)
}

// ReadError reports an I/O or deserialization failure on the state file.
// Callers should attempt RestoreBackup on the most recent backup before
// giving up.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("state: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports an I/O or serialization failure while persisting the
// state file. The on-disk document is unchanged when this is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("state: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ValidationError reports that a document failed schema validation, on
// write (rejected) or on read with strict mode enabled.
type ValidationError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state: %s validation: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
