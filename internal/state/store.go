package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"audioforge/internal/logging"
	"audioforge/internal/schema"
)

// Default store tunables.
const (
	DefaultLockTimeout  = 10 * time.Second
	DefaultBackupRetain = 50
)

// Options tunes a Store. Zero values mean the defaults above with backups
// enabled.
type Options struct {
	// LockTimeout bounds every lock acquisition. Zero means DefaultLockTimeout.
	LockTimeout time.Duration
	// BackupBeforeWrite copies the current state file into the backup
	// directory before every replace.
	BackupBeforeWrite bool
	// BackupRetain is how many backups survive rotation. Zero means
	// DefaultBackupRetain.
	BackupRetain int
}

// DefaultOptions returns the production store configuration.
func DefaultOptions() Options {
	return Options{
		LockTimeout:       DefaultLockTimeout,
		BackupBeforeWrite: true,
		BackupRetain:      DefaultBackupRetain,
	}
}

// Store is the single source of truth for pipeline.json. Multiple OS
// processes may read concurrently; writers serialize through an advisory
// file lock, and threads within one process additionally serialize through
// an in-process mutex for predictable behavior under goroutine concurrency.
type Store struct {
	mu   sync.Mutex // in-process write gate
	path string
	opts Options
}

// New creates a store over the given state-file path.
func New(path string, opts Options) *Store {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.BackupRetain == 0 {
		opts.BackupRetain = DefaultBackupRetain
	}
	return &Store{path: path, opts: opts}
}

// Path returns the state-file path.
func (s *Store) Path() string { return s.path }

// lockPath returns the advisory lock-file path.
func (s *Store) lockPath() string { return s.path + ".lock" }

// pipelineDir returns the .pipeline metadata directory next to the state file.
func (s *Store) pipelineDir() string {
	return filepath.Join(filepath.Dir(s.path), ".pipeline")
}

// backupDir returns the backup directory.
func (s *Store) backupDir() string { return filepath.Join(s.pipelineDir(), "backups") }

// transactionLogPath returns the JSONL audit-log path.
func (s *Store) transactionLogPath() string {
	return filepath.Join(s.pipelineDir(), "transactions.log")
}

// Read loads the current document, canonicalized. A missing file yields an
// empty canonical document. With validate set, the document additionally
// passes structural and strict validation before being returned.
func (s *Store) Read(validate bool) (schema.State, error) {
	timer := logging.StartTimer(logging.CategoryState, "state read")
	defer timer.Stop()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.StateDebug("state file %s absent, starting empty", s.path)
			return schema.NewState(), nil
		}
		return nil, &ReadError{Path: s.path, Err: err}
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ReadError{Path: s.path, Err: fmt.Errorf("corrupt state document: %w", err)}
	}

	doc := schema.Canonicalize(raw)
	if validate {
		if err := schema.Validate(doc); err != nil {
			return nil, &ValidationError{Op: "read", Err: err}
		}
		if err := schema.StrictValidate(doc); err != nil {
			return nil, &ValidationError{Op: "read", Err: err}
		}
	}
	return doc, nil
}

// Write persists a document atomically, taking the file lock, rotating
// backups, and appending an audit record. With validate set, a
// nonconformant document is rejected before anything touches disk.
func (s *Store) Write(doc schema.State, validate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(doc, validate, "write")
}

// writeLocked acquires the advisory file lock for the duration of one
// write. Caller holds s.mu.
func (s *Store) writeLocked(doc schema.State, validate bool, operation string) error {
	lock := NewFileLock(s.lockPath())
	if err := lock.TryAcquire(s.opts.LockTimeout); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.StateWarn("release after write: %v", err)
		}
	}()
	return s.commitHeld(doc, validate, operation)
}

// commitHeld runs the atomic write protocol. Caller holds s.mu and the
// advisory file lock.
func (s *Store) commitHeld(doc schema.State, validate bool, operation string) error {
	timer := logging.StartTimer(logging.CategoryState, "state write")
	defer timer.StopWithThreshold(2 * time.Second)

	canonical := schema.CanonicalizeWith(doc, schema.CanonicalizeOptions{TouchTimestamps: true})
	if validate {
		if err := schema.Validate(canonical); err != nil {
			return &ValidationError{Op: "write", Err: err}
		}
	}

	data, err := json.MarshalIndent(canonical, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	if s.opts.BackupBeforeWrite {
		if err := s.backupCurrent(); err != nil {
			// A failed backup never blocks the write itself.
			logging.StateWarn("backup before write failed: %v", err)
		}
	}

	if err := s.replaceAtomic(data); err != nil {
		s.appendTransactionRecord(operation, canonical, false, err.Error())
		return err
	}

	s.rotateBackups()
	s.appendTransactionRecord(operation, canonical, true, "")
	logging.State("wrote %d bytes to %s (op=%s)", len(data), s.path, operation)
	return nil
}

// replaceAtomic writes data to a same-filesystem temp file, fsyncs it, and
// rename-replaces it over the state path. After this returns, the on-disk
// file is either the previous document or the new one, never a blend.
func (s *Store) replaceAtomic(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	// Same directory as the target so the rename stays on one filesystem.
	tmpPath := fmt.Sprintf("%s.%d_%d.tmp", s.path, os.Getpid(), time.Now().UnixMilli())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return &WriteError{Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return &WriteError{Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return &WriteError{Path: s.path, Err: err}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}
