package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"audioforge/internal/logging"
	"audioforge/internal/schema"
)

// TransactionRecord is one line of the .pipeline/transactions.log audit
// trail.
type TransactionRecord struct {
	Timestamp   string   `json:"timestamp"`
	Operation   string   `json:"operation"`
	Success     bool     `json:"success"`
	PID         int      `json:"pid"`
	ChangedKeys []string `json:"changed_keys,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// WithTransaction runs fn inside a transactional scope over the current
// document. fn receives a private working copy and mutates it freely; when
// fn returns nil the copy commits atomically, and when fn returns an error
// nothing on disk changes. Transactions are not nestable; concurrent
// transactions serialize through the in-process mutex and the advisory
// file lock, which is held from the read through the commit so a
// transaction in another process always observes the previous commit.
func (s *Store) WithTransaction(operation string, fn func(doc schema.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryState, "transaction "+operation)
	defer timer.Stop()

	lock := NewFileLock(s.lockPath())
	if err := lock.TryAcquire(s.opts.LockTimeout); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.StateWarn("release after transaction: %v", err)
		}
	}()

	doc, err := s.Read(false)
	if err != nil {
		return err
	}
	working, err := doc.Clone()
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	if err := fn(working); err != nil {
		logging.StateDebug("transaction %s rolled back: %v", operation, err)
		return fmt.Errorf("state: transaction %s rolled back: %w", operation, err)
	}

	return s.commitHeld(working, true, operation)
}

// appendTransactionRecord appends one audit line. Audit failures are logged
// and swallowed: the audit trail must never break a committed write.
func (s *Store) appendTransactionRecord(operation string, doc schema.State, success bool, errMsg string) {
	rec := TransactionRecord{
		Timestamp: schema.Timestamp(time.Now()),
		Operation: operation,
		Success:   success,
		PID:       os.Getpid(),
		Error:     errMsg,
	}
	if doc != nil {
		rec.ChangedKeys = doc.TopLevelKeys()
	}

	if err := os.MkdirAll(s.pipelineDir(), 0755); err != nil {
		logging.StateWarn("transaction log: %v", err)
		return
	}
	f, err := os.OpenFile(s.transactionLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.StateWarn("transaction log: %v", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		logging.StateWarn("transaction log: %v", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		logging.StateWarn("transaction log: %v", err)
	}
}

// TransactionHistory returns the most recent audit records, newest last.
// Malformed lines are skipped. limit <= 0 means all records.
func (s *Store) TransactionHistory(limit int) ([]TransactionRecord, error) {
	f, err := os.Open(s.transactionLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ReadError{Path: s.transactionLogPath(), Err: err}
	}
	defer f.Close()

	var records []TransactionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec TransactionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate truncated or malformed lines
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ReadError{Path: s.transactionLogPath(), Err: err}
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
