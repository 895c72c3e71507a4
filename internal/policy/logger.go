package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"audioforge/internal/logging"
)

// LoggerOptions configures a policy Logger.
type LoggerOptions struct {
	// LearningMode stamped on every event (default "observe").
	LearningMode string
	// PolicyVersion stamped on every event.
	PolicyVersion string
	// RunID identifies this orchestrator invocation. Empty means a fresh
	// NewRunID.
	RunID string
}

// Logger appends policy events to one JSONL file per UTC day. Every record
// hook is best-effort: I/O failures are logged to diagnostics and
// swallowed, because observability must never break the pipeline. Writers
// serialize through an in-process mutex and flush after every line.
type Logger struct {
	mu sync.Mutex

	root          string
	runID         string
	learningMode  string
	policyVersion string

	sequence int64 // per-run, strictly increasing from 1
	day      string
	file     *os.File

	sampler *systemSampler
}

// NewLogger creates a policy logger writing under root.
func NewLogger(root string, opts LoggerOptions) *Logger {
	if opts.LearningMode == "" {
		opts.LearningMode = "observe"
	}
	if opts.PolicyVersion == "" {
		opts.PolicyVersion = "v1"
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	return &Logger{
		root:          root,
		runID:         opts.RunID,
		learningMode:  opts.LearningMode,
		policyVersion: opts.PolicyVersion,
		sampler:       newSystemSampler(),
	}
}

// RunID returns the run identifier stamped on this logger's events.
func (l *Logger) RunID() string { return l.runID }

// RecordPhaseStart records a phase_start event.
func (l *Logger) RecordPhaseStart(ev PhaseEvent) { l.record(EventPhaseStart, ev) }

// RecordPhaseEnd records a phase_end event.
func (l *Logger) RecordPhaseEnd(ev PhaseEvent) { l.record(EventPhaseEnd, ev) }

// RecordRetry records a phase_retry event.
func (l *Logger) RecordRetry(ev PhaseEvent) { l.record(EventPhaseRetry, ev) }

// RecordFailure records a phase_failure event.
func (l *Logger) RecordFailure(ev PhaseEvent) { l.record(EventPhaseFailure, ev) }

// record enriches and appends one event line.
func (l *Logger) record(kind EventType, ev PhaseEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	snapshot := l.sampler.Sample()

	event := Event{
		Timestamp:     EventTimestamp(time.Now()),
		Event:         kind,
		Phase:         ev.Phase,
		FileID:        ev.FileID,
		Status:        ev.Status,
		RunID:         l.runID,
		Sequence:      l.sequence,
		LearningMode:  l.learningMode,
		PolicyVersion: l.policyVersion,
		CPUPercent:    snapshot.CPUPercent,
		MemoryPercent: snapshot.MemoryPercent,
		SystemLoad:    snapshot.SystemLoad,
		DurationMS:    ev.DurationMS,
		Engine:        ev.Engine,
		Metrics:       ev.Metrics,
		Errors:        ev.Errors,
	}

	line, err := json.Marshal(event)
	if err != nil {
		logging.PolicyWarn("marshal event: %v", err)
		return
	}

	f, err := l.dayFile()
	if err != nil {
		logging.PolicyWarn("open policy log: %v", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		logging.PolicyWarn("append policy log: %v", err)
		return
	}
	// Flush per line so a crash loses at most the line being written.
	if err := f.Sync(); err != nil {
		logging.PolicyWarn("sync policy log: %v", err)
	}
}

// dayFile returns the open handle for the current UTC day, rotating at day
// boundaries. Caller holds l.mu.
func (l *Logger) dayFile() (*os.File, error) {
	day := time.Now().UTC().Format("20060102")
	if l.file != nil && day == l.day {
		return l.file, nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(l.root, day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l.day = day
	l.file = f
	logging.PolicyDebug("policy log rotated to %s", path)
	return f, nil
}

// Close releases the current day file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
