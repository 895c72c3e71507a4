// Package policy implements the observational telemetry layer: an
// append-only JSONL event log, rolling statistics over it, a read-only
// advisor that turns those statistics into non-binding tuning advice, and
// the tuning-override store that materializes accepted advice for the next
// run. Data flows one way: logs -> advisor stats -> override store. The
// override store never feeds back into the logger.
package policy

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names one policy-log event.
type EventType string

const (
	EventPhaseStart   EventType = "phase_start"
	EventPhaseEnd     EventType = "phase_end"
	EventPhaseRetry   EventType = "phase_retry"
	EventPhaseFailure EventType = "phase_failure"
)

// Event is one line of the policy log. Consumers must tolerate (skip)
// malformed lines; a truncated tail line from a crashed writer is expected.
type Event struct {
	Timestamp     string             `json:"timestamp"`
	Event         EventType          `json:"event"`
	Phase         string             `json:"phase"`
	FileID        string             `json:"file_id,omitempty"`
	Status        string             `json:"status"`
	RunID         string             `json:"run_id"`
	Sequence      int64              `json:"sequence"`
	LearningMode  string             `json:"learning_mode"`
	PolicyVersion string             `json:"policy_version"`
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	SystemLoad    float64            `json:"system_load"`
	DurationMS    float64            `json:"duration_ms,omitempty"`
	Engine        string             `json:"engine,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Errors        []string           `json:"errors,omitempty"`
}

// Well-known metric keys carried in Event.Metrics.
const (
	MetricRTFactor      = "rt_factor"
	MetricFallbackRate  = "fallback_rate"
	MetricHallucination = "hallucination"
)

// PhaseEvent is the caller-supplied part of an event; the logger enriches
// it with run identity, sequence, timestamp, and a system snapshot.
type PhaseEvent struct {
	Phase      string
	FileID     string
	Status     string
	DurationMS float64
	Engine     string
	Metrics    map[string]float64
	Errors     []string
}

// NewRunID generates a run identifier of the form
// run-<YYYYMMDDTHHMMSS>-<8 hex>.
func NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "run-" + time.Now().UTC().Format("20060102T150405") + "-" + suffix
}

// EventTimestamp renders t with millisecond resolution in UTC.
func EventTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
