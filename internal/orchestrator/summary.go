package orchestrator

import (
	"time"

	"audioforge/internal/schema"
)

// PhaseMetric is the per-phase slice of a run summary.
type PhaseMetric struct {
	Status     schema.Status `json:"status"`
	DurationMS float64       `json:"duration_ms"`
	Attempts   int           `json:"attempts"`
	Engine     string        `json:"engine,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	FellBack   bool          `json:"fell_back,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// RunSummary reports the outcome of one pipeline run.
type RunSummary struct {
	FileID        string                         `json:"file_id"`
	RunID         string                         `json:"run_id"`
	Success       bool                           `json:"success"`
	Cancelled     bool                           `json:"cancelled,omitempty"`
	AudiobookPath string                         `json:"audiobook_path,omitempty"`
	ArchivePath   string                         `json:"archive_path,omitempty"`
	Phases        map[schema.PhaseKey]PhaseMetric `json:"phases"`
	Errors        []string                       `json:"errors,omitempty"`
	Duration      time.Duration                  `json:"-"`
	DurationMS    float64                        `json:"duration_ms"`
}

// BatchSummary aggregates a batch of per-file runs.
type BatchSummary struct {
	RunID      string                 `json:"run_id"`
	Successful int                    `json:"successful"`
	Failed     int                    `json:"failed"`
	Skipped    int                    `json:"skipped"`
	DurationMS float64                `json:"duration_ms"`
	Files      map[string]*RunSummary `json:"files"`
}

// Success reports whether every file in the batch succeeded.
func (b *BatchSummary) Success() bool {
	return b.Failed == 0
}
