package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"audioforge/internal/logging"
	"audioforge/internal/schema"
)

// RunBatch runs the pipeline once per input, up to MaxWorkers in
// parallel. Every worker shares the single state file; the store
// serializes their writes. A file's failure does not stop the others. At
// the end one batch_runs record summarizing all files is committed
// atomically.
func (o *Orchestrator) RunBatch(ctx context.Context, inputs []string, template RunRequest) (*BatchSummary, error) {
	start := time.Now()
	batch := &BatchSummary{
		RunID: o.events.RunID(),
		Files: map[string]*RunSummary{},
	}

	workers := o.cfg.Orchestrator.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	logging.Batch("batch %s: %d inputs, %d workers", batch.RunID, len(inputs), workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, input := range inputs {
		input := input
		g.Go(func() error {
			req := template
			req.InputPath = input
			summary, err := o.Run(gctx, req)
			if err != nil {
				logging.BatchDebug("input %s: %v", input, err)
			}
			mu.Lock()
			batch.Files[FileIDFor(input)] = summary
			mu.Unlock()
			// A per-file failure is recorded, not propagated: it must not
			// cancel sibling workers.
			return nil
		})
	}
	_ = g.Wait()

	for _, summary := range batch.Files {
		switch {
		case summary == nil:
			batch.Failed++
		case summary.Success:
			batch.Successful++
			if allSkipped(summary) {
				batch.Skipped++
			}
		default:
			batch.Failed++
		}
	}
	batch.DurationMS = float64(time.Since(start).Milliseconds())

	if err := o.commitBatchRecord(batch, start); err != nil {
		logging.BatchDebug("commit batch record: %v", err)
		return batch, err
	}
	logging.Batch("batch %s done: %d ok, %d failed, %d skipped", batch.RunID, batch.Successful, batch.Failed, batch.Skipped)
	return batch, nil
}

func allSkipped(summary *RunSummary) bool {
	if len(summary.Phases) == 0 {
		return false
	}
	for _, m := range summary.Phases {
		if !m.Skipped {
			return false
		}
	}
	return true
}

// batchStatus collapses the per-file outcomes into the record's own
// status: all good, all bad, or a mix.
func batchStatus(batch *BatchSummary) schema.Status {
	switch {
	case batch.Failed == 0:
		return schema.StatusSuccess
	case batch.Successful == 0:
		return schema.StatusFailed
	default:
		return schema.StatusPartialSuccess
	}
}

// commitBatchRecord appends one batch_runs entry carrying the standard
// envelope: its own status, wall-clock timestamps, aggregate metrics, and
// per-file envelopes.
func (o *Orchestrator) commitBatchRecord(batch *BatchSummary, start time.Time) error {
	files := map[string]any{}
	for fileID, summary := range batch.Files {
		status := schema.StatusFailed
		var errs []any
		if summary != nil {
			if summary.Success {
				status = schema.StatusSuccess
			}
			for _, e := range summary.Errors {
				errs = append(errs, e)
			}
		}
		files[fileID] = map[string]any{
			schema.FieldStatus: string(status),
			schema.FieldErrors: errs,
		}
	}

	return o.store.WithTransaction("append batch run", func(doc schema.State) error {
		doc.AppendBatchRun(map[string]any{
			schema.KeyRunID:    batch.RunID,
			schema.FieldStatus: string(batchStatus(batch)),
			schema.FieldTimestamps: map[string]any{
				"start": schema.Timestamp(start),
				"end":   schema.Timestamp(time.Now()),
			},
			schema.FieldMetrics: map[string]any{
				"successful":  batch.Successful,
				"failed":      batch.Failed,
				"skipped":     batch.Skipped,
				"duration_ms": batch.DurationMS,
			},
			schema.KeyFiles: files,
		})
		return nil
	})
}
