package runner

import (
	"context"
	"time"

	"audioforge/internal/logging"
	"audioforge/internal/policy"
)

// retryBackoff is the constant pause between attempts. Retries exist for
// transient I/O and lock contention, not structural failures, so a flat
// short delay suffices.
const retryBackoff = 2 * time.Second

// RunWithRetry runs one phase up to maxRetries+1 times. Structural
// failures abort immediately. A non-nil events logger receives one
// phase_retry record per re-attempt.
func (r *Runner) RunWithRetry(ctx context.Context, inv Invocation, maxRetries int, events *policy.Logger) (*Result, error) {
	var last *Result
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if attempt > 0 {
			logging.Runner("phase %s retry %d/%d", inv.Phase, attempt, maxRetries)
			if events != nil {
				events.RecordRetry(policy.PhaseEvent{
					Phase:  string(inv.Phase),
					FileID: inv.FileID,
					Status: "retrying",
					Engine: inv.Engine,
				})
			}
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		res, err := r.Run(ctx, inv)
		if err != nil {
			return last, err
		}
		attempts++
		res.Attempts = attempts
		last = res

		if res.Success {
			return res, nil
		}
		if !Retryable(res.Failure, res.StderrTail) {
			logging.RunnerWarn("phase %s failure %s is structural, not retrying", inv.Phase, res.Failure)
			return res, nil
		}
	}
	return last, nil
}
