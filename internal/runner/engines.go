package runner

import (
	"context"

	"audioforge/internal/logging"
	"audioforge/internal/policy"
	"audioforge/internal/schema"
)

// Supported TTS engines for phase 4.
const (
	EngineXTTS   = "xtts"
	EngineKokoro = "kokoro"
)

// secondaryEngine returns the fallback partner for an engine.
func secondaryEngine(primary string) string {
	if primary == EngineKokoro {
		return EngineXTTS
	}
	return EngineKokoro
}

// RunSynthesis executes phase 4 with engine routing: the preferred engine
// first (override store preference, already confidence-gated by the
// caller), then the secondary engine unless fallback is disabled. A
// fallback success is still a success, but the result records it so the
// advisor sees the fallback rate.
func (r *Runner) RunSynthesis(ctx context.Context, inv Invocation, maxRetries int, events *policy.Logger) (*Result, error) {
	inv.Phase = schema.Phase4
	if inv.Engine == "" {
		inv.Engine = r.cfg.DefaultEngine
	}
	if inv.Engine == "" {
		inv.Engine = EngineXTTS
	}

	res, err := r.RunWithRetry(ctx, inv, maxRetries, events)
	if err != nil || res == nil || res.Success {
		return res, err
	}
	if r.cfg.DisableFallback {
		return res, nil
	}
	if !Retryable(res.Failure, res.StderrTail) {
		return res, nil
	}

	fallback := secondaryEngine(inv.Engine)
	logging.RunnerWarn("engine %s failed, falling back to %s", inv.Engine, fallback)
	primaryAttempts := res.Attempts

	inv.Engine = fallback
	fbRes, err := r.RunWithRetry(ctx, inv, maxRetries, events)
	if err != nil || fbRes == nil {
		return res, err
	}
	fbRes.FellBack = true
	fbRes.Attempts += primaryAttempts
	return fbRes, nil
}
