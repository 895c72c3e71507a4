package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"audioforge/internal/logging"
)

// Suggestion is one typed piece of advice. Nothing acts on it
// automatically; the override store decides what to materialize.
type Suggestion struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Value      any     `json:"value,omitempty"`
}

// AdviceBundle is the full output of one Advise call.
type AdviceBundle struct {
	GeneratedAt string                `json:"generated_at"`
	Suggestions map[string]Suggestion `json:"suggestions"`
	Alerts      []string              `json:"alerts,omitempty"`
	Telemetry   map[string]PhaseStats `json:"telemetry"`
	Reward      RewardSummary         `json:"reward"`
	EventCount  int                   `json:"event_count"`
}

// Advisor computes rolling statistics over the policy logs and turns them
// into suggestions. It is strictly read-only over the logs and caches its
// stats against a directory fingerprint so repeated Advise calls are
// cheap.
type Advisor struct {
	mu sync.Mutex

	root   string
	window int
	token  cacheToken

	events []Event
	stats  *statsSet
}

// NewAdvisor creates an advisor over the policy-log directory root.
func NewAdvisor(root string) *Advisor {
	return &Advisor{root: root, window: RollingWindow}
}

// SetWindow overrides the per-phase rolling window. Values <= 0 keep
// the default. Stats are rebuilt on the next Advise.
func (a *Advisor) SetWindow(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.window = n
	a.token = cacheToken{}
	a.stats = nil
	a.mu.Unlock()
}

// Advise reloads stats if the log directory changed, then derives the
// suggestion set.
func (a *Advisor) Advise(ctx context.Context) (*AdviceBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.refreshLocked(); err != nil {
		return nil, err
	}

	phases := a.stats.phaseStats()
	reward := summarizeRewards(a.events, a.stats.hallucinations)

	bundle := &AdviceBundle{
		GeneratedAt: EventTimestamp(time.Now()),
		Suggestions: map[string]Suggestion{},
		Telemetry:   phases,
		Reward:      reward,
		EventCount:  len(a.events),
	}

	a.suggestChunkSize(bundle, phases)
	a.suggestEngine(bundle, phases)
	a.suggestVoiceVariant(bundle)
	a.suggestRetryPolicy(bundle, phases)
	a.collectAlerts(bundle, phases)

	return bundle, nil
}

// PhaseRecentAverage returns the rolling mean duration for one phase, in
// the same unit the events carry (milliseconds).
func (a *Advisor) PhaseRecentAverage(ctx context.Context, phase string) (float64, error) {
	bundle, err := a.Advise(ctx)
	if err != nil {
		return 0, err
	}
	return bundle.Telemetry[phase].Durations.Mean, nil
}

// Invalidate forces the next Advise to reload from disk.
func (a *Advisor) Invalidate() {
	a.mu.Lock()
	a.token = cacheToken{}
	a.stats = nil
	a.mu.Unlock()
}

// refreshLocked rebuilds events and stats when the directory fingerprint
// moved. Caller holds a.mu.
func (a *Advisor) refreshLocked() error {
	token := snapshotLogDir(a.root)
	if a.stats != nil && token == a.token {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryPolicy, "advisor stats rebuild")
	events, err := ReadEvents(a.root)
	if err != nil {
		return fmt.Errorf("advisor: read logs: %w", err)
	}
	a.events = events
	a.stats = buildStats(events, a.window)
	a.token = token
	timer.Stop()
	return nil
}

// suggestChunkSize flags phase-3 chunking when mean chunk duration leaves
// the 180s..600s band.
func (a *Advisor) suggestChunkSize(b *AdviceBundle, phases map[string]PhaseStats) {
	stats, ok := phases["phase3"]
	if !ok || stats.Durations.Count == 0 {
		return
	}
	meanSec := stats.Durations.Mean / 1000
	switch {
	case meanSec > 600:
		b.Suggestions["chunk_size"] = Suggestion{
			Action:     "reduce",
			Confidence: confidenceFromSamples(stats.Durations.Count, a.window),
			Reason:     fmt.Sprintf("phase3 mean duration %.0fs exceeds 600s", meanSec),
		}
	case meanSec < 180:
		b.Suggestions["chunk_size"] = Suggestion{
			Action:     "increase",
			Confidence: confidenceFromSamples(stats.Durations.Count, a.window),
			Reason:     fmt.Sprintf("phase3 mean duration %.0fs under 180s", meanSec),
		}
	}
}

// suggestEngine compares per-engine success rates in phase 4 and proposes
// the clear winner. Below 0.55 confidence nothing is emitted.
func (a *Advisor) suggestEngine(b *AdviceBundle, phases map[string]PhaseStats) {
	stats, ok := phases["phase4"]
	if !ok || len(stats.EngineRuns) < 2 {
		return
	}

	type engineRate struct {
		name string
		rate float64
		runs int
	}
	var best, worst engineRate
	worst.rate = 2
	for name, runs := range stats.EngineRuns {
		if runs == 0 {
			continue
		}
		rate := float64(stats.EngineSuccess[name]) / float64(runs)
		if rate > best.rate || best.name == "" {
			best = engineRate{name, rate, runs}
		}
		if rate < worst.rate {
			worst = engineRate{name, rate, runs}
		}
	}
	margin := best.rate - worst.rate
	if best.name == "" || margin < 0.10 {
		return
	}

	confidence := margin * confidenceFromSamples(best.runs, a.window)
	if confidence < 0.55 {
		return
	}
	b.Suggestions["engine"] = Suggestion{
		Action:     "prefer",
		Confidence: confidence,
		Reason:     fmt.Sprintf("%s success rate %.0f%% beats %s by %.0f points", best.name, best.rate*100, worst.name, margin*100),
		Value:      best.name,
	}
}

// suggestVoiceVariant proposes a voice change for any file that failed
// phase 4 at least twice.
func (a *Advisor) suggestVoiceVariant(b *AdviceBundle) {
	for fileID, failures := range a.stats.phase4FileFailures {
		if failures < 2 {
			continue
		}
		b.Suggestions["voice_variant"] = Suggestion{
			Action:     "rotate",
			Confidence: confidenceFromSamples(failures, a.window),
			Reason:     fmt.Sprintf("file %s failed phase4 %d times", fileID, failures),
			Value:      fileID,
		}
		return
	}
}

// suggestRetryPolicy maps the observed failure rate to a retry budget.
func (a *Advisor) suggestRetryPolicy(b *AdviceBundle, phases map[string]PhaseStats) {
	var completions, failures int
	for _, stats := range phases {
		completions += stats.Completions
		failures += stats.Failures
	}
	total := completions + failures
	if total == 0 {
		return
	}
	rate := float64(failures) / float64(total)
	switch {
	case rate > 0.35:
		b.Suggestions["retry_policy"] = Suggestion{
			Action:     "raise",
			Confidence: confidenceFromSamples(total, a.window),
			Reason:     fmt.Sprintf("failure rate %.0f%% above 35%%", rate*100),
			Value:      4,
		}
	case rate < 0.05:
		b.Suggestions["retry_policy"] = Suggestion{
			Action:     "lower",
			Confidence: confidenceFromSamples(total, a.window),
			Reason:     fmt.Sprintf("failure rate %.0f%% below 5%%", rate*100),
			Value:      1,
		}
	}
}

// collectAlerts emits the soft, non-binding warnings.
func (a *Advisor) collectAlerts(b *AdviceBundle, phases map[string]PhaseStats) {
	for key, stats := range phases {
		if stats.RTFactors.Count > 0 && stats.RTFactors.Mean > 2.0 {
			b.Alerts = append(b.Alerts, fmt.Sprintf("rt_factor_alert: %s mean rt factor %.2f", key, stats.RTFactors.Mean))
		}
		if stats.Fallbacks.Count > 0 && stats.Fallbacks.Mean > 0.25 {
			b.Alerts = append(b.Alerts, fmt.Sprintf("fallback_alert: %s mean fallback rate %.2f", key, stats.Fallbacks.Mean))
		}
		if stats.Durations.Count >= 4 && stats.Durations.P50 > 0 && stats.Durations.P95 > 2*stats.Durations.P50 {
			b.Alerts = append(b.Alerts, fmt.Sprintf("phase_duration_watch: %s p95 %.0fms over twice p50", key, stats.Durations.P95))
		}
	}
	if a.stats.hallucinations > 0 {
		b.Alerts = append(b.Alerts, fmt.Sprintf("hallucination_watch: %d events with hallucination signal", a.stats.hallucinations))
	}
}

// confidenceFromSamples ramps confidence with sample count, saturating at
// 0.95 once the rolling window is half full.
func confidenceFromSamples(n, window int) float64 {
	c := float64(n) / (float64(window) / 2)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// Watch invalidates the stats cache whenever the log directory changes,
// until ctx is done. It complements the mtime token for long-lived
// processes serving repeated Advise calls.
func (a *Advisor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("advisor: watcher: %w", err)
	}
	if err := watcher.Add(a.root); err != nil {
		watcher.Close()
		return fmt.Errorf("advisor: watch %s: %w", a.root, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					a.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.PolicyWarn("log watcher: %v", err)
			}
		}
	}()
	return nil
}
