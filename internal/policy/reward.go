package policy

// RewardInputs are the per-run observations the reward collapses.
type RewardInputs struct {
	Failed        bool
	FallbackRate  float64
	RTFactor      float64
	Hallucination float64
}

// Reward scores one run. 1.0 is a clean run; failure, fallback, slow
// synthesis, and hallucination each subtract from it.
func Reward(in RewardInputs) float64 {
	r := 1.0
	if in.Failed {
		r -= 1.5
	}
	r -= 0.5 * in.FallbackRate
	if excess := in.RTFactor - 2.0; excess > 0 {
		r -= 0.1 * excess
	}
	r -= 0.3 * in.Hallucination
	return r
}

// Safety flag names emitted alongside adaptive deltas.
const (
	FlagRevertChunk  = "revert_chunk"
	FlagRevertEngine = "revert_engine"
	FlagVoiceAlert   = "voice_alert"
)

// maxChunkDelta bounds the adaptive chunk-size delta per ingestion.
const maxChunkDelta = 2.0

// RewardSummary is the advisor's running view of run quality.
type RewardSummary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`

	// AdaptiveDeltas are small knob nudges derived from the average,
	// keyed the same way as override knobs.
	AdaptiveDeltas map[string]float64 `json:"adaptive_deltas,omitempty"`

	// SafetyFlags request reverts when the average goes bad.
	SafetyFlags []string `json:"safety_flags,omitempty"`
}

// summarizeRewards derives per-run rewards from the event stream and
// produces the running summary. A run counts as failed when any of its
// events is a phase_failure; rt factor and fallback rate are the worst
// observed within the run.
func summarizeRewards(events []Event, hallucinations int) RewardSummary {
	type runView struct {
		failed       bool
		fallbackRate float64
		rtFactor     float64
		halluc       float64
	}
	runs := map[string]*runView{}
	var order []string

	for _, ev := range events {
		if ev.RunID == "" {
			continue
		}
		rv := runs[ev.RunID]
		if rv == nil {
			rv = &runView{}
			runs[ev.RunID] = rv
			order = append(order, ev.RunID)
		}
		if ev.Event == EventPhaseFailure {
			rv.failed = true
		}
		if ev.Metrics != nil {
			if fb := ev.Metrics[MetricFallbackRate]; fb > rv.fallbackRate {
				rv.fallbackRate = fb
			}
			if rtf := ev.Metrics[MetricRTFactor]; rtf > rv.rtFactor {
				rv.rtFactor = rtf
			}
			if h := ev.Metrics[MetricHallucination]; h > rv.halluc {
				rv.halluc = h
			}
		}
	}

	summary := RewardSummary{}
	var sum float64
	for _, runID := range order {
		rv := runs[runID]
		sum += Reward(RewardInputs{
			Failed:        rv.failed,
			FallbackRate:  rv.fallbackRate,
			RTFactor:      rv.rtFactor,
			Hallucination: rv.halluc,
		})
		summary.Count++
	}
	if summary.Count == 0 {
		// No scored runs yet; nothing to nudge.
		return summary
	}
	summary.Average = sum / float64(summary.Count)

	summary.AdaptiveDeltas = adaptiveDeltas(summary.Average)

	if summary.Average < -0.75 {
		summary.SafetyFlags = append(summary.SafetyFlags, FlagRevertEngine)
	}
	if summary.Average < -0.5 {
		summary.SafetyFlags = append(summary.SafetyFlags, FlagRevertChunk)
	}
	if hallucinations > 0 {
		summary.SafetyFlags = append(summary.SafetyFlags, FlagVoiceAlert)
	}
	return summary
}

// adaptiveDeltas nudges chunk size toward the reward gradient: good runs
// leave knobs alone, bad runs shrink chunks a little. Bounded to ±2.0.
func adaptiveDeltas(avg float64) map[string]float64 {
	if avg >= 0.5 {
		return nil
	}
	delta := -2.0 * (0.5 - avg)
	if delta < -maxChunkDelta {
		delta = -maxChunkDelta
	}
	if delta > maxChunkDelta {
		delta = maxChunkDelta
	}
	return map[string]float64{"chunk_size": delta}
}
