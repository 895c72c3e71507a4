package policy

import (
	"math"
	"sort"
)

// RollingWindow is the number of most recent events per phase that feed
// the rolling statistics.
const RollingWindow = 40

// SeriesStats summarizes one numeric series.
type SeriesStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// series keeps at most window values, oldest dropped first.
type series struct {
	window int
	values []float64
}

func (s *series) push(v float64) {
	s.values = append(s.values, v)
	if len(s.values) > s.window {
		s.values = s.values[len(s.values)-s.window:]
	}
}

func (s *series) stats() SeriesStats {
	n := len(s.values)
	if n == 0 {
		return SeriesStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, s.values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return SeriesStats{
		Count: n,
		Mean:  sum / float64(n),
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Min:   sorted[0],
		Max:   sorted[n-1],
	}
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// PhaseStats aggregates the rolling window for one phase.
type PhaseStats struct {
	Phase string `json:"phase"`

	Durations SeriesStats `json:"durations"`
	RTFactors SeriesStats `json:"rt_factors"`
	Fallbacks SeriesStats `json:"fallback_rates"`

	Completions int `json:"completions"`
	Failures    int `json:"failures"`
	Retries     int `json:"retries"`

	// EngineRuns and EngineSuccess bucket phase outcomes per engine.
	EngineRuns    map[string]int `json:"engine_runs,omitempty"`
	EngineSuccess map[string]int `json:"engine_success,omitempty"`
}

// FailureRate is failures over observed completions plus failures.
func (p *PhaseStats) FailureRate() float64 {
	total := p.Completions + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Failures) / float64(total)
}

// phaseAccumulator builds PhaseStats incrementally from the event stream.
type phaseAccumulator struct {
	stats     PhaseStats
	durations series
	rtFactors series
	fallbacks series
}

func (a *phaseAccumulator) observe(ev Event) {
	switch ev.Event {
	case EventPhaseEnd:
		a.stats.Completions++
		if ev.DurationMS > 0 {
			a.durations.push(ev.DurationMS)
		}
		if ev.Metrics != nil {
			if rtf, ok := ev.Metrics[MetricRTFactor]; ok {
				a.rtFactors.push(rtf)
			}
			if fb, ok := ev.Metrics[MetricFallbackRate]; ok {
				a.fallbacks.push(fb)
			}
		}
		if ev.Engine != "" {
			if a.stats.EngineRuns == nil {
				a.stats.EngineRuns = map[string]int{}
				a.stats.EngineSuccess = map[string]int{}
			}
			a.stats.EngineRuns[ev.Engine]++
			if ev.Status == "success" || ev.Status == "partial_success" {
				a.stats.EngineSuccess[ev.Engine]++
			}
		}
	case EventPhaseFailure:
		a.stats.Failures++
		if ev.Engine != "" {
			if a.stats.EngineRuns == nil {
				a.stats.EngineRuns = map[string]int{}
				a.stats.EngineSuccess = map[string]int{}
			}
			a.stats.EngineRuns[ev.Engine]++
		}
	case EventPhaseRetry:
		a.stats.Retries++
	}
}

func (a *phaseAccumulator) finish() PhaseStats {
	a.stats.Durations = a.durations.stats()
	a.stats.RTFactors = a.rtFactors.stats()
	a.stats.Fallbacks = a.fallbacks.stats()
	return a.stats
}

// statsSet holds the per-phase rollups plus the cross-phase aggregates the
// advisor needs for file-level suggestions.
type statsSet struct {
	phases map[string]*phaseAccumulator

	// phase-4 failure counts per file, feeding voice_variant suggestions
	phase4FileFailures map[string]int

	// hallucination observations across the window
	hallucinations int
}

func buildStats(events []Event, window int) *statsSet {
	if window <= 0 {
		window = RollingWindow
	}
	set := &statsSet{
		phases:             map[string]*phaseAccumulator{},
		phase4FileFailures: map[string]int{},
	}
	for _, ev := range events {
		if ev.Phase == "" {
			continue
		}
		acc := set.phases[ev.Phase]
		if acc == nil {
			acc = &phaseAccumulator{
				stats:     PhaseStats{Phase: ev.Phase},
				durations: series{window: window},
				rtFactors: series{window: window},
				fallbacks: series{window: window},
			}
			set.phases[ev.Phase] = acc
		}
		acc.observe(ev)

		if ev.Event == EventPhaseFailure && ev.Phase == "phase4" && ev.FileID != "" {
			set.phase4FileFailures[ev.FileID]++
		}
		if ev.Metrics != nil && ev.Metrics[MetricHallucination] > 0 {
			set.hallucinations++
		}
	}
	return set
}

func (s *statsSet) phaseStats() map[string]PhaseStats {
	out := make(map[string]PhaseStats, len(s.phases))
	for key, acc := range s.phases {
		out[key] = acc.finish()
	}
	return out
}
