package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"audioforge/internal/logging"
)

// Override knob names recognized inside the per-phase maps.
const (
	KnobChunkDelta       = "chunk_size.delta_percent"
	KnobPreferredEngine  = "engine.preferred"
	KnobEngineConfidence = "engine.confidence"
	KnobVoiceVariant     = "voice_variant"
	KnobSuggestedRetries = "retry_policy.suggested_retries"
	KnobRTFTarget        = "rtf_target.target"
)

// maxDeltaPercent bounds chunk_size.delta_percent in any materialized run.
const maxDeltaPercent = 20.0

// overridesVersion is the current tuning_overrides.json document version.
const overridesVersion = 1

// OverridesDocument is the on-disk shape of tuning_overrides.json.
type OverridesDocument struct {
	Version int `json:"version"`

	// Overrides maps phase_key -> knob -> value.
	Overrides map[string]map[string]any `json:"overrides"`

	// History records every accepted change, oldest first.
	History []HistoryEntry `json:"history"`

	// RuntimeState carries short-lived counters across runs.
	RuntimeState RuntimeState `json:"runtime_state"`
}

// HistoryEntry records one accepted override mutation.
type HistoryEntry struct {
	Timestamp string  `json:"timestamp"`
	Phase     string  `json:"phase"`
	Knob      string  `json:"knob"`
	Value     any     `json:"value"`
	Reason    string  `json:"reason"`
	Reward    float64 `json:"reward,omitempty"`
}

// RuntimeState holds counters that gate override materialization.
type RuntimeState struct {
	VoiceSuccessStreak int `json:"voice_success_streak"`
}

// RunOverrides is the safety-filtered view a run actually consumes.
type RunOverrides struct {
	ChunkDeltaPercent float64
	PreferredEngine   string
	VoiceVariant      string
	SuggestedRetries  int
	RTFTarget         float64
}

// OverrideStore owns tuning_overrides.json. A corrupt or missing document
// reads as empty; the advisor layer must never block a run.
type OverrideStore struct {
	mu   sync.Mutex
	path string
}

// NewOverrideStore creates a store for the document at path.
func NewOverrideStore(path string) *OverrideStore {
	return &OverrideStore{path: path}
}

// Load reads the document, tolerating absence and corruption.
func (s *OverrideStore) Load() *OverridesDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *OverrideStore) loadLocked() *OverridesDocument {
	doc := &OverridesDocument{
		Version:   overridesVersion,
		Overrides: map[string]map[string]any{},
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		logging.PolicyWarn("overrides document corrupt, starting empty: %v", err)
		return &OverridesDocument{Version: overridesVersion, Overrides: map[string]map[string]any{}}
	}
	if doc.Overrides == nil {
		doc.Overrides = map[string]map[string]any{}
	}
	return doc
}

func (s *OverrideStore) saveLocked(doc *OverridesDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("overrides: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("overrides: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("overrides: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("overrides: rename: %w", err)
	}
	return nil
}

// Set records one override knob and appends a history entry.
func (s *OverrideStore) Set(phase, knob string, value any, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	if doc.Overrides[phase] == nil {
		doc.Overrides[phase] = map[string]any{}
	}
	doc.Overrides[phase][knob] = value
	doc.History = append(doc.History, HistoryEntry{
		Timestamp: EventTimestamp(time.Now()),
		Phase:     phase,
		Knob:      knob,
		Value:     value,
		Reason:    reason,
	})
	return s.saveLocked(doc)
}

// Materialize applies the safety rules and returns what this run may use.
// Everything that fails its gate silently drops to the neutral value.
func (s *OverrideStore) Materialize() RunOverrides {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	var run RunOverrides

	for _, knobs := range doc.Overrides {
		if v, ok := asFloat(knobs[KnobChunkDelta]); ok {
			run.ChunkDeltaPercent = clampDelta(v)
		}
		if engine, ok := knobs[KnobPreferredEngine].(string); ok && engine != "" {
			conf, _ := asFloat(knobs[KnobEngineConfidence])
			if conf >= 0.70 {
				run.PreferredEngine = engine
			}
		}
		if voice, ok := knobs[KnobVoiceVariant].(string); ok && voice != "" {
			if doc.RuntimeState.VoiceSuccessStreak >= 3 {
				run.VoiceVariant = voice
			}
		}
		if v, ok := asFloat(knobs[KnobSuggestedRetries]); ok {
			run.SuggestedRetries = int(v)
		}
		if v, ok := asFloat(knobs[KnobRTFTarget]); ok {
			run.RTFTarget = v
		}
	}
	return run
}

// IngestRunOutcome folds one finished run's reward summary into the
// document: adaptive deltas nudge knobs, safety flags revert them, and
// the voice streak counter advances or resets.
func (s *OverrideStore) IngestRunOutcome(summary RewardSummary, voiceChanged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	now := EventTimestamp(time.Now())

	if voiceChanged {
		doc.RuntimeState.VoiceSuccessStreak = 0
	} else {
		doc.RuntimeState.VoiceSuccessStreak++
	}

	for knob, delta := range summary.AdaptiveDeltas {
		if knob != "chunk_size" {
			continue
		}
		phase := doc.Overrides["phase3"]
		if phase == nil {
			phase = map[string]any{}
			doc.Overrides["phase3"] = phase
		}
		current, _ := asFloat(phase[KnobChunkDelta])
		next := clampDelta(current + delta)
		phase[KnobChunkDelta] = next
		doc.History = append(doc.History, HistoryEntry{
			Timestamp: now,
			Phase:     "phase3",
			Knob:      KnobChunkDelta,
			Value:     next,
			Reason:    fmt.Sprintf("adaptive delta %.2f", delta),
			Reward:    summary.Average,
		})
	}

	for _, flag := range summary.SafetyFlags {
		switch flag {
		case FlagRevertChunk:
			if phase := doc.Overrides["phase3"]; phase != nil {
				delete(phase, KnobChunkDelta)
				doc.History = append(doc.History, HistoryEntry{
					Timestamp: now, Phase: "phase3", Knob: KnobChunkDelta,
					Value: nil, Reason: "safety revert: " + flag, Reward: summary.Average,
				})
			}
		case FlagRevertEngine:
			if phase := doc.Overrides["phase4"]; phase != nil {
				delete(phase, KnobPreferredEngine)
				delete(phase, KnobEngineConfidence)
				doc.History = append(doc.History, HistoryEntry{
					Timestamp: now, Phase: "phase4", Knob: KnobPreferredEngine,
					Value: nil, Reason: "safety revert: " + flag, Reward: summary.Average,
				})
			}
		case FlagVoiceAlert:
			doc.RuntimeState.VoiceSuccessStreak = 0
			doc.History = append(doc.History, HistoryEntry{
				Timestamp: now, Phase: "phase4", Knob: KnobVoiceVariant,
				Value: nil, Reason: "voice alert: hallucination observed", Reward: summary.Average,
			})
		}
	}

	return s.saveLocked(doc)
}

func clampDelta(v float64) float64 {
	if v > maxDeltaPercent {
		return maxDeltaPercent
	}
	if v < -maxDeltaPercent {
		return -maxDeltaPercent
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
