package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// State is a pipeline-state document in its canonical map form. Phase
// executables attach phase-defined payloads, so the document stays an open
// map at the edges; the typed models in strict.go cover the closed parts.
type State map[string]any

// NewState returns an empty canonical document stamped with the current
// schema version and creation time.
func NewState() State {
	now := Timestamp(time.Now())
	return State{
		KeyPipelineVersion: Version,
		KeyCreatedAt:       now,
		KeyLastUpdated:     now,
		KeyPhases:          map[string]any{},
		KeyBatchRuns:       []any{},
		KeyVoiceOverrides:  map[string]any{},
	}
}

// Clone returns a deep copy of the document via a JSON round trip, which
// also guarantees the copy holds only JSON-representable values.
func (s State) Clone() (State, error) {
	if s == nil {
		return NewState(), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	return out, nil
}

// MustClone is Clone for callers that already hold a canonical document,
// where a marshal failure indicates a programming error.
func (s State) MustClone() State {
	out, err := s.Clone()
	if err != nil {
		panic(err)
	}
	return out
}

// Phase returns the block for key, or nil when absent.
func (s State) Phase(key PhaseKey) map[string]any {
	block, _ := s[string(key)].(map[string]any)
	return block
}

// EnsurePhase returns the block for key, creating an empty envelope if the
// phase has not been touched yet.
func (s State) EnsurePhase(key PhaseKey) map[string]any {
	if block := s.Phase(key); block != nil {
		return block
	}
	block := emptyEnvelope()
	if HasFilesMap(key) {
		block[KeyFiles] = map[string]any{}
	}
	s[string(key)] = block
	return block
}

// PhaseStatus returns the normalized status of a phase block, or
// StatusPending when the block is absent.
func (s State) PhaseStatus(key PhaseKey) Status {
	block := s.Phase(key)
	if block == nil {
		return StatusPending
	}
	raw, _ := block[FieldStatus].(string)
	return NormalizeStatus(raw)
}

// FileEntry returns the per-file entry for fileID within a phase block,
// or nil when either is absent.
func (s State) FileEntry(key PhaseKey, fileID string) map[string]any {
	block := s.Phase(key)
	if block == nil {
		return nil
	}
	files, _ := block[KeyFiles].(map[string]any)
	if files == nil {
		return nil
	}
	entry, _ := files[fileID].(map[string]any)
	return entry
}

// EnsureFileEntry returns the per-file entry for fileID, creating the phase
// block and entry as needed.
func (s State) EnsureFileEntry(key PhaseKey, fileID string) map[string]any {
	block := s.EnsurePhase(key)
	files, _ := block[KeyFiles].(map[string]any)
	if files == nil {
		files = map[string]any{}
		block[KeyFiles] = files
	}
	entry, _ := files[fileID].(map[string]any)
	if entry == nil {
		entry = emptyEnvelope()
		files[fileID] = entry
	}
	return entry
}

// FileStatus returns the normalized status of a phase-file entry, or
// StatusPending when absent. A file entry reaching success is the sole
// precondition for skipping re-execution on resume.
func (s State) FileStatus(key PhaseKey, fileID string) Status {
	entry := s.FileEntry(key, fileID)
	if entry == nil {
		return StatusPending
	}
	raw, _ := entry[FieldStatus].(string)
	return NormalizeStatus(raw)
}

// FileSourceHash returns the recorded source_hash of a phase-file entry,
// or "" when absent.
func (s State) FileSourceHash(key PhaseKey, fileID string) string {
	entry := s.FileEntry(key, fileID)
	if entry == nil {
		return ""
	}
	hash, _ := entry[KeySourceHash].(string)
	return hash
}

// SetFileResult records a status, an optional error string, and the source
// hash on a phase-file entry, stamping end time on the entry.
func (s State) SetFileResult(key PhaseKey, fileID string, status Status, sourceHash string, errMsg string) {
	entry := s.EnsureFileEntry(key, fileID)
	entry[FieldStatus] = string(status)
	ts, _ := entry[FieldTimestamps].(map[string]any)
	if ts == nil {
		ts = map[string]any{}
		entry[FieldTimestamps] = ts
	}
	ts["end"] = Timestamp(time.Now())
	if sourceHash != "" {
		entry[KeySourceHash] = sourceHash
	}
	if errMsg != "" {
		errs, _ := entry[FieldErrors].([]any)
		entry[FieldErrors] = append(errs, errMsg)
	}
}

// AppendPhaseError appends an error value to a phase block's errors array.
func (s State) AppendPhaseError(key PhaseKey, errVal any) {
	block := s.EnsurePhase(key)
	errs, _ := block[FieldErrors].([]any)
	block[FieldErrors] = append(errs, errVal)
}

// BatchRuns returns the batch_runs array, never nil.
func (s State) BatchRuns() []any {
	runs, _ := s[KeyBatchRuns].([]any)
	return runs
}

// AppendBatchRun appends one batch-run record to the document.
func (s State) AppendBatchRun(run map[string]any) {
	s[KeyBatchRuns] = append(s.BatchRuns(), run)
}

// VoiceFor resolves the voice for fileID: the per-file override wins,
// then the global tts_voice, then fallback.
func (s State) VoiceFor(fileID, fallback string) string {
	if overrides, ok := s[KeyVoiceOverrides].(map[string]any); ok {
		if v, ok := overrides[fileID].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := s[KeyTTSVoice].(string); ok && v != "" {
		return v
	}
	return fallback
}

// SetVoiceOverride records a per-file voice route on the document.
func (s State) SetVoiceOverride(fileID, voice string) {
	overrides, _ := s[KeyVoiceOverrides].(map[string]any)
	if overrides == nil {
		overrides = map[string]any{}
		s[KeyVoiceOverrides] = overrides
	}
	overrides[fileID] = voice
}

// Touch stamps last_updated with the current time.
func (s State) Touch() {
	s[KeyLastUpdated] = Timestamp(time.Now())
}

// TopLevelKeys returns the sorted top-level keys of the document, used by
// the transaction audit log to describe what a write changed.
func (s State) TopLevelKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// emptyEnvelope builds the five-field envelope with empty values.
func emptyEnvelope() map[string]any {
	return map[string]any{
		FieldStatus:     string(StatusPending),
		FieldTimestamps: map[string]any{},
		FieldArtifacts:  map[string]any{},
		FieldMetrics:    map[string]any{},
		FieldErrors:     []any{},
	}
}
