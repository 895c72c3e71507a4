// Package schema defines the canonical pipeline-state document (v4) and the
// normalization and validation passes that keep every on-disk document in
// that shape. The pipeline state is a single JSON object; phase executables
// from several toolchains write into it, so the registry accepts every prior
// layout and coerces it losslessly into the current one.
package schema

import (
	"strings"
	"time"
)

// Version is the current pipeline state schema version.
const Version = "4.0.0"

// Status is the lifecycle status of a phase, file entry, chunk, or batch run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusSuccess        Status = "success"
	StatusPartial        Status = "partial"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	StatusError          Status = "error"
	StatusSkipped        Status = "skipped"
	StatusUnknown        Status = "unknown"
)

// canonicalStatuses is the closed set of values a normalized document may carry.
var canonicalStatuses = map[Status]bool{
	StatusPending:        true,
	StatusRunning:        true,
	StatusSuccess:        true,
	StatusPartial:        true,
	StatusPartialSuccess: true,
	StatusFailed:         true,
	StatusError:          true,
	StatusSkipped:        true,
	StatusUnknown:        true,
}

// statusAliases maps status spellings seen in legacy documents to canonical values.
var statusAliases = map[string]Status{
	"complete":    StatusSuccess,
	"completed":   StatusSuccess,
	"ok":          StatusSuccess,
	"done":        StatusSuccess,
	"in_progress": StatusRunning,
	"in-progress": StatusRunning,
	"errored":     StatusError,
	"failure":     StatusFailed,
	"skip":        StatusSkipped,
}

// NormalizeStatus coerces an arbitrary status string to a canonical Status.
// Unknown values become pending so a stale document never blocks a re-run.
func NormalizeStatus(raw string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if canonicalStatuses[s] {
		return s
	}
	if alias, ok := statusAliases[string(s)]; ok {
		return alias
	}
	return StatusPending
}

// IsCanonicalStatus reports whether s is in the canonical status domain.
func IsCanonicalStatus(s Status) bool {
	return canonicalStatuses[s]
}

// IsTerminalSuccess reports whether s counts as a completed phase for
// resume decisions. Only a full success allows skipping re-execution.
func (s Status) IsTerminalSuccess() bool {
	return s == StatusSuccess
}

// PhaseKey identifies one pipeline phase block in the state document.
type PhaseKey string

const (
	Phase1   PhaseKey = "phase1"   // input validation
	Phase2   PhaseKey = "phase2"   // text extraction
	Phase3   PhaseKey = "phase3"   // semantic chunking
	Phase4   PhaseKey = "phase4"   // TTS synthesis
	Phase5   PhaseKey = "phase5"   // audio enhancement + assembly
	Phase5_5 PhaseKey = "phase5_5" // subtitle generation (optional)
	Phase6   PhaseKey = "phase6"   // batch aggregation prep
	Phase7   PhaseKey = "phase7"   // batch aggregation
)

// PhaseOrder is the fixed, total ordering of phases. Phase N+1 never
// observes state in which phase N has not committed.
var PhaseOrder = []PhaseKey{
	Phase1, Phase2, Phase3, Phase4, Phase5, Phase5_5, Phase6, Phase7,
}

// phaseIndex maps a phase key to its position in PhaseOrder.
var phaseIndex = func() map[PhaseKey]int {
	m := make(map[PhaseKey]int, len(PhaseOrder))
	for i, k := range PhaseOrder {
		m[k] = i
	}
	return m
}()

// IsPhaseKey reports whether key names a known phase block.
func IsPhaseKey(key string) bool {
	_, ok := phaseIndex[PhaseKey(key)]
	return ok
}

// PhaseIndex returns the position of key in the fixed phase ordering,
// or -1 for unknown keys.
func PhaseIndex(key PhaseKey) int {
	if i, ok := phaseIndex[key]; ok {
		return i
	}
	return -1
}

// PhaseBefore reports whether a orders strictly before b.
func PhaseBefore(a, b PhaseKey) bool {
	ai, bi := PhaseIndex(a), PhaseIndex(b)
	return ai >= 0 && bi >= 0 && ai < bi
}

// FilePhases are the phases that carry a per-file `files` map.
var FilePhases = []PhaseKey{Phase1, Phase2, Phase3, Phase4, Phase5, Phase5_5}

// HasFilesMap reports whether a phase block carries per-file entries.
func HasFilesMap(key PhaseKey) bool {
	for _, k := range FilePhases {
		if k == key {
			return true
		}
	}
	return false
}

// Envelope field names. Every phase block and file entry carries exactly
// these five fields at minimum; Canonicalize synthesizes the missing ones.
const (
	FieldStatus     = "status"
	FieldTimestamps = "timestamps"
	FieldArtifacts  = "artifacts"
	FieldMetrics    = "metrics"
	FieldErrors     = "errors"
)

// EnvelopeFields lists the five required envelope fields in document order.
var EnvelopeFields = []string{
	FieldStatus, FieldTimestamps, FieldArtifacts, FieldMetrics, FieldErrors,
}

// Root document keys recognized by the v4 schema.
const (
	KeyPipelineVersion = "pipeline_version"
	KeyCreatedAt       = "created_at"
	KeyLastUpdated     = "last_updated"
	KeyFileID          = "file_id"
	KeyPhases          = "phases"
	KeyBatchRuns       = "batch_runs"
	KeyVoiceOverrides  = "voice_overrides"
	KeyTTSVoice        = "tts_voice"
	KeyFiles           = "files"
	KeyChunks          = "chunks"
	KeySourceHash      = "source_hash"
	KeyRunID           = "run_id"
	KeyChunkID         = "chunk_id"
)

// rootKeys is the set of non-phase keys a canonical root object may carry.
var rootKeys = map[string]bool{
	KeyPipelineVersion: true,
	KeyCreatedAt:       true,
	KeyLastUpdated:     true,
	KeyFileID:          true,
	KeyPhases:          true,
	KeyBatchRuns:       true,
	KeyVoiceOverrides:  true,
	KeyTTSVoice:        true,
}

// Timestamp renders t in the ISO-8601 UTC form the state document uses.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}
