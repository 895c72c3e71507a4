package schema

import (
	"encoding/json"
	"fmt"
)

// Typed models for the closed parts of the document. These back
// StrictValidate and give new code a concrete shape to build entries with;
// phase-defined payloads stay open (json.RawMessage / any).

// Envelope is the five-field object every phase block, file entry, and
// batch run carries.
type Envelope struct {
	Status     Status          `json:"status"`
	Timestamps map[string]any  `json:"timestamps"`
	Artifacts  json.RawMessage `json:"artifacts"`
	Metrics    map[string]any  `json:"metrics"`
	Errors     []any           `json:"errors"`
}

// ChunkEntry is one TTS synthesis unit within a phase-4/5 file entry.
type ChunkEntry struct {
	ChunkID        string  `json:"chunk_id"`
	Status         Status  `json:"status"`
	Errors         []any   `json:"errors"`
	AudioPath      string  `json:"audio_path,omitempty"`
	Engine         string  `json:"engine,omitempty"`
	ValidationTier string  `json:"validation_tier,omitempty"`
	RTFactor       float64 `json:"rt_factor,omitempty"`
}

// FileEntry mirrors the envelope per input file, plus the chunk list for
// phases 4 and 5 and the content hash that drives reuse decisions.
type FileEntry struct {
	Envelope
	SourceHash string       `json:"source_hash,omitempty"`
	Chunks     []ChunkEntry `json:"chunks,omitempty"`
}

// PhaseBlock is one phase's slice of the document.
type PhaseBlock struct {
	Envelope
	Files map[string]FileEntry `json:"files,omitempty"`
}

// BatchRun summarizes one multi-input batch execution.
type BatchRun struct {
	RunID string `json:"run_id"`
	Envelope
	Files map[string]Envelope `json:"files,omitempty"`
}

// Document is the typed v4 state document.
type Document struct {
	PipelineVersion string            `json:"pipeline_version"`
	CreatedAt       string            `json:"created_at,omitempty"`
	LastUpdated     string            `json:"last_updated,omitempty"`
	FileID          string            `json:"file_id,omitempty"`
	Phase1          *PhaseBlock       `json:"phase1,omitempty"`
	Phase2          *PhaseBlock       `json:"phase2,omitempty"`
	Phase3          *PhaseBlock       `json:"phase3,omitempty"`
	Phase4          *PhaseBlock       `json:"phase4,omitempty"`
	Phase5          *PhaseBlock       `json:"phase5,omitempty"`
	Phase5_5        *PhaseBlock       `json:"phase5_5,omitempty"`
	Phase6          *PhaseBlock       `json:"phase6,omitempty"`
	Phase7          *PhaseBlock       `json:"phase7,omitempty"`
	Phases          map[string]string `json:"phases,omitempty"`
	BatchRuns       []BatchRun        `json:"batch_runs,omitempty"`
	VoiceOverrides  map[string]string `json:"voice_overrides,omitempty"`
	TTSVoice        string            `json:"tts_voice,omitempty"`
}

// PhaseBlocks returns the present phase blocks keyed in document order.
func (d *Document) PhaseBlocks() map[PhaseKey]*PhaseBlock {
	out := map[PhaseKey]*PhaseBlock{}
	for key, block := range map[PhaseKey]*PhaseBlock{
		Phase1: d.Phase1, Phase2: d.Phase2, Phase3: d.Phase3,
		Phase4: d.Phase4, Phase5: d.Phase5, Phase5_5: d.Phase5_5,
		Phase6: d.Phase6, Phase7: d.Phase7,
	} {
		if block != nil {
			out[key] = block
		}
	}
	return out
}

// StrictValidate decodes the document through the typed models and enforces
// the enum domains the structural Validate pass cannot express. Use it when
// strict mode is on; everyday reads run Validate only.
func StrictValidate(s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("schema: strict validate: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("schema: strict validate: %w", err)
	}

	var errs ValidationErrors
	if doc.PipelineVersion == "" {
		errs = append(errs, &ValidationError{Path: KeyPipelineVersion, Msg: "missing"})
	}
	for key, block := range doc.PhaseBlocks() {
		if !IsCanonicalStatus(block.Status) {
			errs = append(errs, &ValidationError{
				Path: fmt.Sprintf("%s.status", key),
				Msg:  fmt.Sprintf("%q is outside the status domain", block.Status),
			})
		}
		for fileID, entry := range block.Files {
			if !IsCanonicalStatus(entry.Status) {
				errs = append(errs, &ValidationError{
					Path: fmt.Sprintf("%s.files.%s.status", key, fileID),
					Msg:  fmt.Sprintf("%q is outside the status domain", entry.Status),
				})
			}
			for i, chunk := range entry.Chunks {
				if chunk.ChunkID == "" {
					errs = append(errs, &ValidationError{
						Path: fmt.Sprintf("%s.files.%s.chunks[%d].chunk_id", key, fileID, i),
						Msg:  "empty",
					})
				}
				if !IsCanonicalStatus(chunk.Status) {
					errs = append(errs, &ValidationError{
						Path: fmt.Sprintf("%s.files.%s.chunks[%d].status", key, fileID, i),
						Msg:  fmt.Sprintf("%q is outside the status domain", chunk.Status),
					})
				}
			}
		}
	}
	for i, run := range doc.BatchRuns {
		if run.RunID == "" {
			errs = append(errs, &ValidationError{Path: fmt.Sprintf("batch_runs[%d].run_id", i), Msg: "empty"})
		}
		if !IsCanonicalStatus(run.Status) {
			errs = append(errs, &ValidationError{
				Path: fmt.Sprintf("batch_runs[%d].status", i),
				Msg:  fmt.Sprintf("%q is outside the status domain", run.Status),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
