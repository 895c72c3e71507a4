package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CanonicalizeOptions controls the normalization pass.
type CanonicalizeOptions struct {
	// SchemaVersion overrides the version stamped on the document.
	// Empty means the current Version.
	SchemaVersion string
	// TouchTimestamps stamps last_updated with the current time.
	TouchTimestamps bool
}

// Canonicalize normalizes a raw document into the current schema with
// default options. It is safe to apply on every read: the pass is
// idempotent, so Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw map[string]any) State {
	return CanonicalizeWith(raw, CanonicalizeOptions{})
}

// CanonicalizeWith normalizes a raw document into the current schema.
//
// Normalization rules, applied in order:
//   - promote legacy file-first layouts ({file_id: {phase1: ...}}) into
//     phase-first blocks with per-file entries
//   - synthesize the five envelope fields on every phase block and file entry
//   - coerce status strings through the alias table; unknown -> pending
//   - collapse inline chunk_NNNN sibling keys into a chunks array
//   - promote a legacy flat `batch` payload into a batch_runs entry
//   - recompute the derived `phases` map
//
// The input map is not mutated.
func CanonicalizeWith(raw map[string]any, opts CanonicalizeOptions) State {
	doc := deepCopyMap(raw)
	if doc == nil {
		doc = map[string]any{}
	}

	promoteFileFirstLayout(doc)
	promoteLegacyBatch(doc)

	for _, key := range PhaseOrder {
		block, ok := doc[string(key)].(map[string]any)
		if !ok {
			if _, present := doc[string(key)]; present {
				// A non-object phase block carries no recoverable data.
				block = emptyEnvelope()
			} else {
				continue
			}
		}
		normalizeEnvelope(block)
		if HasFilesMap(key) {
			normalizeFilesMap(block)
		}
		doc[string(key)] = block
	}

	normalizeBatchRuns(doc)
	normalizeVoiceOverrides(doc)

	version := opts.SchemaVersion
	if version == "" {
		version = Version
	}
	doc[KeyPipelineVersion] = version
	if _, ok := doc[KeyCreatedAt].(string); !ok {
		doc[KeyCreatedAt] = Timestamp(time.Now())
	}
	if _, ok := doc[KeyLastUpdated].(string); !ok || opts.TouchTimestamps {
		doc[KeyLastUpdated] = Timestamp(time.Now())
	}

	recomputePhasesMap(doc)

	return State(doc)
}

// promoteFileFirstLayout lifts {file_id: {phase1: ..., phase2: ...}} roots
// into phase-first blocks. A root key qualifies when it is neither a known
// root key nor a phase key and its value is an object holding at least one
// phase key.
func promoteFileFirstLayout(doc map[string]any) {
	for key, val := range doc {
		if rootKeys[key] || IsPhaseKey(key) {
			continue
		}
		payload, ok := val.(map[string]any)
		if !ok {
			continue
		}
		var phaseKeys []string
		for inner := range payload {
			if IsPhaseKey(inner) {
				phaseKeys = append(phaseKeys, inner)
			}
		}
		if len(phaseKeys) == 0 {
			continue
		}
		sort.Strings(phaseKeys)
		for _, pk := range phaseKeys {
			entry, ok := payload[pk].(map[string]any)
			if !ok {
				entry = map[string]any{}
			}
			block, _ := doc[pk].(map[string]any)
			if block == nil {
				block = emptyEnvelope()
				block[KeyFiles] = map[string]any{}
				doc[pk] = block
			}
			files, _ := block[KeyFiles].(map[string]any)
			if files == nil {
				files = map[string]any{}
				block[KeyFiles] = files
			}
			if _, exists := files[key]; !exists {
				files[key] = entry
			}
		}
		delete(doc, key)
	}
}

// promoteLegacyBatch converts a flat `batch` payload into a batch_runs entry.
func promoteLegacyBatch(doc map[string]any) {
	batch, ok := doc["batch"].(map[string]any)
	if !ok {
		delete(doc, "batch")
		return
	}
	runs, _ := doc[KeyBatchRuns].([]any)
	doc[KeyBatchRuns] = append(runs, batch)
	delete(doc, "batch")
}

// normalizeEnvelope synthesizes the five required envelope fields in place.
func normalizeEnvelope(block map[string]any) {
	raw, _ := block[FieldStatus].(string)
	block[FieldStatus] = string(NormalizeStatus(raw))

	if _, ok := block[FieldTimestamps].(map[string]any); !ok {
		block[FieldTimestamps] = map[string]any{}
	}
	switch block[FieldArtifacts].(type) {
	case map[string]any, []any:
	default:
		block[FieldArtifacts] = map[string]any{}
	}
	if _, ok := block[FieldMetrics].(map[string]any); !ok {
		block[FieldMetrics] = map[string]any{}
	}
	if _, ok := block[FieldErrors].([]any); !ok {
		block[FieldErrors] = []any{}
	}
}

// normalizeFilesMap normalizes every file entry under a phase block.
func normalizeFilesMap(block map[string]any) {
	files, ok := block[KeyFiles].(map[string]any)
	if !ok {
		block[KeyFiles] = map[string]any{}
		return
	}
	for fileID, v := range files {
		entry, ok := v.(map[string]any)
		if !ok {
			entry = map[string]any{}
		}
		normalizeEnvelope(entry)
		collapseInlineChunks(entry)
		normalizeChunks(entry)
		files[fileID] = entry
	}
}

// collapseInlineChunks moves chunk_NNNN sibling keys of a file entry into
// its chunks array, ordered by key.
func collapseInlineChunks(entry map[string]any) {
	var inline []string
	for k := range entry {
		if strings.HasPrefix(k, "chunk_") {
			inline = append(inline, k)
		}
	}
	if len(inline) == 0 {
		return
	}
	sort.Strings(inline)
	chunks, _ := entry[KeyChunks].([]any)
	for _, k := range inline {
		chunk, ok := entry[k].(map[string]any)
		if !ok {
			chunk = map[string]any{}
		}
		if _, ok := chunk[KeyChunkID].(string); !ok {
			chunk[KeyChunkID] = k
		}
		chunks = append(chunks, chunk)
		delete(entry, k)
	}
	entry[KeyChunks] = chunks
}

// normalizeChunks ensures every chunk entry carries chunk_id, status and
// errors. Chunk entries additionally carry phase-specific fields (audio
// path, engine, validation tier, RT factor) which pass through untouched.
func normalizeChunks(entry map[string]any) {
	chunks, ok := entry[KeyChunks].([]any)
	if !ok {
		return
	}
	for i, v := range chunks {
		chunk, ok := v.(map[string]any)
		if !ok {
			chunk = map[string]any{}
		}
		if _, ok := chunk[KeyChunkID].(string); !ok {
			chunk[KeyChunkID] = fmt.Sprintf("chunk_%04d", i+1)
		}
		raw, _ := chunk[FieldStatus].(string)
		chunk[FieldStatus] = string(NormalizeStatus(raw))
		if _, ok := chunk[FieldErrors].([]any); !ok {
			chunk[FieldErrors] = []any{}
		}
		chunks[i] = chunk
	}
	entry[KeyChunks] = chunks
}

// normalizeBatchRuns coerces batch_runs into an array of complete records.
func normalizeBatchRuns(doc map[string]any) {
	raw, ok := doc[KeyBatchRuns].([]any)
	if !ok {
		doc[KeyBatchRuns] = []any{}
		return
	}
	for i, v := range raw {
		run, ok := v.(map[string]any)
		if !ok {
			run = map[string]any{}
		}
		if _, ok := run[KeyRunID].(string); !ok {
			// Legacy batch payloads predate run ids; synthesize a stable one.
			run[KeyRunID] = fmt.Sprintf("legacy-batch-%04d", i+1)
		}
		normalizeEnvelope(run)
		files, ok := run[KeyFiles].(map[string]any)
		if !ok {
			files = map[string]any{}
		}
		for fileID, fv := range files {
			env, ok := fv.(map[string]any)
			if !ok {
				env = map[string]any{}
			}
			normalizeEnvelope(env)
			files[fileID] = env
		}
		run[KeyFiles] = files
		raw[i] = run
	}
	doc[KeyBatchRuns] = raw
}

// normalizeVoiceOverrides drops non-string routings.
func normalizeVoiceOverrides(doc map[string]any) {
	raw, ok := doc[KeyVoiceOverrides].(map[string]any)
	if !ok {
		doc[KeyVoiceOverrides] = map[string]any{}
		return
	}
	for k, v := range raw {
		if _, ok := v.(string); !ok {
			delete(raw, k)
		}
	}
}

// recomputePhasesMap rebuilds the derived {phase_key -> status} map from
// the phase blocks actually present.
func recomputePhasesMap(doc map[string]any) {
	derived := map[string]any{}
	for _, key := range PhaseOrder {
		if block, ok := doc[string(key)].(map[string]any); ok {
			status, _ := block[FieldStatus].(string)
			derived[string(key)] = status
		}
	}
	doc[KeyPhases] = derived
}

// deepCopyMap copies a JSON-shaped map so normalization never mutates the
// caller's document.
func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
