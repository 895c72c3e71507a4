package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes one structural violation at a specific path
// inside the document.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Msg)
}

// ValidationErrors aggregates every violation found in one pass so callers
// see all problems at once rather than fixing them one read at a time.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// AsValidationErrors unwraps err into the violation list when err came from
// Validate or StrictValidate.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Validate checks the structural invariants of a document: root shape, the
// five envelope fields on every phase block and file entry, and the
// required fields of every batch-run record. requiredPhases, when
// non-empty, additionally demands those phase blocks are present.
// Canonicalize always produces a document that passes Validate.
func Validate(s State, requiredPhases ...PhaseKey) error {
	var errs ValidationErrors

	if s == nil {
		errs = append(errs, &ValidationError{Path: "$", Msg: "root must be a JSON object, got null"})
		return errs
	}

	if v, ok := s[KeyPipelineVersion]; !ok {
		errs = append(errs, &ValidationError{Path: KeyPipelineVersion, Msg: "missing"})
	} else if _, ok := v.(string); !ok {
		errs = append(errs, &ValidationError{Path: KeyPipelineVersion, Msg: fmt.Sprintf("must be a string, got %T", v)})
	}

	for _, required := range requiredPhases {
		if _, ok := s[string(required)]; !ok {
			errs = append(errs, &ValidationError{Path: string(required), Msg: "required phase block missing"})
		}
	}

	for _, key := range PhaseOrder {
		raw, present := s[string(key)]
		if !present {
			continue
		}
		block, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, &ValidationError{Path: string(key), Msg: fmt.Sprintf("phase block must be an object, got %T", raw)})
			continue
		}
		errs = append(errs, validateEnvelope(string(key), block)...)
		if files, ok := block[KeyFiles]; ok {
			filesMap, ok := files.(map[string]any)
			if !ok {
				errs = append(errs, &ValidationError{Path: string(key) + ".files", Msg: fmt.Sprintf("must be an object, got %T", files)})
			} else {
				for fileID, fv := range filesMap {
					path := fmt.Sprintf("%s.files.%s", key, fileID)
					entry, ok := fv.(map[string]any)
					if !ok {
						errs = append(errs, &ValidationError{Path: path, Msg: fmt.Sprintf("file entry must be an object, got %T", fv)})
						continue
					}
					errs = append(errs, validateEnvelope(path, entry)...)
					errs = append(errs, validateChunks(path, entry)...)
				}
			}
		}
	}

	if raw, ok := s[KeyPhases]; ok {
		if _, ok := raw.(map[string]any); !ok {
			errs = append(errs, &ValidationError{Path: KeyPhases, Msg: fmt.Sprintf("derived phases map must be an object, got %T", raw)})
		}
	}

	errs = append(errs, validateBatchRuns(s)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateEnvelope enforces the type shape of the five envelope fields.
func validateEnvelope(path string, block map[string]any) ValidationErrors {
	var errs ValidationErrors

	for _, field := range EnvelopeFields {
		if _, ok := block[field]; !ok {
			errs = append(errs, &ValidationError{Path: path + "." + field, Msg: "missing envelope field"})
		}
	}

	if v, ok := block[FieldStatus]; ok {
		if _, ok := v.(string); !ok {
			errs = append(errs, &ValidationError{Path: path + ".status", Msg: fmt.Sprintf("must be a string, got %T", v)})
		}
	}
	if v, ok := block[FieldTimestamps]; ok {
		if _, ok := v.(map[string]any); !ok {
			errs = append(errs, &ValidationError{Path: path + ".timestamps", Msg: fmt.Sprintf("must be an object, got %T", v)})
		}
	}
	if v, ok := block[FieldArtifacts]; ok {
		switch v.(type) {
		case map[string]any, []any:
		default:
			errs = append(errs, &ValidationError{Path: path + ".artifacts", Msg: fmt.Sprintf("must be an object or array, got %T", v)})
		}
	}
	if v, ok := block[FieldMetrics]; ok {
		if _, ok := v.(map[string]any); !ok {
			errs = append(errs, &ValidationError{Path: path + ".metrics", Msg: fmt.Sprintf("must be an object, got %T", v)})
		}
	}
	if v, ok := block[FieldErrors]; ok {
		if _, ok := v.([]any); !ok {
			errs = append(errs, &ValidationError{Path: path + ".errors", Msg: fmt.Sprintf("must be an array, got %T", v)})
		}
	}

	return errs
}

// validateChunks checks the chunks array of a file entry when present.
func validateChunks(path string, entry map[string]any) ValidationErrors {
	var errs ValidationErrors
	raw, ok := entry[KeyChunks]
	if !ok {
		return nil
	}
	chunks, ok := raw.([]any)
	if !ok {
		return ValidationErrors{{Path: path + ".chunks", Msg: fmt.Sprintf("must be an array, got %T", raw)}}
	}
	for i, v := range chunks {
		cpath := fmt.Sprintf("%s.chunks[%d]", path, i)
		chunk, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, &ValidationError{Path: cpath, Msg: fmt.Sprintf("chunk entry must be an object, got %T", v)})
			continue
		}
		if _, ok := chunk[KeyChunkID].(string); !ok {
			errs = append(errs, &ValidationError{Path: cpath + ".chunk_id", Msg: "missing or not a string"})
		}
		if _, ok := chunk[FieldStatus].(string); !ok {
			errs = append(errs, &ValidationError{Path: cpath + ".status", Msg: "missing or not a string"})
		}
	}
	return errs
}

// validateBatchRuns checks the required fields of every batch-run record.
func validateBatchRuns(s State) ValidationErrors {
	var errs ValidationErrors
	raw, ok := s[KeyBatchRuns]
	if !ok {
		return nil
	}
	runs, ok := raw.([]any)
	if !ok {
		return ValidationErrors{{Path: KeyBatchRuns, Msg: fmt.Sprintf("must be an array, got %T", raw)}}
	}
	for i, v := range runs {
		path := fmt.Sprintf("batch_runs[%d]", i)
		run, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, &ValidationError{Path: path, Msg: fmt.Sprintf("batch run must be an object, got %T", v)})
			continue
		}
		if id, ok := run[KeyRunID].(string); !ok || id == "" {
			errs = append(errs, &ValidationError{Path: path + ".run_id", Msg: "missing or empty"})
		}
		errs = append(errs, validateEnvelope(path, run)...)
		if files, ok := run[KeyFiles]; ok {
			filesMap, ok := files.(map[string]any)
			if !ok {
				errs = append(errs, &ValidationError{Path: path + ".files", Msg: fmt.Sprintf("must be an object, got %T", files)})
				continue
			}
			for fileID, fv := range filesMap {
				fpath := fmt.Sprintf("%s.files.%s", path, fileID)
				env, ok := fv.(map[string]any)
				if !ok {
					errs = append(errs, &ValidationError{Path: fpath, Msg: fmt.Sprintf("file envelope must be an object, got %T", fv)})
					continue
				}
				errs = append(errs, validateEnvelope(fpath, env)...)
			}
		}
	}
	return errs
}
