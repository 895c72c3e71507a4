// Package orchestrator is the top-level control loop: it sequences
// phases, skips already-successful work on resume, records every
// transition in the policy log, commits phase outcomes through the state
// store, and archives the finished audiobook.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audioforge/internal/config"
	"audioforge/internal/logging"
	"audioforge/internal/policy"
	"audioforge/internal/runner"
	"audioforge/internal/schema"
	"audioforge/internal/state"
)

// ProgressFunc receives phase progress callbacks. pct is 0..100.
type ProgressFunc func(phase schema.PhaseKey, pct int, msg string)

// RunRequest describes one pipeline invocation.
type RunRequest struct {
	InputPath string

	// Voice overrides voice selection for this run. Empty consults the
	// state document's per-file overrides, then the configured default.
	Voice string

	// Engine forces a TTS engine. Empty consults the override store.
	Engine string

	// Phases restricts the run. Empty means phases 1 through 5.
	Phases []schema.PhaseKey

	// Resume skips phases whose file entry already reads success.
	Resume bool

	// ConcatOnly forces phase 5 to assemble the final audiobook from
	// enhanced chunk WAVs already on disk, without re-running enhancement.
	ConcatOnly bool

	MaxRetries      int
	EnableSubtitles bool
}

// DefaultPhases is the standard pipeline sequence.
var DefaultPhases = []schema.PhaseKey{
	schema.Phase1, schema.Phase2, schema.Phase3, schema.Phase4, schema.Phase5,
}

// Orchestrator owns the wiring between the store, the runner, and the
// policy layer for the lifetime of a run.
type Orchestrator struct {
	cfg       *config.Config
	store     *state.Store
	runner    *runner.Runner
	events    *policy.Logger
	advisor   *policy.Advisor
	overrides *policy.OverrideStore

	// Progress is an optional callback, invoked before and after each
	// phase.
	Progress ProgressFunc
}

// New wires an orchestrator from configuration.
func New(cfg *config.Config) *Orchestrator {
	advisor := policy.NewAdvisor(cfg.PolicyLogRoot())
	advisor.SetWindow(cfg.Policy.RollingWindow)
	return &Orchestrator{
		cfg:    cfg,
		store:  state.New(cfg.StatePath(), stateOptions(cfg)),
		runner: runner.New(cfg.Runner, cfg.Runner.MonorepoRoot),
		events: policy.NewLogger(cfg.PolicyLogRoot(), policy.LoggerOptions{
			LearningMode:  cfg.Policy.LearningMode,
			PolicyVersion: cfg.Policy.PolicyVersion,
		}),
		advisor:   advisor,
		overrides: policy.NewOverrideStore(cfg.OverridesPath()),
	}
}

func stateOptions(cfg *config.Config) state.Options {
	opts := state.DefaultOptions()
	if cfg.State.LockTimeoutSeconds > 0 {
		opts.LockTimeout = time.Duration(cfg.State.LockTimeoutSeconds) * time.Second
	}
	opts.BackupBeforeWrite = cfg.State.BackupBeforeWrite
	if cfg.State.BackupRetain > 0 {
		opts.BackupRetain = cfg.State.BackupRetain
	}
	return opts
}

// Store exposes the orchestrator's state store for inspection commands.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Advisor exposes the read-only advisor.
func (o *Orchestrator) Advisor() *policy.Advisor { return o.advisor }

// Overrides exposes the tuning-override store.
func (o *Orchestrator) Overrides() *policy.OverrideStore { return o.overrides }

// Close releases the policy log handle.
func (o *Orchestrator) Close() error { return o.events.Close() }

// FileIDFor derives the state file_id from an input path: its stem.
func FileIDFor(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Run executes the requested phases for one input file.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	start := time.Now()
	fileID := FileIDFor(req.InputPath)
	phases := req.Phases
	if len(phases) == 0 {
		phases = DefaultPhases
	}

	summary := &RunSummary{
		FileID: fileID,
		RunID:  o.events.RunID(),
		Phases: map[schema.PhaseKey]PhaseMetric{},
	}

	run := o.overrides.Materialize()
	engine := req.Engine
	if engine == "" {
		engine = run.PreferredEngine
	}
	req.MaxRetries = o.resolveRetries(req, run)

	doc, err := o.store.Read(false)
	if err != nil {
		return o.fail(summary, start, fmt.Sprintf("read state: %v", err))
	}
	voice := req.Voice
	if voice == "" {
		voice = run.VoiceVariant
	}
	voiceChanged := o.applyVoice(fileID, voice, doc)

	inputHash, err := runner.HashFile(req.InputPath)
	if err != nil {
		return o.fail(summary, start, fmt.Sprintf("hash input: %v", err))
	}

	logging.Orchestrator("run %s: file %s, phases %v, engine %q", summary.RunID, fileID, phases, engine)

	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			summary.Errors = append(summary.Errors, "cancelled")
			summary.Duration = time.Since(start)
			summary.DurationMS = float64(summary.Duration.Milliseconds())
			return summary, state.ErrCancelled
		}

		metric, err := o.runPhase(ctx, phase, fileID, inputHash, engine, req, run)
		summary.Phases[phase] = metric
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, state.ErrCancelled) {
				summary.Cancelled = true
				summary.Errors = append(summary.Errors, "cancelled")
			} else {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", phase, err))
			}
			summary.Duration = time.Since(start)
			summary.DurationMS = float64(summary.Duration.Milliseconds())
			return summary, err
		}
		if metric.Status != schema.StatusSuccess {
			msg := fmt.Sprintf("%s failed: %s", phase, metric.Error)
			summary.Errors = append(summary.Errors, msg)
			summary.Duration = time.Since(start)
			summary.DurationMS = float64(summary.Duration.Milliseconds())
			o.finishRun(ctx, summary, voiceChanged)
			return summary, fmt.Errorf("%s", msg)
		}

		if phase == schema.Phase5 {
			o.archiveRun(fileID, summary)
		}
	}

	if req.EnableSubtitles || o.cfg.Orchestrator.EnableSubtitles {
		metric, err := o.runPhase(ctx, schema.Phase5_5, fileID, inputHash, engine, req, run)
		summary.Phases[schema.Phase5_5] = metric
		if err == nil && metric.Status != schema.StatusSuccess {
			// Subtitles are additive; a failure does not fail the run.
			logging.OrchestratorError("subtitles failed: %s", metric.Error)
			summary.Errors = append(summary.Errors, "phase5_5: "+metric.Error)
		}
	}

	summary.Success = true
	summary.Duration = time.Since(start)
	summary.DurationMS = float64(summary.Duration.Milliseconds())
	o.finishRun(ctx, summary, voiceChanged)
	logging.Orchestrator("run %s complete in %s", summary.RunID, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// runPhase executes one phase end to end: resume check, policy events,
// subprocess, and the state commit of the outcome.
func (o *Orchestrator) runPhase(ctx context.Context, phase schema.PhaseKey, fileID, inputHash, engine string, req RunRequest, run policy.RunOverrides) (PhaseMetric, error) {
	o.progress(phase, 0, "starting")

	doc, err := o.store.Read(false)
	if err != nil {
		return PhaseMetric{Status: schema.StatusFailed, Error: err.Error()}, err
	}

	if req.Resume {
		if runner.CanReuse(doc, phase, fileID, inputHash, recordedArtifact(doc, phase, fileID)) {
			logging.Orchestrator("phase %s: reusing prior result for %s", phase, fileID)
			o.progress(phase, 100, "reused")
			return PhaseMetric{Status: schema.StatusSuccess, Skipped: true}, nil
		}
		if !isHashPhase(phase) && doc.FileStatus(phase, fileID) == schema.StatusSuccess {
			logging.Orchestrator("phase %s: already successful for %s", phase, fileID)
			o.progress(phase, 100, "skipped")
			return PhaseMetric{Status: schema.StatusSuccess, Skipped: true}, nil
		}
	}

	o.events.RecordPhaseStart(policy.PhaseEvent{
		Phase: string(phase), FileID: fileID, Status: "running", Engine: engine,
	})

	inv := runner.Invocation{
		Phase:     phase,
		InputPath: req.InputPath,
		FileID:    fileID,
		StatePath: o.cfg.StatePath(),
		Engine:    engine,
		ExtraArgs: phaseExtraArgs(phase, run),
	}

	var res *runner.Result
	switch phase {
	case schema.Phase4:
		res, err = o.runner.RunSynthesis(ctx, inv, req.MaxRetries, o.events)
	case schema.Phase5:
		res, err = o.runner.RunEnhancement(ctx, inv, o.audiobookOutput(fileID), req.ConcatOnly, req.MaxRetries, o.events)
	default:
		res, err = o.runner.RunWithRetry(ctx, inv, req.MaxRetries, o.events)
	}
	if err != nil {
		return PhaseMetric{Status: schema.StatusFailed, Error: err.Error()}, err
	}

	metric := PhaseMetric{
		DurationMS: float64(res.Duration.Milliseconds()),
		Attempts:   res.Attempts,
		Engine:     res.Engine,
		FellBack:   res.FellBack,
	}

	if res.Success {
		metric.Status = schema.StatusSuccess
		o.events.RecordPhaseEnd(policy.PhaseEvent{
			Phase: string(phase), FileID: fileID, Status: string(schema.StatusSuccess),
			DurationMS: metric.DurationMS, Engine: res.Engine,
			Metrics: phaseMetrics(res),
		})
	} else {
		metric.Status = schema.StatusFailed
		metric.Error = fmt.Sprintf("%s (exit %d)", res.Failure, res.ExitCode)
		o.events.RecordFailure(policy.PhaseEvent{
			Phase: string(phase), FileID: fileID, Status: string(schema.StatusFailed),
			DurationMS: metric.DurationMS, Engine: res.Engine,
			Errors: []string{metric.Error},
		})
	}

	if err := o.commitPhase(phase, fileID, inputHash, metric); err != nil {
		return metric, err
	}

	o.progress(phase, 100, string(metric.Status))
	return metric, nil
}

// resolveRetries picks the per-phase retry budget: explicit request, then
// the accepted override, then the configured default.
func (o *Orchestrator) resolveRetries(req RunRequest, run policy.RunOverrides) int {
	if req.MaxRetries > 0 {
		return req.MaxRetries
	}
	if run.SuggestedRetries > 0 {
		return run.SuggestedRetries
	}
	return o.cfg.Orchestrator.MaxRetries
}

// phaseExtraArgs renders accepted tuning overrides as flags for the
// phases that consume them.
func phaseExtraArgs(phase schema.PhaseKey, run policy.RunOverrides) []string {
	var args []string
	if phase == schema.Phase3 && run.ChunkDeltaPercent != 0 {
		args = append(args, fmt.Sprintf("--chunk_delta_percent=%.1f", run.ChunkDeltaPercent))
	}
	return args
}

// recordedArtifact returns the artifact path a prior run of the phase
// recorded in its file entry, or "" when none was recorded.
func recordedArtifact(doc schema.State, phase schema.PhaseKey, fileID string) string {
	entry := doc.FileEntry(phase, fileID)
	if entry == nil {
		return ""
	}
	artifacts, _ := entry[schema.FieldArtifacts].(map[string]any)
	if p, ok := artifacts["path"].(string); ok {
		return p
	}
	return ""
}

// commitPhase records a phase outcome in the state document. The phase
// executable usually writes its own block; this commit makes the outcome
// authoritative even when the subprocess died before reaching the store.
func (o *Orchestrator) commitPhase(phase schema.PhaseKey, fileID, inputHash string, metric PhaseMetric) error {
	hash := ""
	if isHashPhase(phase) {
		hash = inputHash
	}
	return o.store.WithTransaction("commit "+string(phase), func(doc schema.State) error {
		// Root file_id names the input this document tracks; batch mode
		// leaves it at the most recently committed file.
		doc[schema.KeyFileID] = fileID
		doc.SetFileResult(phase, fileID, metric.Status, hash, metric.Error)
		return nil
	})
}

func isHashPhase(phase schema.PhaseKey) bool {
	return phase == schema.Phase1 || phase == schema.Phase2 || phase == schema.Phase3
}

func phaseMetrics(res *runner.Result) map[string]float64 {
	m := map[string]float64{}
	if res.FellBack {
		m[policy.MetricFallbackRate] = 1
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// applyVoice persists an explicit voice override and reports whether the
// routed voice changed, which resets the override store's success streak.
func (o *Orchestrator) applyVoice(fileID, voice string, doc schema.State) bool {
	if voice == "" {
		return false
	}
	previous := doc.VoiceFor(fileID, o.cfg.Orchestrator.DefaultVoice)
	if previous == voice {
		return false
	}
	err := o.store.WithTransaction("set voice override", func(d schema.State) error {
		d.SetVoiceOverride(fileID, voice)
		return nil
	})
	if err != nil {
		logging.OrchestratorError("persist voice override: %v", err)
	}
	return true
}

// audiobookOutput is where phase 5 leaves the final MP3.
func (o *Orchestrator) audiobookOutput(fileID string) string {
	return filepath.Join(o.cfg.ProjectRoot, "output", fileID+".mp3")
}

// archiveRun copies the finished audiobook into the durable archive.
func (o *Orchestrator) archiveRun(fileID string, summary *RunSummary) {
	src := o.audiobookOutput(fileID)
	if _, err := os.Stat(src); err != nil {
		logging.OrchestratorError("audiobook missing at %s, skipping archive", src)
		return
	}
	summary.AudiobookPath = src
	archived, err := Archive(o.cfg.ArchiveRoot(), fileID, src)
	if err != nil {
		logging.OrchestratorError("archive: %v", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("archive: %v", err))
		return
	}
	summary.ArchivePath = archived
}

// finishRun closes the policy loop: recompute the reward summary and let
// the override store ingest it.
func (o *Orchestrator) finishRun(ctx context.Context, summary *RunSummary, voiceChanged bool) {
	bundle, err := o.advisor.Advise(ctx)
	if err != nil {
		logging.OrchestratorError("advisor at run end: %v", err)
		return
	}
	if err := o.overrides.IngestRunOutcome(bundle.Reward, voiceChanged); err != nil {
		logging.OrchestratorError("ingest run outcome: %v", err)
	}
}

func (o *Orchestrator) progress(phase schema.PhaseKey, pct int, msg string) {
	if o.Progress != nil {
		o.Progress(phase, pct, msg)
	}
}

// fail finalizes a summary for a pre-phase error.
func (o *Orchestrator) fail(summary *RunSummary, start time.Time, msg string) (*RunSummary, error) {
	summary.Errors = append(summary.Errors, msg)
	summary.Duration = time.Since(start)
	summary.DurationMS = float64(summary.Duration.Milliseconds())
	return summary, fmt.Errorf("%s", msg)
}
