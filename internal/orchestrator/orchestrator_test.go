//go:build !windows

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"audioforge/internal/config"
	"audioforge/internal/policy"
	"audioforge/internal/schema"
	"audioforge/internal/state"
)

// fakeToolchain puts a stub `uv` on PATH so phase recipes resolve. The
// stub exits with the code in UV_EXIT (default 0).
func fakeToolchain(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := "#!/bin/sh\nexit ${UV_EXIT:-0}\n"
	if err := os.WriteFile(filepath.Join(bin, "uv"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ProjectRoot = root
	cfg.Runner.MonorepoRoot = root

	// Phase recipes run from their phase directories.
	for _, dir := range []string{
		"phase1_extraction", "phase2_cleaning", "phase3_chunking",
		"phase4_tts", "phase5_enhancement", "phase5_5_subtitles",
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func writeBook(t *testing.T, cfg *config.Config, content string) string {
	t.Helper()
	path := filepath.Join(cfg.ProjectRoot, "book.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunHappyPath(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "call me ishmael")

	orch := New(cfg)
	defer orch.Close()

	var progressed []string
	orch.Progress = func(phase schema.PhaseKey, pct int, msg string) {
		progressed = append(progressed, fmt.Sprintf("%s:%d", phase, pct))
	}

	summary, err := orch.Run(context.Background(), RunRequest{InputPath: input, Resume: true})
	if err != nil {
		t.Fatalf("Run: %v (errors: %v)", err, summary.Errors)
	}
	if !summary.Success {
		t.Fatalf("summary not successful: %+v", summary)
	}
	if summary.FileID != "book" {
		t.Errorf("file_id = %q, want book", summary.FileID)
	}
	if len(progressed) == 0 {
		t.Error("progress hook never called")
	}

	doc, err := orch.Store().Read(true)
	if err != nil {
		t.Fatal(err)
	}
	for _, phase := range DefaultPhases {
		if got := doc.FileStatus(phase, "book"); got != schema.StatusSuccess {
			t.Errorf("%s status = %s, want success", phase, got)
		}
	}
	if got, _ := doc[schema.KeyFileID].(string); got != "book" {
		t.Errorf("root file_id = %q, want book", got)
	}
	if runs := doc.BatchRuns(); len(runs) != 0 {
		t.Errorf("single run should leave batch_runs empty, got %d", len(runs))
	}
}

func TestRunResumeSkipsCompletedPhases(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "same content")

	first := New(cfg)
	if _, err := first.Run(context.Background(), RunRequest{InputPath: input, Resume: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first.Close()

	second := New(cfg)
	defer second.Close()
	summary, err := second.Run(context.Background(), RunRequest{InputPath: input, Resume: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, phase := range DefaultPhases {
		if !summary.Phases[phase].Skipped {
			t.Errorf("%s re-executed on resume", phase)
		}
	}
}

func TestRunHashChangeForcesRerun(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "first edition")

	first := New(cfg)
	if _, err := first.Run(context.Background(), RunRequest{
		InputPath: input, Resume: true,
		Phases: []schema.PhaseKey{schema.Phase1, schema.Phase2},
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first.Close()

	// New content invalidates the recorded hashes.
	writeBook(t, cfg, "second edition")

	second := New(cfg)
	defer second.Close()
	summary, err := second.Run(context.Background(), RunRequest{
		InputPath: input, Resume: true,
		Phases: []schema.PhaseKey{schema.Phase1, schema.Phase2},
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Phases[schema.Phase1].Skipped {
		t.Error("phase1 skipped despite changed input hash")
	}
	if summary.Phases[schema.Phase2].Skipped {
		t.Error("phase2 skipped despite changed input hash")
	}
}

func TestRunAbortsOnPhaseFailure(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	cfg.Orchestrator.MaxRetries = 1
	cfg.Runner.DisableFallback = true
	input := writeBook(t, cfg, "doomed")

	t.Setenv("UV_EXIT", "3")

	orch := New(cfg)
	defer orch.Close()
	summary, err := orch.Run(context.Background(), RunRequest{InputPath: input, Resume: true})
	if err == nil {
		t.Fatal("expected run failure")
	}
	if summary.Success {
		t.Error("summary marked successful after failure")
	}
	if len(summary.Errors) == 0 {
		t.Error("summary carries no errors")
	}

	doc, rerr := orch.Store().Read(true)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if got := doc.FileStatus(schema.Phase1, "book"); got != schema.StatusFailed {
		t.Errorf("phase1 status = %s, want failed", got)
	}
}

func TestRunCancellationBetweenPhases(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "interrupted")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(cfg)
	defer orch.Close()
	summary, err := orch.Run(ctx, RunRequest{InputPath: input, Resume: true})
	if !errors.Is(err, state.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if !summary.Cancelled {
		t.Error("summary not marked cancelled")
	}
	if summary.Success {
		t.Error("cancelled run marked successful")
	}
}

func TestRunBatchRecordsBatchRun(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	cfg.Orchestrator.MaxWorkers = 2

	var inputs []string
	for _, name := range []string{"alpha.txt", "beta.txt", "gamma.txt"} {
		path := filepath.Join(cfg.ProjectRoot, name)
		if err := os.WriteFile(path, []byte("content of "+name), 0644); err != nil {
			t.Fatal(err)
		}
		inputs = append(inputs, path)
	}

	orch := New(cfg)
	defer orch.Close()
	batch, err := orch.RunBatch(context.Background(), inputs, RunRequest{Resume: true})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if batch.Successful != 3 || batch.Failed != 0 {
		t.Fatalf("batch counts = %d ok / %d failed, want 3/0", batch.Successful, batch.Failed)
	}

	doc, err := orch.Store().Read(true)
	if err != nil {
		t.Fatal(err)
	}
	runs := doc.BatchRuns()
	if len(runs) != 1 {
		t.Fatalf("batch_runs has %d entries, want 1", len(runs))
	}
	record, ok := runs[0].(map[string]any)
	if !ok {
		t.Fatalf("batch run record is %T, want map", runs[0])
	}
	if got, _ := record[schema.FieldStatus].(string); got != string(schema.StatusSuccess) {
		t.Errorf("batch record status = %q, want success", got)
	}
	metrics, _ := record[schema.FieldMetrics].(map[string]any)
	if got, _ := metrics["successful"].(float64); got != 3 {
		t.Errorf("batch metrics successful = %v, want 3", metrics["successful"])
	}
	if got, _ := metrics["failed"].(float64); got != 0 {
		t.Errorf("batch metrics failed = %v, want 0", metrics["failed"])
	}
	ts, _ := record[schema.FieldTimestamps].(map[string]any)
	if ts["start"] == nil || ts["end"] == nil {
		t.Errorf("batch record timestamps incomplete: %v", ts)
	}
	files, _ := record[schema.KeyFiles].(map[string]any)
	if len(files) != 3 {
		t.Errorf("batch record covers %d files, want 3", len(files))
	}
	for _, fileID := range []string{"alpha", "beta", "gamma"} {
		if got := doc.FileStatus(schema.Phase1, fileID); got != schema.StatusSuccess {
			t.Errorf("%s phase1 status = %s", fileID, got)
		}
	}
}

func TestRunBatchPartialSuccessStatus(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)

	good := filepath.Join(cfg.ProjectRoot, "good.txt")
	if err := os.WriteFile(good, []byte("readable"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(cfg.ProjectRoot, "missing.txt")

	orch := New(cfg)
	defer orch.Close()
	batch, err := orch.RunBatch(context.Background(), []string{good, missing}, RunRequest{Resume: true})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if batch.Successful != 1 || batch.Failed != 1 {
		t.Fatalf("batch counts = %d ok / %d failed, want 1/1", batch.Successful, batch.Failed)
	}

	doc, err := orch.Store().Read(true)
	if err != nil {
		t.Fatal(err)
	}
	runs := doc.BatchRuns()
	if len(runs) != 1 {
		t.Fatalf("batch_runs has %d entries, want 1", len(runs))
	}
	record, _ := runs[0].(map[string]any)
	if got, _ := record[schema.FieldStatus].(string); got != string(schema.StatusPartialSuccess) {
		t.Errorf("batch record status = %q, want partial_success", got)
	}
}

func TestRunPersistsVoiceOverride(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "voiced")
	phases := []schema.PhaseKey{schema.Phase1}

	orch := New(cfg)
	defer orch.Close()
	if _, err := orch.Run(context.Background(), RunRequest{
		InputPath: input, Resume: true, Phases: phases, Voice: "narrator_alt",
	}); err != nil {
		t.Fatalf("Run with voice: %v", err)
	}

	doc, err := orch.Store().Read(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.VoiceFor("book", cfg.Orchestrator.DefaultVoice); got != "narrator_alt" {
		t.Errorf("voice override = %q, want narrator_alt", got)
	}

	// An accepted voice_variant override routes the next run once the
	// success streak clears its gate.
	ov := orch.Overrides()
	if err := ov.Set("phase4", policy.KnobVoiceVariant, "narrator_b", "test"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := ov.IngestRunOutcome(policy.RewardSummary{Average: 1, Count: 1}, false); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := orch.Run(context.Background(), RunRequest{
		InputPath: input, Resume: true, Phases: phases,
	}); err != nil {
		t.Fatalf("Run with override voice: %v", err)
	}
	doc, err = orch.Store().Read(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.VoiceFor("book", cfg.Orchestrator.DefaultVoice); got != "narrator_b" {
		t.Errorf("voice after override = %q, want narrator_b", got)
	}
}

func TestResolveRetries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.MaxRetries = 2
	o := &Orchestrator{cfg: cfg}

	if got := o.resolveRetries(RunRequest{MaxRetries: 5}, policy.RunOverrides{SuggestedRetries: 3}); got != 5 {
		t.Errorf("explicit request: retries = %d, want 5", got)
	}
	if got := o.resolveRetries(RunRequest{}, policy.RunOverrides{SuggestedRetries: 3}); got != 3 {
		t.Errorf("accepted override: retries = %d, want 3", got)
	}
	if got := o.resolveRetries(RunRequest{}, policy.RunOverrides{}); got != 2 {
		t.Errorf("config default: retries = %d, want 2", got)
	}
}

func TestPhaseExtraArgs(t *testing.T) {
	run := policy.RunOverrides{ChunkDeltaPercent: -7.5}

	args := phaseExtraArgs(schema.Phase3, run)
	if len(args) != 1 || args[0] != "--chunk_delta_percent=-7.5" {
		t.Errorf("phase3 args = %v", args)
	}
	if args := phaseExtraArgs(schema.Phase4, run); len(args) != 0 {
		t.Errorf("phase4 gets chunk args: %v", args)
	}
	if args := phaseExtraArgs(schema.Phase3, policy.RunOverrides{}); len(args) != 0 {
		t.Errorf("neutral override renders args: %v", args)
	}
}

// TestRunResumeChecksRecordedArtifact pins the reuse contract: a phase
// with a recorded artifact path is only skipped while that artifact is
// still on disk.
func TestRunResumeChecksRecordedArtifact(t *testing.T) {
	fakeToolchain(t)
	cfg := testConfig(t)
	input := writeBook(t, cfg, "artifact tracked")
	phases := []schema.PhaseKey{schema.Phase1}

	orch := New(cfg)
	defer orch.Close()
	if _, err := orch.Run(context.Background(), RunRequest{InputPath: input, Resume: true, Phases: phases}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	setArtifact := func(path string) {
		t.Helper()
		err := orch.Store().WithTransaction("record artifact", func(doc schema.State) error {
			entry := doc.EnsureFileEntry(schema.Phase1, "book")
			entry[schema.FieldArtifacts] = map[string]any{"path": path}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	setArtifact(filepath.Join(cfg.ProjectRoot, "gone.wav"))
	summary, err := orch.Run(context.Background(), RunRequest{InputPath: input, Resume: true, Phases: phases})
	if err != nil {
		t.Fatalf("run with missing artifact: %v", err)
	}
	if summary.Phases[schema.Phase1].Skipped {
		t.Error("phase1 reused despite missing artifact")
	}

	present := filepath.Join(cfg.ProjectRoot, "extracted.wav")
	if err := os.WriteFile(present, []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}
	setArtifact(present)
	summary, err = orch.Run(context.Background(), RunRequest{InputPath: input, Resume: true, Phases: phases})
	if err != nil {
		t.Fatalf("run with present artifact: %v", err)
	}
	if !summary.Phases[schema.Phase1].Skipped {
		t.Error("phase1 re-executed despite intact artifact and hash")
	}
}
