// Package runner invokes the heterogeneous phase executables as
// subprocesses: resolving each phase's working directory and recipe,
// skipping work via content hashes, enforcing timeouts with process-group
// kills, categorizing failures from stderr, and retrying transient ones.
package runner

import (
	"fmt"
	"path/filepath"
	"time"

	"audioforge/internal/schema"
)

// Recipe is the static invocation shape of one phase executable.
type Recipe struct {
	// Dir is the phase directory relative to the monorepo root.
	Dir string

	// InstallArgs prepares the phase's isolated toolchain. Empty means no
	// install step.
	InstallArgs []string

	// RunArgs launches the phase. The runner appends --file, --file_id,
	// and --json_path plus phase-specific options.
	RunArgs []string

	// HashReusable phases skip execution when the recorded source_hash
	// still matches the input.
	HashReusable bool

	// InstallTimeout and RunTimeout are the per-step budgets.
	InstallTimeout time.Duration
	RunTimeout     time.Duration
}

var phaseRecipes = map[schema.PhaseKey]Recipe{
	schema.Phase1: {
		Dir:            "phase1_extraction",
		InstallArgs:    []string{"uv", "sync", "--frozen"},
		RunArgs:        []string{"uv", "run", "extract.py"},
		HashReusable:   true,
		InstallTimeout: 300 * time.Second,
		RunTimeout:     18000 * time.Second,
	},
	schema.Phase2: {
		Dir:            "phase2_cleaning",
		InstallArgs:    []string{"uv", "sync", "--frozen"},
		RunArgs:        []string{"uv", "run", "clean.py"},
		HashReusable:   true,
		InstallTimeout: 300 * time.Second,
		RunTimeout:     18000 * time.Second,
	},
	schema.Phase3: {
		Dir:            "phase3_chunking",
		InstallArgs:    []string{"uv", "sync", "--frozen"},
		RunArgs:        []string{"uv", "run", "chunk.py"},
		HashReusable:   true,
		InstallTimeout: 300 * time.Second,
		RunTimeout:     18000 * time.Second,
	},
	schema.Phase4: {
		Dir:        "phase4_tts",
		RunArgs:    []string{"uv", "run", "synthesize.py"},
		RunTimeout: 1200 * time.Second, // per chunk
	},
	schema.Phase5: {
		Dir:        "phase5_enhancement",
		RunArgs:    []string{"uv", "run", "enhance.py"},
		RunTimeout: 1800 * time.Second,
	},
	schema.Phase5_5: {
		Dir:        "phase5_5_subtitles",
		RunArgs:    []string{"uv", "run", "subtitles.py"},
		RunTimeout: 3600 * time.Second,
	},
}

// RecipeFor returns the invocation recipe for a phase key.
func RecipeFor(phase schema.PhaseKey) (Recipe, error) {
	r, ok := phaseRecipes[phase]
	if !ok {
		return Recipe{}, fmt.Errorf("runner: no recipe for phase %q", phase)
	}
	return r, nil
}

// WorkDir resolves a recipe's absolute working directory.
func (r Recipe) WorkDir(monorepoRoot string) string {
	return filepath.Join(monorepoRoot, r.Dir)
}
