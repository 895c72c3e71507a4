package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"audioforge/internal/logging"
	"audioforge/internal/policy"
	"audioforge/internal/schema"
)

// EnhancedChunkDir is where phase 5 leaves per-chunk enhanced WAVs for a
// file, relative to the phase-5 working directory.
func (r *Runner) EnhancedChunkDir(fileID string) string {
	recipe := phaseRecipes[schema.Phase5]
	return filepath.Join(recipe.WorkDir(r.root), "enhanced", fileID)
}

// listEnhancedWAVs returns the enhanced chunk WAVs for fileID in chunk
// order.
func (r *Runner) listEnhancedWAVs(fileID string) ([]string, error) {
	dir := r.EnhancedChunkDir(fileID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var wavs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		wavs = append(wavs, filepath.Join(dir, e.Name()))
	}
	sort.Strings(wavs)
	return wavs, nil
}

// RunEnhancement executes phase 5. With concatOnly set, it assembles the
// final MP3 from the enhanced chunk WAVs already on disk and never runs
// the full phase. Otherwise, when enough enhanced WAVs exist, it first
// attempts the same concat fast path and falls back to the full phase on
// any failure there.
func (r *Runner) RunEnhancement(ctx context.Context, inv Invocation, outputPath string, concatOnly bool, maxRetries int, events *policy.Logger) (*Result, error) {
	inv.Phase = schema.Phase5

	threshold := r.cfg.ConcatThreshold
	if threshold <= 0 {
		threshold = 100
	}
	wavs, err := r.listEnhancedWAVs(inv.FileID)
	if err != nil {
		logging.RunnerWarn("list enhanced chunks for %s: %v", inv.FileID, err)
	}

	if concatOnly {
		if len(wavs) == 0 {
			return nil, fmt.Errorf("concat-only: no enhanced chunks for %s in %s", inv.FileID, r.EnhancedChunkDir(inv.FileID))
		}
		logging.Runner("phase5 concat-only: %d enhanced chunks on disk", len(wavs))
		return r.concatOnly(ctx, wavs, outputPath)
	}

	if len(wavs) >= threshold {
		logging.Runner("phase5 concat fast path: %d enhanced chunks on disk", len(wavs))
		if res, err := r.concatOnly(ctx, wavs, outputPath); err == nil && res.Success {
			return res, nil
		} else if err != nil {
			logging.RunnerWarn("concat fast path: %v, running full phase5", err)
		} else {
			logging.RunnerWarn("concat fast path failed (exit %d), running full phase5", res.ExitCode)
		}
	}

	return r.RunWithRetry(ctx, inv, maxRetries, events)
}

// concatOnly builds the final MP3 from existing chunk WAVs via ffmpeg's
// concat demuxer.
func (r *Runner) concatOnly(ctx context.Context, wavs []string, outputPath string) (*Result, error) {
	listFile, err := os.CreateTemp("", "audioforge-concat-*.txt")
	if err != nil {
		return nil, fmt.Errorf("concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	for _, wav := range wavs {
		// ffmpeg concat list escaping: single quotes around the path.
		fmt.Fprintf(listFile, "file '%s'\n", strings.ReplaceAll(wav, "'", `'\''`))
	}
	if err := listFile.Close(); err != nil {
		return nil, fmt.Errorf("concat list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("concat output dir: %w", err)
	}

	args := []string{
		"ffmpeg", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile.Name(),
		"-codec:a", "libmp3lame", "-qscale:a", "2",
		outputPath,
	}
	timeout := time.Duration(r.cfg.EnhanceTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}
	res := r.execute(ctx, filepath.Dir(outputPath), args, timeout)
	if !res.Success {
		res.Failure = Classify(res.StderrTail)
	}
	return res, nil
}
