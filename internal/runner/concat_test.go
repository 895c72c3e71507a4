//go:build !windows

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audioforge/internal/config"
)

// fakeFFmpeg puts a stub ffmpeg on PATH that creates its output file,
// the last argument, and exits 0.
func fakeFFmpeg(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := "#!/bin/sh\nfor last in \"$@\"; do :; done\n: > \"$last\"\n"
	if err := os.WriteFile(filepath.Join(bin, "ffmpeg"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writeChunks(t *testing.T, r *Runner, fileID string, n int) {
	t.Helper()
	dir := r.EnhancedChunkDir(fileID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i+1))
		if err := os.WriteFile(name, []byte("RIFF"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestRunEnhancementConcatOnly assembles from two chunks, far below the
// fast-path threshold, proving concat-only never falls through to the
// full phase.
func TestRunEnhancementConcatOnly(t *testing.T) {
	fakeFFmpeg(t)
	root := t.TempDir()
	r := New(config.DefaultRunnerConfig(), root)
	writeChunks(t, r, "book", 2)

	out := filepath.Join(root, "output", "book.mp3")
	res, err := r.RunEnhancement(context.Background(), Invocation{
		InputPath: "book.txt",
		FileID:    "book",
		StatePath: "pipeline.json",
	}, out, true, 1, nil)
	if err != nil {
		t.Fatalf("RunEnhancement: %v", err)
	}
	if !res.Success {
		t.Fatalf("concat failed: exit %d stderr %q", res.ExitCode, res.StderrTail)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not assembled: %v", err)
	}
}

func TestRunEnhancementConcatOnlyWithoutChunks(t *testing.T) {
	root := t.TempDir()
	r := New(config.DefaultRunnerConfig(), root)

	out := filepath.Join(root, "output", "book.mp3")
	_, err := r.RunEnhancement(context.Background(), Invocation{
		InputPath: "book.txt",
		FileID:    "book",
		StatePath: "pipeline.json",
	}, out, true, 1, nil)
	if err == nil {
		t.Fatal("expected error with no enhanced chunks on disk")
	}
	if !strings.Contains(err.Error(), "no enhanced chunks") {
		t.Errorf("error = %v, want chunk-directory explanation", err)
	}
}
