package runner

import (
	"os"
	"path/filepath"
	"testing"

	"audioforge/internal/schema"
)

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashFile(t *testing.T) {
	path := writeInput(t, "hello\n")
	// sha256 of "hello\n"
	const want = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error hashing missing file")
	}
}

func TestCanReuseHashMatch(t *testing.T) {
	doc := schema.NewState()
	doc.SetFileResult(schema.Phase1, "book", schema.StatusSuccess, "hashA", "")

	if !CanReuse(doc, schema.Phase1, "book", "hashA", "") {
		t.Error("matching hash with success status should reuse")
	}
	if CanReuse(doc, schema.Phase1, "book", "hashB", "") {
		t.Error("changed hash must force a rerun")
	}
}

func TestCanReuseRequiresSuccess(t *testing.T) {
	doc := schema.NewState()
	doc.SetFileResult(schema.Phase1, "book", schema.StatusFailed, "hashA", "boom")

	if CanReuse(doc, schema.Phase1, "book", "hashA", "") {
		t.Error("failed phase must not be reused")
	}
}

func TestCanReusePhase2InheritsPhase1Hash(t *testing.T) {
	doc := schema.NewState()
	doc.SetFileResult(schema.Phase1, "book", schema.StatusSuccess, "hashA", "")
	// Phase 2 succeeded but recorded no hash of its own.
	doc.SetFileResult(schema.Phase2, "book", schema.StatusSuccess, "", "")

	if !CanReuse(doc, schema.Phase2, "book", "hashA", "") {
		t.Error("phase2 should inherit the phase1 hash")
	}
	if CanReuse(doc, schema.Phase2, "book", "hashB", "") {
		t.Error("inherited hash mismatch must force a rerun")
	}
}

func TestCanReuseChecksArtifact(t *testing.T) {
	doc := schema.NewState()
	doc.SetFileResult(schema.Phase1, "book", schema.StatusSuccess, "hashA", "")

	present := writeInput(t, "artifact")
	if !CanReuse(doc, schema.Phase1, "book", "hashA", present) {
		t.Error("existing artifact should allow reuse")
	}
	if CanReuse(doc, schema.Phase1, "book", "hashA", filepath.Join(t.TempDir(), "gone.wav")) {
		t.Error("missing artifact must force a rerun")
	}
}

func TestCanReuseOnlyHashPhases(t *testing.T) {
	doc := schema.NewState()
	doc.SetFileResult(schema.Phase4, "book", schema.StatusSuccess, "hashA", "")

	if CanReuse(doc, schema.Phase4, "book", "hashA", "") {
		t.Error("phase4 is not content-addressable")
	}
}
