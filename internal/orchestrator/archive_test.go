package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audioforge/internal/schema"
)

func TestTitleFor(t *testing.T) {
	cases := map[string]string{
		"book":               "Book",
		"war_and_peace":      "War_And_Peace",
		"the-long-road":      "The_Long_Road",
		"already Titled one": "Already_Titled_One",
		"éloge_de_l'ombre":   "Éloge_De_L'ombre",
		"żółta-księga":       "Żółta_Księga",
		"":                   "Untitled",
	}
	for in, want := range cases {
		if got := TitleFor(in); got != want {
			t.Errorf("TitleFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileIDFor(t *testing.T) {
	cases := map[string]string{
		"/data/books/moby_dick.txt": "moby_dick",
		"book.epub":                 "book",
		"archive.tar.gz":            "archive.tar",
		"noext":                     "noext",
	}
	for in, want := range cases {
		if got := FileIDFor(in); got != want {
			t.Errorf("FileIDFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArchiveCreatesTimestampedAndCanonicalCopies(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "book.mp3")
	if err := os.WriteFile(src, []byte("mp3-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	archiveRoot := filepath.Join(root, "audiobooks")
	archived, err := Archive(archiveRoot, "book", src)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if !strings.HasPrefix(archived, filepath.Join(archiveRoot, "Book")) {
		t.Errorf("archive path %q not under title folder", archived)
	}
	data, err := os.ReadFile(archived)
	if err != nil || string(data) != "mp3-bytes" {
		t.Errorf("timestamped copy wrong: %v %q", err, data)
	}

	canonical := filepath.Join(archiveRoot, "Book", "audiobook.mp3")
	data, err = os.ReadFile(canonical)
	if err != nil || string(data) != "mp3-bytes" {
		t.Errorf("canonical copy wrong: %v %q", err, data)
	}

	// No stray temp files.
	entries, err := os.ReadDir(filepath.Join(archiveRoot, "Book"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".archive-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArchiveMissingSource(t *testing.T) {
	if _, err := Archive(t.TempDir(), "book", filepath.Join(t.TempDir(), "gone.mp3")); err == nil {
		t.Fatal("expected error archiving a missing source")
	}
}

func TestAllSkipped(t *testing.T) {
	s := &RunSummary{Phases: map[schema.PhaseKey]PhaseMetric{}}
	if allSkipped(s) {
		t.Error("empty phase map should not count as all-skipped")
	}

	s.Phases[schema.Phase1] = PhaseMetric{Status: schema.StatusSuccess, Skipped: true}
	s.Phases[schema.Phase2] = PhaseMetric{Status: schema.StatusSuccess, Skipped: true}
	if !allSkipped(s) {
		t.Error("all-skipped run not detected")
	}

	s.Phases[schema.Phase3] = PhaseMetric{Status: schema.StatusSuccess}
	if allSkipped(s) {
		t.Error("executed phase should clear all-skipped")
	}
}
