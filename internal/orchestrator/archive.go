package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"audioforge/internal/logging"
)

// Archive copies the finished audiobook into a title-addressed folder:
// a timestamped copy for history plus a canonical audiobook.mp3 that
// always points at the newest build. Returns the timestamped path.
func Archive(archiveRoot, fileID, sourcePath string) (string, error) {
	title := TitleFor(fileID)
	dir := filepath.Join(archiveRoot, title)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("archive dir: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")
	timestamped := filepath.Join(dir, fmt.Sprintf("%s_%s.mp3", title, stamp))
	if err := copyFile(sourcePath, timestamped); err != nil {
		return "", fmt.Errorf("archive copy: %w", err)
	}

	canonical := filepath.Join(dir, "audiobook.mp3")
	if err := copyFile(sourcePath, canonical); err != nil {
		return "", fmt.Errorf("canonical copy: %w", err)
	}

	logging.Orchestrator("archived %s to %s", fileID, timestamped)
	return timestamped, nil
}

// TitleFor turns a file_id into a human-facing archive folder name:
// words capitalized, separators normalized to underscores.
func TitleFor(fileID string) string {
	words := strings.FieldsFunc(fileID, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(words) == 0 {
		return "Untitled"
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, "_")
}

// copyFile writes dst from src through a temp file so a crashed copy
// never leaves a half-written archive entry.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
