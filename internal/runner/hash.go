package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"audioforge/internal/schema"
)

// HashFile returns the lowercase hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// recordedHash returns the source hash a prior run left for fileID in the
// given phase. Phase 2 inherits the phase-1 hash when its own is absent,
// because both phases consume the same extracted source.
func recordedHash(s schema.State, phase schema.PhaseKey, fileID string) string {
	if h := s.FileSourceHash(phase, fileID); h != "" {
		return h
	}
	if phase == schema.Phase2 {
		return s.FileSourceHash(schema.Phase1, fileID)
	}
	return ""
}

// CanReuse reports whether a hash-reusable phase may skip execution: the
// prior file entry is successful, the artifact is still on disk, and the
// recorded hash matches the current input.
func CanReuse(s schema.State, phase schema.PhaseKey, fileID, inputHash, artifactPath string) bool {
	recipe, ok := phaseRecipes[phase]
	if !ok || !recipe.HashReusable {
		return false
	}
	if s.FileStatus(phase, fileID) != schema.StatusSuccess {
		return false
	}
	if artifactPath != "" {
		if _, err := os.Stat(artifactPath); err != nil {
			return false
		}
	}
	recorded := recordedHash(s, phase, fileID)
	return recorded != "" && recorded == inputHash
}
