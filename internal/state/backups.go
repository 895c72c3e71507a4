package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"audioforge/internal/logging"
	"audioforge/internal/schema"
)

// BackupInfo describes one backup file on disk.
type BackupInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// backupCurrent copies the live state file into the backup directory with a
// timestamped name. A missing state file is not an error (first write).
func (s *Store) backupCurrent() error {
	src, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(s.backupDir(), 0755); err != nil {
		return err
	}

	now := time.Now()
	stem := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	name := fmt.Sprintf("%s_%s_%06d.json.bak",
		stem, now.Format("20060102_150405"), now.Nanosecond()/1000)
	dstPath := filepath.Join(s.backupDir(), name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dstPath)
		return err
	}
	logging.StateDebug("backed up state to %s", dstPath)
	return nil
}

// rotateBackups deletes backups beyond the retention count, oldest first by
// mtime. Rotation failures are logged and swallowed.
func (s *Store) rotateBackups() {
	backups, err := s.ListBackups(0)
	if err != nil {
		logging.StateWarn("backup rotation: %v", err)
		return
	}
	if len(backups) <= s.opts.BackupRetain {
		return
	}
	// ListBackups returns newest first; everything past the retention
	// window goes.
	for _, b := range backups[s.opts.BackupRetain:] {
		if err := os.Remove(b.Path); err != nil {
			logging.StateWarn("backup rotation: remove %s: %v", b.Path, err)
		}
	}
}

// ListBackups returns backups for this state file, newest first by mtime.
// limit <= 0 means all.
func (s *Store) ListBackups(limit int) ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ReadError{Path: s.backupDir(), Err: err}
	}

	stem := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, stem+"_") || !strings.HasSuffix(name, ".json.bak") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:    filepath.Join(s.backupDir(), name),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].ModTime.Equal(backups[j].ModTime) {
			// Timestamped names break mtime ties on coarse filesystems.
			return backups[i].Path > backups[j].Path
		}
		return backups[i].ModTime.After(backups[j].ModTime)
	})

	if limit > 0 && len(backups) > limit {
		backups = backups[:limit]
	}
	return backups, nil
}

// RestoreBackup atomically replaces the live state file with the contents
// of the given backup. The backup must parse as a JSON object; a truncated
// backup fails with a readable error and leaves the live file untouched.
func (s *Store) RestoreBackup(backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &ReadError{Path: backupPath, Err: err}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ReadError{Path: backupPath, Err: fmt.Errorf("backup is not a valid state document: %w", err)}
	}

	doc := schema.Canonicalize(raw)
	logging.State("restoring state from backup %s", backupPath)
	return s.writeLocked(doc, true, "restore_backup")
}

// RestoreLatestBackup restores the most recent backup, the standard
// recovery path after a corrupt read.
func (s *Store) RestoreLatestBackup() error {
	backups, err := s.ListBackups(1)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return &ReadError{Path: s.backupDir(), Err: fmt.Errorf("no backups available")}
	}
	return s.RestoreBackup(backups[0].Path)
}
