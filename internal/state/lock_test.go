//go:build !windows

package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLockAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json.lock")

	l := NewFileLock(path)
	if err := l.TryAcquire(time.Second); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Reacquirable after release.
	if err := l.TryAcquire(time.Second); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = l.Release()
}

func TestLockTimeoutZeroFailsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json.lock")

	holder := NewFileLock(path)
	if err := holder.TryAcquire(time.Second); err != nil {
		t.Fatalf("holder TryAcquire: %v", err)
	}
	defer holder.Release()

	contender := NewFileLock(path)
	start := time.Now()
	err := contender.TryAcquire(0)
	elapsed := time.Since(start)

	if err == nil {
		contender.Release()
		t.Fatal("expected lock timeout against held lock")
	}
	if !IsLockTimeout(err) {
		t.Errorf("error %v is not a LockTimeoutError", err)
	}
	// One attempt, no polling.
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout-0 acquisition took %s, expected immediate return", elapsed)
	}
}

func TestLockTimeoutErrorCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json.lock")

	holder := NewFileLock(path)
	if err := holder.TryAcquire(time.Second); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	err := NewFileLock(path).TryAcquire(100 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	var lt *LockTimeoutError
	if !errors.As(err, &lt) {
		t.Fatalf("error %v is not *LockTimeoutError", err)
	}
	if lt.Path != path {
		t.Errorf("Path = %q, want %q", lt.Path, path)
	}
}
