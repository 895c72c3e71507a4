package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"audioforge/internal/schema"
)

func TestTransactionCommit(t *testing.T) {
	s := testStore(t)

	err := s.WithTransaction("record phase1", func(doc schema.State) error {
		doc.SetFileResult(schema.Phase1, "book", schema.StatusSuccess, "h1", "")
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	doc, err := s.Read(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.FileStatus(schema.Phase1, "book"); got != schema.StatusSuccess {
		t.Errorf("status = %s, want success", got)
	}
}

func TestTransactionRollback(t *testing.T) {
	s := testStore(t)

	seed := schema.NewState()
	seed.SetFileResult(schema.Phase1, "book", schema.StatusSuccess, "h1", "")
	if err := s.Write(seed, true); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.WithTransaction("doomed", func(doc schema.State) error {
		doc.SetFileResult(schema.Phase1, "book", schema.StatusFailed, "", "broken")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped boom", err)
	}

	doc, err := s.Read(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.FileStatus(schema.Phase1, "book"); got != schema.StatusSuccess {
		t.Errorf("rolled-back transaction leaked: status = %s", got)
	}
}

// TestConcurrentTransactions is the serializability check: five
// goroutines each add one entry; every commit must observe all prior
// commits.
func TestConcurrentTransactions(t *testing.T) {
	s := testStore(t)

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			fileID := fmt.Sprintf("book-%d", i)
			errs[i] = s.WithTransaction("add "+fileID, func(doc schema.State) error {
				doc.SetFileResult(schema.Phase1, fileID, schema.StatusSuccess, "h", "")
				return nil
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	doc, err := s.Read(true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < workers; i++ {
		fileID := fmt.Sprintf("book-%d", i)
		if got := doc.FileStatus(schema.Phase1, fileID); got != schema.StatusSuccess {
			t.Errorf("entry %s lost: status = %s", fileID, got)
		}
	}
}

// TestTransactionSerializesAcrossStores uses two Store instances over one
// state file, the shape of two OS processes sharing pipeline.json. The
// file lock is held from read to commit, so the second transaction must
// wait for the first and then observe its entry; neither commit may erase
// the other.
func TestTransactionSerializesAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	opts := Options{LockTimeout: 5 * time.Second}
	a := New(path, opts)
	b := New(path, opts)

	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- a.WithTransaction("slow writer", func(doc schema.State) error {
			close(entered)
			time.Sleep(300 * time.Millisecond)
			doc.SetFileResult(schema.Phase1, "alpha", schema.StatusSuccess, "ha", "")
			return nil
		})
	}()

	<-entered
	err := b.WithTransaction("concurrent writer", func(doc schema.State) error {
		doc.SetFileResult(schema.Phase2, "beta", schema.StatusSuccess, "hb", "")
		return nil
	})
	if err != nil {
		t.Fatalf("concurrent transaction: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("slow transaction: %v", err)
	}

	doc, err := a.Read(true)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.FileStatus(schema.Phase1, "alpha"); got != schema.StatusSuccess {
		t.Errorf("first writer's entry lost: status = %s", got)
	}
	if got := doc.FileStatus(schema.Phase2, "beta"); got != schema.StatusSuccess {
		t.Errorf("second writer's entry lost: status = %s", got)
	}
}

func TestTransactionHistory(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		op := fmt.Sprintf("op-%d", i)
		err := s.WithTransaction(op, func(doc schema.State) error {
			doc["file_id"] = op
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.TransactionHistory(0)
	if err != nil {
		t.Fatalf("TransactionHistory: %v", err)
	}
	if len(records) < 3 {
		t.Fatalf("got %d records, want >= 3", len(records))
	}
	last := records[len(records)-1]
	if last.Operation != "op-2" {
		t.Errorf("last operation = %q, want op-2", last.Operation)
	}
	if !last.Success {
		t.Error("last record not marked success")
	}

	limited, err := s.TransactionHistory(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d records", len(limited))
	}
}

func TestTransactionLogSurvivesMalformedLines(t *testing.T) {
	s := testStore(t)

	if err := s.WithTransaction("good", func(doc schema.State) error { return nil }); err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(filepath.Dir(s.Path()), ".pipeline", "transactions.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{truncated garbage\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := s.WithTransaction("after-garbage", func(doc schema.State) error { return nil }); err != nil {
		t.Fatal(err)
	}

	records, err := s.TransactionHistory(0)
	if err != nil {
		t.Fatalf("TransactionHistory with garbage line: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 (garbage skipped)", len(records))
	}
}
