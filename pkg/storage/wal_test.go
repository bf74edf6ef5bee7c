package storage

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func TestWALAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := OpenWAL(path, logr.Discard())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(RedoEntry{TxnID: 1, Op: RedoBegin, StartTS: 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(RedoEntry{TxnID: 1, Op: RedoCommit, CommitTS: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Op != RedoBegin || records[1].Op != RedoCommit {
		t.Fatalf("unexpected record ops: %+v", records)
	}
}

func TestWALNextLSNAdvancesAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := OpenWAL(path, logr.Discard())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if w.NextLSN() != 0 {
		t.Fatalf("expected fresh wal to start at lsn 0, got %d", w.NextLSN())
	}
	if _, err := w.Append(RedoEntry{TxnID: 1, Op: RedoBegin}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if w.NextLSN() != 1 {
		t.Fatalf("expected next lsn 1 after one append, got %d", w.NextLSN())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenWAL(path, logr.Discard())
	if err != nil {
		t.Fatalf("reopen OpenWAL: %v", err)
	}
	defer reopened.Close()
	if reopened.NextLSN() != 1 {
		t.Fatalf("expected reopened wal to prime next lsn to 1, got %d", reopened.NextLSN())
	}
}

func TestWALAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := OpenWAL(path, logr.Discard())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := w.Append(RedoEntry{TxnID: 1, Op: RedoBegin}); err == nil {
		t.Fatal("expected Append after Close to fail")
	}
}

func TestWALTruncateUntilDropsOlderRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := OpenWAL(path, logr.Discard())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if _, err := w.Append(RedoEntry{TxnID: Timestamp(i), Op: RedoBegin}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.TruncateUntil(2); err != nil {
		t.Fatalf("TruncateUntil: %v", err)
	}
	records, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 || records[0].LSN != 2 {
		t.Fatalf("expected only lsn 2 to survive truncation, got %+v", records)
	}
}
