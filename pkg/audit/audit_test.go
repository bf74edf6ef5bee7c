package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: true})

	if err := logger.LogCommit(7, 42); err != nil {
		t.Fatalf("LogCommit: %v", err)
	}

	var e Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != EventCommitTransaction || e.TxnID != 7 || e.CommitTS != 42 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatal("expected Log to stamp ID and Timestamp")
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: false})
	if err := logger.LogAbort(1, "conflict"); err != nil {
		t.Fatalf("LogAbort: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected no output from a disabled logger")
	}
}

func TestLogAfterCloseFails(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: true})
	logger.file = nil
	_ = logger.Close()
	if err := logger.LogCommit(1, 1); err == nil {
		t.Fatal("expected error logging after Close")
	}
}

func TestReaderFiltersByTypeAndTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	logger, err := NewLogger(Config{Enabled: true, LogPath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := logger.LogBegin(1, 10); err != nil {
		t.Fatal(err)
	}
	if err := logger.LogCommit(1, 11); err != nil {
		t.Fatal(err)
	}
	if err := logger.LogAbort(2, "write-write conflict"); err != nil {
		t.Fatal(err)
	}
	_ = logger.Close()

	reader := NewReader(path)
	events, err := reader.Events(Query{Type: EventCommitTransaction})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].TxnID != 1 {
		t.Fatalf("expected exactly the one commit event, got %+v", events)
	}

	all, err := reader.Events(Query{})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	future, err := reader.Events(Query{Since: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(future) != 0 {
		t.Fatalf("expected no events after Since in the future, got %d", len(future))
	}

	_ = os.Remove(path)
}
