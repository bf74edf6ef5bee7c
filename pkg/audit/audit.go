// Package audit provides an append-only, structured log of the storage
// engine's transaction lifecycle: begins, commits, aborts, checkpoints,
// garbage collection passes, and recovery runs.
//
// Example Usage:
//
//	logger, err := audit.NewLogger(audit.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.Log(audit.Event{
//		Type:     audit.EventCommitTransaction,
//		TxnID:    uint64(txnID),
//		CommitTS: uint64(commitTS),
//	})
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType categorizes one transaction-lifecycle audit event (§4.4,
// §4.5, §4.7, §4.8).
type EventType string

const (
	EventBeginTransaction  EventType = "BEGIN_TRANSACTION"
	EventCommitTransaction EventType = "COMMIT_TRANSACTION"
	EventAbortTransaction  EventType = "ABORT_TRANSACTION"
	EventCheckpoint        EventType = "CHECKPOINT"
	EventGarbageCollect    EventType = "GARBAGE_COLLECT"
	EventRecover           EventType = "RECOVER"
)

// Event is one immutable audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	TxnID    uint64 `json:"txn_id,omitempty"`
	StartTS  uint64 `json:"start_ts,omitempty"`
	CommitTS uint64 `json:"commit_ts,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	// Path is the checkpoint file or WAL path a Checkpoint/Recover event
	// refers to.
	Path string `json:"path,omitempty"`
	// Count is a generic payload for GarbageCollect ("entities reclaimed")
	// and Recover ("records replayed") events.
	Count int `json:"count,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool
	// LogPath is the path to the audit log file.
	LogPath string
	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// DefaultConfig returns sensible defaults for audit logging.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		LogPath:    "./logs/audit.log",
		SyncWrites: false,
	}
}

// Logger writes Events to an append-only JSON-lines log.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger creates a logger at config.LogPath, creating its parent
// directory if needed. A disabled config returns a no-op logger.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}

	return &Logger{writer: file, file: file, config: config}, nil
}

// NewLoggerWithWriter creates a logger over an arbitrary writer, for tests.
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{writer: writer, config: config}
}

// Log records an event, stamping Timestamp and ID if left zero.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit logger is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}
	return nil
}

// LogBegin is a convenience wrapper for EventBeginTransaction.
func (l *Logger) LogBegin(txnID, startTS uint64) error {
	return l.Log(Event{Type: EventBeginTransaction, TxnID: txnID, StartTS: startTS, Success: true})
}

// LogCommit is a convenience wrapper for EventCommitTransaction.
func (l *Logger) LogCommit(txnID, commitTS uint64) error {
	return l.Log(Event{Type: EventCommitTransaction, TxnID: txnID, CommitTS: commitTS, Success: true})
}

// LogAbort is a convenience wrapper for EventAbortTransaction.
func (l *Logger) LogAbort(txnID uint64, reason string) error {
	return l.Log(Event{Type: EventAbortTransaction, TxnID: txnID, Success: true, Reason: reason})
}

// LogCheckpoint is a convenience wrapper for EventCheckpoint.
func (l *Logger) LogCheckpoint(path string, success bool, reason string) error {
	return l.Log(Event{Type: EventCheckpoint, Path: path, Success: success, Reason: reason})
}

// LogGarbageCollect is a convenience wrapper for EventGarbageCollect.
func (l *Logger) LogGarbageCollect(reclaimed int) error {
	return l.Log(Event{Type: EventGarbageCollect, Count: reclaimed, Success: true})
}

// LogRecover is a convenience wrapper for EventRecover.
func (l *Logger) LogRecover(checkpointPath string, recordsReplayed int, success bool, reason string) error {
	return l.Log(Event{Type: EventRecover, Path: checkpointPath, Count: recordsReplayed, Success: success, Reason: reason})
}

// Close flushes and closes the underlying log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Reader reads back events from a completed audit log for inspection,
// used by miniguctl's `inspect` subcommands.
type Reader struct {
	path string
}

// NewReader opens a Reader over the audit log at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query filters the log by event type (empty matches all) and a
// half-open [Since, Until) time range (zero values are unbounded).
type Query struct {
	Type  EventType
	Since time.Time
	Until time.Time
}

// Events returns every event in the log matching q, in log order.
func (r *Reader) Events(q Query) ([]Event, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var out []Event
	for {
		var e Event
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return out, fmt.Errorf("decoding audit event: %w", err)
		}
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
