package storage

import (
	"errors"
	"testing"
)

func TestWatermarkTracksOldestActiveTransaction(t *testing.T) {
	_, mgr := newTestManager(t)

	t1, _ := mgr.Begin(Snapshot)
	wmWithActive := mgr.Watermark()
	if wmWithActive != t1.StartTS {
		t.Fatalf("expected watermark to equal the only active txn's StartTS %d, got %d", t1.StartTS, wmWithActive)
	}

	if _, err := t1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wmNoneActive := mgr.Watermark()
	if wmNoneActive != mgr.ts.PeekNextCommitTS() {
		t.Fatalf("expected watermark to equal next commit ts with no active txns, got %d", wmNoneActive)
	}
}

func TestGarbageCollectReclaimsTombstonesBelowWatermark(t *testing.T) {
	store, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), nil)
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	deleter, _ := mgr.Begin(Snapshot)
	if err := deleter.DeleteVertex(v.ID); err != nil {
		t.Fatalf("DeleteVertex: %v", err)
	}
	if _, err := deleter.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// No active transactions remain, so the watermark has advanced past
	// the delete's commit and GC can physically reap the vertex.
	mgr.GarbageCollect()

	if _, ok := store.vertexChain(v.ID); ok {
		t.Fatal("expected tombstoned vertex to be physically reaped once below watermark")
	}
}

func TestGarbageCollectDoesNotReclaimAboveWatermark(t *testing.T) {
	store, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), nil)
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// An older reader's snapshot pins the watermark below the delete.
	reader, _ := mgr.Begin(Snapshot)
	deleter, _ := mgr.Begin(Snapshot)
	if err := deleter.DeleteVertex(v.ID); err != nil {
		t.Fatalf("DeleteVertex: %v", err)
	}
	if _, err := deleter.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	mgr.GarbageCollect()
	if _, ok := store.vertexChain(v.ID); !ok {
		t.Fatal("vertex should still exist: reader's snapshot may still need its undo history")
	}
	_ = reader
}

func TestQuiesceForCheckpointCapturesLatestCommitTSAndLSN(t *testing.T) {
	_, mgr := newTestManager(t)
	latestCommitTS, lsn := mgr.QuiesceForCheckpoint()
	if lsn != 0 {
		t.Fatalf("expected lsn 0 with no WAL configured, got %d", lsn)
	}
	if latestCommitTS != TimestampZero {
		t.Fatalf("expected no commits yet to report TimestampZero, got %d", latestCommitTS)
	}

	txn, _ := mgr.Begin(Snapshot)
	if _, err := txn.CreateVertex(LabelId(1), nil); err != nil {
		t.Fatalf("CreateVertex: %v", err)
	}
	commitTS, err := txn.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	latestCommitTS, _ = mgr.QuiesceForCheckpoint()
	if latestCommitTS != commitTS {
		t.Fatalf("expected latest commit ts %d, got %d", commitTS, latestCommitTS)
	}
}

// TestQuiesceForCheckpointDiffersFromWatermarkDuringLongRunningTxn checks
// that an active, older transaction does not pull the checkpoint header's
// latest_commit_ts back down the way it pulls the GC watermark down —
// they are deliberately different quantities (see QuiesceForCheckpoint).
func TestQuiesceForCheckpointDiffersFromWatermarkDuringLongRunningTxn(t *testing.T) {
	_, mgr := newTestManager(t)

	reader, _ := mgr.Begin(Snapshot)

	writer, _ := mgr.Begin(Snapshot)
	if _, err := writer.CreateVertex(LabelId(1), nil); err != nil {
		t.Fatalf("CreateVertex: %v", err)
	}
	commitTS, err := writer.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	latestCommitTS, _ := mgr.QuiesceForCheckpoint()
	if latestCommitTS != commitTS {
		t.Fatalf("expected latest_commit_ts to reflect the just-committed write, got %d want %d", latestCommitTS, commitTS)
	}
	if wm := mgr.Watermark(); wm >= latestCommitTS {
		t.Fatalf("expected watermark to stay pinned below latest_commit_ts while reader is active, got wm=%d latest=%d", wm, latestCommitTS)
	}
	_ = reader
}

// TestSerializableCertifyDetectsReadWriteConflict mirrors spec.md §8's
// worked example: a Serializable reader reads a vertex, a concurrent
// writer updates and commits it first, and the reader's own commit must
// then fail certification with ErrReadWriteConflict.
func TestSerializableCertifyDetectsReadWriteConflict(t *testing.T) {
	_, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), PropertyRecord{Int64Value(0)})
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, err := mgr.Begin(Serializable)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := reader.GetVertex(v.ID); err != nil {
		t.Fatalf("GetVertex: %v", err)
	}

	writer, _ := mgr.Begin(Snapshot)
	if _, err := writer.SetVertexProperties(v.ID, []int{0}, []Value{Int64Value(1)}); err != nil {
		t.Fatalf("writer SetVertexProperties: %v", err)
	}
	if _, err := writer.Commit(); err != nil {
		t.Fatalf("writer Commit: %v", err)
	}

	if _, err := reader.Commit(); !errors.Is(err, ErrReadWriteConflict) {
		t.Fatalf("expected ErrReadWriteConflict, got %v", err)
	}
}

// TestSerializableCertifyPassesWithoutConcurrentWrite checks that a
// Serializable transaction whose reads were never invalidated commits
// normally, so certify isn't simply failing every Serializable commit.
func TestSerializableCertifyPassesWithoutConcurrentWrite(t *testing.T) {
	_, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), nil)
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, err := mgr.Begin(Serializable)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := reader.GetVertex(v.ID); err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	if _, err := reader.Commit(); err != nil {
		t.Fatalf("expected uncontended Serializable commit to succeed, got %v", err)
	}
}

func TestActiveCountTracksBeginAndCommit(t *testing.T) {
	_, mgr := newTestManager(t)
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active transactions, got %d", mgr.ActiveCount())
	}
	txn, _ := mgr.Begin(Snapshot)
	if mgr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active transaction, got %d", mgr.ActiveCount())
	}
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active transactions after commit, got %d", mgr.ActiveCount())
	}
}
