package storage

import (
	"testing"

	"github.com/go-logr/logr"
)

func newTestManager(t *testing.T) (*GraphStore, *TransactionManager) {
	t.Helper()
	store := NewGraphStore(logr.Discard())
	ts := NewTimestampGenerator()
	mgr := NewTransactionManager(store, ts, nil, logr.Discard(), 256, nil)
	return store, mgr
}

func TestCreateAndGetVertex(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, err := mgr.Begin(Snapshot)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	v, err := txn.CreateVertex(LabelId(1), PropertyRecord{Int64Value(42)})
	if err != nil {
		t.Fatalf("CreateVertex: %v", err)
	}

	got, err := txn.GetVertex(v.ID)
	if err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	if got.Properties[0].Int != 42 {
		t.Fatalf("expected property 42, got %v", got.Properties[0])
	}
}

func TestSetVertexPropertiesVisibleAfterWrite(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	v, _ := txn.CreateVertex(LabelId(1), PropertyRecord{Int64Value(1)})

	if _, err := txn.SetVertexProperties(v.ID, []int{0}, []Value{Int64Value(99)}); err != nil {
		t.Fatalf("SetVertexProperties: %v", err)
	}
	got, err := txn.GetVertex(v.ID)
	if err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	if got.Properties[0].Int != 99 {
		t.Fatalf("expected updated property 99, got %v", got.Properties[0].Int)
	}
}

func TestDeleteVertexHidesFromSubsequentReads(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	v, _ := txn.CreateVertex(LabelId(1), nil)

	if err := txn.DeleteVertex(v.ID); err != nil {
		t.Fatalf("DeleteVertex: %v", err)
	}
	if _, err := txn.GetVertex(v.ID); err == nil {
		t.Fatal("expected tombstoned vertex to be invisible within its own transaction")
	}
}

func TestAbortUndoesCreate(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	v, _ := txn.CreateVertex(LabelId(1), nil)
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	txn2, _ := mgr.Begin(Snapshot)
	if _, err := txn2.GetVertex(v.ID); err == nil {
		t.Fatal("expected created-then-aborted vertex to not exist")
	}
}

func TestSnapshotIsolationHidesUncommittedWrites(t *testing.T) {
	_, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), PropertyRecord{Int64Value(1)})
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, _ := mgr.Begin(Snapshot)
	writer, _ := mgr.Begin(Snapshot)
	if _, err := writer.SetVertexProperties(v.ID, []int{0}, []Value{Int64Value(2)}); err != nil {
		t.Fatalf("SetVertexProperties: %v", err)
	}
	if _, err := writer.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// reader's snapshot predates writer's commit, so it must still see
	// the pre-write value even after the writer commits.
	got, err := reader.GetVertex(v.ID)
	if err != nil {
		t.Fatalf("GetVertex: %v", err)
	}
	if got.Properties[0].Int != 1 {
		t.Fatalf("expected reader to still see value 1, got %v", got.Properties[0].Int)
	}
}

func TestWriteWriteConflictDetected(t *testing.T) {
	_, mgr := newTestManager(t)
	setup, _ := mgr.Begin(Snapshot)
	v, _ := setup.CreateVertex(LabelId(1), PropertyRecord{Int64Value(0)})
	if _, err := setup.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	t1, _ := mgr.Begin(Snapshot)
	t2, _ := mgr.Begin(Snapshot)

	if _, err := t1.SetVertexProperties(v.ID, []int{0}, []Value{Int64Value(1)}); err != nil {
		t.Fatalf("t1 SetVertexProperties: %v", err)
	}
	if _, err := t2.SetVertexProperties(v.ID, []int{0}, []Value{Int64Value(2)}); err == nil {
		t.Fatal("expected write-write conflict for t2")
	}
}

func TestCreateEdgeRequiresExistingEndpoints(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	a, _ := txn.CreateVertex(LabelId(1), nil)

	if _, err := txn.CreateEdge(LabelId(2), a.ID, VertexId(9999), nil); err == nil {
		t.Fatal("expected error creating edge to nonexistent endpoint")
	}
}

func TestAdjacencyBothDeduplicatesSelfLoop(t *testing.T) {
	_, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	a, _ := txn.CreateVertex(LabelId(1), nil)
	if _, err := txn.CreateEdge(LabelId(2), a.ID, a.ID, nil); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	it := txn.Adjacency(a.ID, DirBoth)
	var got []Neighbor
	for !it.Done() {
		got = append(got, it.Next(10)...)
	}
	if len(got) != 1 {
		t.Fatalf("expected self-loop counted once, got %d entries", len(got))
	}
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	store, mgr := newTestManager(t)
	txn, _ := mgr.Begin(Snapshot)
	v, _ := txn.CreateVertex(LabelId(1), PropertyRecord{Int64Value(7)})
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snaps := store.SnapshotVertices()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 vertex snapshot, got %d", len(snaps))
	}

	store2, mgr2 := newTestManager(t)
	store2.RestoreVertex(snaps[0].Vertex, snaps[0].CommitTS)
	store2.SetNextIDs(uint64(v.ID)+1, 0)
	mgr2.ts.UpdateIfGreater(snaps[0].CommitTS)

	reader, _ := mgr2.Begin(Snapshot)
	got, err := reader.GetVertex(v.ID)
	if err != nil {
		t.Fatalf("GetVertex after restore: %v", err)
	}
	if got.Properties[0].Int != 7 {
		t.Fatalf("expected restored property 7, got %v", got.Properties[0].Int)
	}
}
