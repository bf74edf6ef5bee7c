package storage

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// IsolationLevel selects how aggressively a transaction's commit is
// validated against concurrent writers (§4.4).
type IsolationLevel uint8

const (
	// Snapshot isolation: reads see a consistent snapshot as of
	// StartTS; writes still conflict-check against concurrent writers
	// of the same entity, but reads of other entities are not
	// re-validated at commit.
	Snapshot IsolationLevel = iota
	// Serializable additionally certifies, at commit time, that every
	// entity this transaction read has not been committed-over by a
	// concurrent transaction since StartTS.
	Serializable
)

type txnState int32

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

// Transaction is a single unit of work against a GraphHandle. It is not
// safe for concurrent use by multiple goroutines; a single logical
// transaction is expected to be driven sequentially, matching the
// external interface in §6.
type Transaction struct {
	TxnID     Timestamp
	StartTS   Timestamp
	Isolation IsolationLevel

	mgr   *TransactionManager
	store *GraphStore
	log   logr.Logger

	state    atomic.Int32
	commitTS atomic.Uint64 // 0 until Commit succeeds; Timestamp 0 is never a real commit ts

	readsMu     sync.Mutex
	readVerts   map[VertexId]struct{}
	readEdges   map[EdgeId]struct{}

	bufMu      sync.Mutex
	undoBuffer []*UndoEntry
	redoBuffer []DeltaOp

	skipWAL bool // true only for transactions replayed during recovery
}

func newTransaction(mgr *TransactionManager, store *GraphStore, txnID, startTS Timestamp, iso IsolationLevel, log logr.Logger) *Transaction {
	t := &Transaction{
		TxnID:     txnID,
		StartTS:   startTS,
		Isolation: iso,
		mgr:       mgr,
		store:     store,
		log:       log,
		readVerts: make(map[VertexId]struct{}),
		readEdges: make(map[EdgeId]struct{}),
	}
	runtime.AddCleanup(t, func(id Timestamp) {
		if txnState(t.state.Load()) == txnActive {
			log.Error(nil, "transaction garbage collected while still active; this is a caller bug, not an engine recovery path", "txn_id", id)
		}
	}, txnID)
	return t
}

func (t *Transaction) active() bool { return txnState(t.state.Load()) == txnActive }

func (t *Transaction) requireActive(op string) error {
	if !t.active() {
		return newErr(KindLifecycleViolation, op, ErrTransactionNotActive)
	}
	return nil
}

func (t *Transaction) recordRead(op func(m map[VertexId]struct{}, em map[EdgeId]struct{})) {
	t.readsMu.Lock()
	defer t.readsMu.Unlock()
	op(t.readVerts, t.readEdges)
}

func (t *Transaction) pushUndo(e *UndoEntry, delta DeltaOp) {
	t.bufMu.Lock()
	defer t.bufMu.Unlock()
	t.undoBuffer = append(t.undoBuffer, e)
	t.redoBuffer = append(t.redoBuffer, delta)
}

// CreateVertex inserts a new vertex with the given label and initial
// properties and returns the caller-visible copy (§6).
func (t *Transaction) CreateVertex(label LabelId, props PropertyRecord) (*Vertex, error) {
	if err := t.requireActive("CreateVertex"); err != nil {
		return nil, err
	}
	v, entry, err := t.store.createVertex(t, label, props)
	if err != nil {
		return nil, err
	}
	t.pushUndo(entry, entry.Delta)
	return v, nil
}

// GetVertex returns the version of id visible to this transaction's
// snapshot, recording the read for Serializable certification.
func (t *Transaction) GetVertex(id VertexId) (*Vertex, error) {
	if err := t.requireActive("GetVertex"); err != nil {
		return nil, err
	}
	v, err := t.store.getVertex(t, id)
	t.recordRead(func(m map[VertexId]struct{}, _ map[EdgeId]struct{}) { m[id] = struct{}{} })
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetVertexProperties overwrites the property values at indices (the
// catalog-assigned property slots) with values, in index order.
func (t *Transaction) SetVertexProperties(id VertexId, indices []int, values []Value) (*Vertex, error) {
	if err := t.requireActive("SetVertexProperties"); err != nil {
		return nil, err
	}
	v, entry, err := t.store.setVertexProperties(t, id, indices, values)
	if err != nil {
		return nil, err
	}
	t.pushUndo(entry, entry.Delta)
	return v, nil
}

// DeleteVertex tombstones a vertex. Adjacent edges are not implicitly
// removed; callers are expected to delete them first, matching §3's
// requirement that edge deletion is always explicit.
func (t *Transaction) DeleteVertex(id VertexId) error {
	if err := t.requireActive("DeleteVertex"); err != nil {
		return err
	}
	entry, err := t.store.deleteVertex(t, id)
	if err != nil {
		return err
	}
	t.pushUndo(entry, entry.Delta)
	return nil
}

// CreateEdge inserts a new edge between two existing, visible vertices.
func (t *Transaction) CreateEdge(label LabelId, src, dst VertexId, props PropertyRecord) (*Edge, error) {
	if err := t.requireActive("CreateEdge"); err != nil {
		return nil, err
	}
	e, entry, err := t.store.createEdge(t, label, src, dst, props)
	if err != nil {
		return nil, err
	}
	t.recordRead(func(m map[VertexId]struct{}, _ map[EdgeId]struct{}) { m[src] = struct{}{}; m[dst] = struct{}{} })
	t.pushUndo(entry, entry.Delta)
	return e, nil
}

func (t *Transaction) GetEdge(id EdgeId) (*Edge, error) {
	if err := t.requireActive("GetEdge"); err != nil {
		return nil, err
	}
	e, err := t.store.getEdge(t, id)
	t.recordRead(func(_ map[VertexId]struct{}, m map[EdgeId]struct{}) { m[id] = struct{}{} })
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Transaction) SetEdgeProperties(id EdgeId, indices []int, values []Value) (*Edge, error) {
	if err := t.requireActive("SetEdgeProperties"); err != nil {
		return nil, err
	}
	e, entry, err := t.store.setEdgeProperties(t, id, indices, values)
	if err != nil {
		return nil, err
	}
	t.pushUndo(entry, entry.Delta)
	return e, nil
}

func (t *Transaction) DeleteEdge(id EdgeId) error {
	if err := t.requireActive("DeleteEdge"); err != nil {
		return err
	}
	entry, err := t.store.deleteEdge(t, id)
	if err != nil {
		return err
	}
	t.pushUndo(entry, entry.Delta)
	return nil
}

// neighborsRaw returns up to batchSize Neighbor entries on side dir of
// vertex id, strictly after the cursor (nil for "from the start"),
// without any visibility filtering. AdjacencyIterator (C7) layers MVCC
// filtering and Direction::Both deduplication on top of this.
func (t *Transaction) neighborsRaw(id VertexId, dir Direction, after *EdgeId, batchSize int) ([]Neighbor, bool) {
	adj, ok := t.store.adjacencyFor(id)
	if !ok {
		return nil, false
	}
	return adj.sideFor(dir).RangeFrom(after, batchSize)
}

// applyReplayDelta re-applies one logged DeltaOp during WAL replay,
// routing Create* to the id-pinned replay constructors and everything
// else through the same store methods a live transaction uses (§4.8 step
// 4). It is never called outside recovery.
func (t *Transaction) applyReplayDelta(d DeltaOp) error {
	switch d.Kind {
	case DeltaCreateVertex:
		entry := t.store.createVertexReplay(t, d.VertexID, d.VertexLabel, d.VertexProps)
		t.pushUndo(entry, entry.Delta)
	case DeltaCreateEdge:
		entry := t.store.createEdgeReplay(t, d.EdgeID, d.EdgeLabel, d.EdgeSrc, d.EdgeDst, d.EdgeProps)
		t.pushUndo(entry, entry.Delta)
	case DeltaSetVertexProps:
		_, entry, err := t.store.setVertexProperties(t, d.VertexID, d.PropIndices, extractValues(d.NewVertexVal, d.PropIndices))
		if err != nil {
			return err
		}
		t.pushUndo(entry, entry.Delta)
	case DeltaSetEdgeProps:
		_, entry, err := t.store.setEdgeProperties(t, d.EdgeID, d.PropIndices, extractValues(d.NewEdgeVal, d.PropIndices))
		if err != nil {
			return err
		}
		t.pushUndo(entry, entry.Delta)
	case DeltaDeleteVertex:
		entry, err := t.store.deleteVertex(t, d.VertexID)
		if err != nil {
			return err
		}
		t.pushUndo(entry, entry.Delta)
	case DeltaDeleteEdge:
		entry, err := t.store.deleteEdge(t, d.EdgeID)
		if err != nil {
			return err
		}
		t.pushUndo(entry, entry.Delta)
	}
	return nil
}

// extractValues picks out the property slots named by indices from a
// full post-image record, the form setVertexProperties/setEdgeProperties
// take as their values argument.
func extractValues(full PropertyRecord, indices []int) []Value {
	values := make([]Value, len(indices))
	for i, idx := range indices {
		values[i] = full[idx]
	}
	return values
}

// Commit finalizes the transaction and returns the commit timestamp it was
// stamped with (§6: `commit(txn) -> CommitTimestamp | Error`). See
// TransactionManager.commit for the full protocol (§4.4 step 5).
func (t *Transaction) Commit() (Timestamp, error) {
	if err := t.requireActive("Commit"); err != nil {
		return 0, err
	}
	if err := t.mgr.commit(t); err != nil {
		return 0, err
	}
	return Timestamp(t.commitTS.Load()), nil
}

// Abort discards every write the transaction made. See
// TransactionManager.abort.
func (t *Transaction) Abort() error {
	if err := t.requireActive("Abort"); err != nil {
		return err
	}
	return t.mgr.abort(t)
}
