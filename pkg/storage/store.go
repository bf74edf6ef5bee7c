package storage

import (
	"sync/atomic"
	"weak"

	"github.com/go-logr/logr"
)

// GraphStore owns the sharded vertex/edge version-chain maps and the
// adjacency index (§3, §4.4 "C4 Vertex/Edge Store + Adjacency Index").
// It has no notion of transaction lifecycles itself; every method is
// handed an already-validated *Transaction to read timestamps and
// isolation level from, and every write returns the UndoEntry the caller
// must keep a strong reference to until it commits or aborts.
type GraphStore struct {
	vertices  *idShardedMap[*VersionChain]
	edges     *idShardedMap[*VersionChain]
	adjacency *idShardedMap[*AdjacencyContainer]

	nextVertexID atomic.Uint64
	nextEdgeID   atomic.Uint64

	log logr.Logger
}

func NewGraphStore(log logr.Logger) *GraphStore {
	return &GraphStore{
		vertices:  newIDShardedMap[*VersionChain](),
		edges:     newIDShardedMap[*VersionChain](),
		adjacency: newIDShardedMap[*AdjacencyContainer](),
		log:       log,
	}
}

func visible(commitTS Timestamp, txn *Transaction) bool {
	if commitTS.IsTxnID() {
		return commitTS == txn.TxnID
	}
	return commitTS <= txn.StartTS
}

// writeConflict is the check every mutating path runs against a chain's
// current value before installing a new one (§4.3): a write fails if
// another, still-uncommitted transaction owns the slot, or if someone
// else committed a newer version than this transaction's snapshot
// started from. Both isolation levels enforce this; Serializable layers
// read-set certification on top at commit time (see manager.go).
func writeConflict(cur entityValue, txn *Transaction) error {
	if cur.commitTS.IsTxnID() {
		if cur.commitTS != txn.TxnID {
			return newErr(KindConflict, "write", ErrWriteWriteConflict)
		}
		return nil
	}
	if cur.commitTS > txn.StartTS {
		return newErr(KindConflict, "write", ErrWriteWriteConflict)
	}
	return nil
}

// --- Vertices ---------------------------------------------------------

func (s *GraphStore) createVertex(txn *Transaction, label LabelId, props PropertyRecord) (*Vertex, *UndoEntry, error) {
	id := VertexId(s.nextVertexID.Add(1))
	v := &Vertex{ID: id, Label: label, Properties: props.Clone()}
	chain := newVertexChain(v, txn.TxnID)
	entry := &UndoEntry{TxnID: txn.TxnID, Delta: DeltaOp{Kind: DeltaCreateVertex, VertexID: id, VertexLabel: label, VertexProps: props.Clone()}}
	chain.undo = weak.Make(entry)
	s.vertices.Set(uint64(id), chain)
	s.adjacency.Set(uint64(id), newAdjacencyContainer())
	return v.Clone(), entry, nil
}

// createVertexReplay installs a vertex at an id pinned by the caller
// instead of allocating a fresh one, and raises the vertex id allocator
// past it. Used only by recovery.go to replay a DeltaCreateVertex record
// at its original id (§4.8 step 4); live transactions always go through
// createVertex instead.
func (s *GraphStore) createVertexReplay(txn *Transaction, id VertexId, label LabelId, props PropertyRecord) *UndoEntry {
	v := &Vertex{ID: id, Label: label, Properties: props.Clone()}
	chain := newVertexChain(v, txn.TxnID)
	entry := &UndoEntry{TxnID: txn.TxnID, Delta: DeltaOp{Kind: DeltaCreateVertex, VertexID: id, VertexLabel: label, VertexProps: props.Clone()}}
	chain.undo = weak.Make(entry)
	s.vertices.Set(uint64(id), chain)
	s.adjacency.Set(uint64(id), newAdjacencyContainer())
	s.SetNextIDs(uint64(id)+1, 0)
	return entry
}

func (s *GraphStore) vertexChain(id VertexId) (*VersionChain, bool) {
	return s.vertices.Get(uint64(id))
}

// getVertex implements the MVCC read protocol of §4.3 for a single
// vertex: walk current, then the undo chain, for the newest version
// visible to txn's snapshot.
func (s *GraphStore) getVertex(txn *Transaction, id VertexId) (*Vertex, error) {
	chain, ok := s.vertexChain(id)
	if !ok {
		return nil, newErr(KindNotFound, "getVertex", ErrVertexNotFound)
	}
	cur, undo := chain.snapshot()
	if visible(cur.commitTS, txn) {
		if cur.vertex.Tombstoned() {
			return nil, newErr(KindNotFound, "getVertex", ErrVertexNotFound)
		}
		return cur.vertex.Clone(), nil
	}
	for e := undo; e != nil; e = e.next.Value() {
		if visible(e.PrevValue.commitTS, txn) {
			if e.PrevValue.vertex == nil || e.PrevValue.vertex.Tombstoned() {
				return nil, newErr(KindNotFound, "getVertex", ErrVertexNotFound)
			}
			return e.PrevValue.vertex.Clone(), nil
		}
	}
	return nil, newErr(KindNotFound, "getVertex", ErrVertexNotFound)
}

func (s *GraphStore) setVertexProperties(txn *Transaction, id VertexId, indices []int, values []Value) (*Vertex, *UndoEntry, error) {
	chain, ok := s.vertexChain(id)
	if !ok {
		return nil, nil, newErr(KindNotFound, "setVertexProperties", ErrVertexNotFound)
	}
	var result *Vertex
	entry, err := chain.tryWrite(txn.TxnID,
		func(cur entityValue) error {
			if cur.vertex.Tombstoned() {
				return newErr(KindNotFound, "setVertexProperties", ErrVertexNotFound)
			}
			return writeConflict(cur, txn)
		},
		func(cur entityValue) (entityValue, DeltaOp) {
			oldProps := cur.vertex.Properties.Clone()
			newProps := oldProps.Clone()
			for i, idx := range indices {
				newProps[idx] = values[i]
			}
			nv := &Vertex{ID: cur.vertex.ID, Label: cur.vertex.Label, Properties: newProps}
			result = nv.Clone()
			delta := DeltaOp{Kind: DeltaSetVertexProps, VertexID: id, PropIndices: indices, OldVertexVal: oldProps, NewVertexVal: newProps}
			return entityValue{vertex: nv, commitTS: txn.TxnID}, delta
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return result, entry, nil
}

func (s *GraphStore) deleteVertex(txn *Transaction, id VertexId) (*UndoEntry, error) {
	chain, ok := s.vertexChain(id)
	if !ok {
		return nil, newErr(KindNotFound, "deleteVertex", ErrVertexNotFound)
	}
	return chain.tryWrite(txn.TxnID,
		func(cur entityValue) error {
			if cur.vertex.Tombstoned() {
				return newErr(KindNotFound, "deleteVertex", ErrVertexNotFound)
			}
			return writeConflict(cur, txn)
		},
		func(cur entityValue) (entityValue, DeltaOp) {
			nv := cur.vertex.Clone()
			nv.tombstone = true
			delta := DeltaOp{Kind: DeltaDeleteVertex, VertexID: id}
			return entityValue{vertex: nv, commitTS: txn.TxnID}, delta
		},
	)
}

// --- Edges --------------------------------------------------------------

func (s *GraphStore) createEdge(txn *Transaction, label LabelId, src, dst VertexId, props PropertyRecord) (*Edge, *UndoEntry, error) {
	if _, err := s.getVertex(txn, src); err != nil {
		return nil, nil, err
	}
	if _, err := s.getVertex(txn, dst); err != nil {
		return nil, nil, err
	}
	id := EdgeId(s.nextEdgeID.Add(1))
	e := &Edge{ID: id, Src: src, Dst: dst, Label: label, Properties: props.Clone()}
	chain := newEdgeChain(e, txn.TxnID)
	entry := &UndoEntry{TxnID: txn.TxnID, Delta: DeltaOp{
		Kind: DeltaCreateEdge, EdgeID: id, EdgeSrc: src, EdgeDst: dst, EdgeLabel: label, EdgeProps: props.Clone(),
	}}
	chain.undo = weak.Make(entry)
	s.edges.Set(uint64(id), chain)

	srcAdj, _ := s.adjacency.GetOrSet(uint64(src), newAdjacencyContainer)
	srcAdj.Outgoing.Upsert(Neighbor{EdgeID: id, Label: label, OtherID: dst})
	dstAdj, _ := s.adjacency.GetOrSet(uint64(dst), newAdjacencyContainer)
	dstAdj.Incoming.Upsert(Neighbor{EdgeID: id, Label: label, OtherID: src})

	return e.Clone(), entry, nil
}

// createEdgeReplay is createVertexReplay's edge counterpart, used by
// recovery.go to replay a DeltaCreateEdge record at its original id. It
// skips createEdge's endpoint-existence check: by the time the WAL is
// replayed forward the endpoints were already recreated by their own
// earlier DeltaCreateVertex records (§4.8 step 4 replays in log order).
func (s *GraphStore) createEdgeReplay(txn *Transaction, id EdgeId, label LabelId, src, dst VertexId, props PropertyRecord) *UndoEntry {
	e := &Edge{ID: id, Src: src, Dst: dst, Label: label, Properties: props.Clone()}
	chain := newEdgeChain(e, txn.TxnID)
	entry := &UndoEntry{TxnID: txn.TxnID, Delta: DeltaOp{
		Kind: DeltaCreateEdge, EdgeID: id, EdgeSrc: src, EdgeDst: dst, EdgeLabel: label, EdgeProps: props.Clone(),
	}}
	chain.undo = weak.Make(entry)
	s.edges.Set(uint64(id), chain)

	srcAdj, _ := s.adjacency.GetOrSet(uint64(src), newAdjacencyContainer)
	srcAdj.Outgoing.Upsert(Neighbor{EdgeID: id, Label: label, OtherID: dst})
	dstAdj, _ := s.adjacency.GetOrSet(uint64(dst), newAdjacencyContainer)
	dstAdj.Incoming.Upsert(Neighbor{EdgeID: id, Label: label, OtherID: src})

	s.SetNextIDs(0, uint64(id)+1)
	return entry
}

func (s *GraphStore) edgeChain(id EdgeId) (*VersionChain, bool) {
	return s.edges.Get(uint64(id))
}

func (s *GraphStore) getEdge(txn *Transaction, id EdgeId) (*Edge, error) {
	chain, ok := s.edgeChain(id)
	if !ok {
		return nil, newErr(KindNotFound, "getEdge", ErrEdgeNotFound)
	}
	cur, undo := chain.snapshot()
	if visible(cur.commitTS, txn) {
		if cur.edge.Tombstoned() {
			return nil, newErr(KindNotFound, "getEdge", ErrEdgeNotFound)
		}
		return cur.edge.Clone(), nil
	}
	for e := undo; e != nil; {
		if visible(e.PrevValue.commitTS, txn) {
			if e.PrevValue.edge == nil || e.PrevValue.edge.Tombstoned() {
				return nil, newErr(KindNotFound, "getEdge", ErrEdgeNotFound)
			}
			return e.PrevValue.edge.Clone(), nil
		}
		e = e.next.Value()
	}
	return nil, newErr(KindNotFound, "getEdge", ErrEdgeNotFound)
}

func (s *GraphStore) setEdgeProperties(txn *Transaction, id EdgeId, indices []int, values []Value) (*Edge, *UndoEntry, error) {
	chain, ok := s.edgeChain(id)
	if !ok {
		return nil, nil, newErr(KindNotFound, "setEdgeProperties", ErrEdgeNotFound)
	}
	var result *Edge
	entry, err := chain.tryWrite(txn.TxnID,
		func(cur entityValue) error {
			if cur.edge.Tombstoned() {
				return newErr(KindNotFound, "setEdgeProperties", ErrEdgeNotFound)
			}
			return writeConflict(cur, txn)
		},
		func(cur entityValue) (entityValue, DeltaOp) {
			oldProps := cur.edge.Properties.Clone()
			newProps := oldProps.Clone()
			for i, idx := range indices {
				newProps[idx] = values[i]
			}
			ne := &Edge{ID: cur.edge.ID, Src: cur.edge.Src, Dst: cur.edge.Dst, Label: cur.edge.Label, Properties: newProps}
			result = ne.Clone()
			delta := DeltaOp{Kind: DeltaSetEdgeProps, EdgeID: id, PropIndices: indices, OldEdgeVal: oldProps, NewEdgeVal: newProps}
			return entityValue{edge: ne, commitTS: txn.TxnID}, delta
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return result, entry, nil
}

func (s *GraphStore) deleteEdge(txn *Transaction, id EdgeId) (*UndoEntry, error) {
	chain, ok := s.edgeChain(id)
	if !ok {
		return nil, newErr(KindNotFound, "deleteEdge", ErrEdgeNotFound)
	}
	return chain.tryWrite(txn.TxnID,
		func(cur entityValue) error {
			if cur.edge.Tombstoned() {
				return newErr(KindNotFound, "deleteEdge", ErrEdgeNotFound)
			}
			return writeConflict(cur, txn)
		},
		func(cur entityValue) (entityValue, DeltaOp) {
			ne := cur.edge.Clone()
			ne.tombstone = true
			delta := DeltaOp{Kind: DeltaDeleteEdge, EdgeID: id}
			return entityValue{edge: ne, commitTS: txn.TxnID}, delta
		},
	)
}

// --- Undo application (abort) -------------------------------------------

// undoOne reverses a single UndoEntry, used both by Transaction.Abort
// (newest-first) and, indirectly, by nothing else: commit never calls
// this, it only restamps commit timestamps (see manager.go).
func (s *GraphStore) undoOne(entry *UndoEntry) {
	switch entry.Delta.Kind {
	case DeltaCreateVertex:
		s.vertices.Delete(uint64(entry.Delta.VertexID))
		s.adjacency.Delete(uint64(entry.Delta.VertexID))
	case DeltaCreateEdge:
		s.edges.Delete(uint64(entry.Delta.EdgeID))
		s.detachEdgeAdjacency(entry.Delta)
	case DeltaDeleteVertex, DeltaSetVertexProps:
		if chain, ok := s.vertexChain(entry.Delta.VertexID); ok {
			chain.restoreTo(entry.PrevValue, entry.next)
		}
	case DeltaDeleteEdge, DeltaSetEdgeProps:
		if chain, ok := s.edgeChain(entry.Delta.EdgeID); ok {
			chain.restoreTo(entry.PrevValue, entry.next)
		}
	}
}

func (s *GraphStore) detachEdgeAdjacency(d DeltaOp) {
	if srcAdj, ok := s.adjacency.Get(uint64(d.EdgeSrc)); ok {
		srcAdj.Outgoing.Delete(d.EdgeID)
	}
	if dstAdj, ok := s.adjacency.Get(uint64(d.EdgeDst)); ok {
		dstAdj.Incoming.Delete(d.EdgeID)
	}
}

// reapNeighbor physically removes the adjacency entries for a tombstoned
// edge from both endpoints, cascading the way the original source's GC
// step does (§A.3): called once the edge's version chain itself is
// reclaimed, not at logical-delete time, so that snapshots predating the
// delete can keep walking the adjacency index until their watermark
// passes.
func (s *GraphStore) reapNeighbor(edgeID EdgeId, src, dst VertexId) {
	if srcAdj, ok := s.adjacency.Get(uint64(src)); ok {
		srcAdj.Outgoing.Delete(edgeID)
	}
	if dstAdj, ok := s.adjacency.Get(uint64(dst)); ok {
		dstAdj.Incoming.Delete(edgeID)
	}
}

func (s *GraphStore) adjacencyFor(id VertexId) (*AdjacencyContainer, bool) {
	return s.adjacency.Get(uint64(id))
}

// --- Checkpoint snapshot / restore ---------------------------------------

// VertexSnapshot pairs a live vertex with the commit timestamp its current
// version was installed at, the unit CheckpointManager serializes.
type VertexSnapshot struct {
	Vertex   *Vertex
	CommitTS Timestamp
}

// EdgeSnapshot is VertexSnapshot's edge counterpart.
type EdgeSnapshot struct {
	Edge     *Edge
	CommitTS Timestamp
}

// SnapshotVertices returns every vertex whose current version is a
// committed, non-tombstone value, the "dump of all live vertex current
// versions" §4.7 asks a checkpoint to contain. An entity whose current
// version is still provisional (owned by an in-flight transaction) is
// omitted; that transaction's effects land in the checkpoint only if it
// commits before QuiesceForCheckpoint's snapshot instant, otherwise its
// WAL records replay it back in on recovery.
func (s *GraphStore) SnapshotVertices() []VertexSnapshot {
	var out []VertexSnapshot
	s.vertices.Range(func(_ uint64, chain *VersionChain) bool {
		cur, _ := chain.snapshot()
		if cur.vertex != nil && !cur.vertex.Tombstoned() && cur.commitTS.IsCommitTS() {
			out = append(out, VertexSnapshot{Vertex: cur.vertex.Clone(), CommitTS: cur.commitTS})
		}
		return true
	})
	return out
}

// SnapshotEdges is SnapshotVertices' edge counterpart.
func (s *GraphStore) SnapshotEdges() []EdgeSnapshot {
	var out []EdgeSnapshot
	s.edges.Range(func(_ uint64, chain *VersionChain) bool {
		cur, _ := chain.snapshot()
		if cur.edge != nil && !cur.edge.Tombstoned() && cur.commitTS.IsCommitTS() {
			out = append(out, EdgeSnapshot{Edge: cur.edge.Clone(), CommitTS: cur.commitTS})
		}
		return true
	})
	return out
}

// RestoreVertex installs a vertex loaded from a checkpoint as a fresh
// chain with no undo history: recovery runs before any transaction can
// hold a snapshot predating it, so there is nothing older to chain
// against. It also seeds an empty adjacency container so the edge
// restores that follow (checkpoints dump edges after vertices) have
// somewhere to attach.
func (s *GraphStore) RestoreVertex(v *Vertex, commitTS Timestamp) {
	s.vertices.Set(uint64(v.ID), newVertexChain(v, commitTS))
	s.adjacency.Set(uint64(v.ID), newAdjacencyContainer())
}

// RestoreEdge is RestoreVertex's edge counterpart; it also rebuilds both
// endpoints' adjacency entries, since a checkpoint's adjacency dump is
// optional (§4.7) and this engine always reconstructs it from edges
// instead of trusting a stored copy.
func (s *GraphStore) RestoreEdge(e *Edge, commitTS Timestamp) {
	s.edges.Set(uint64(e.ID), newEdgeChain(e, commitTS))
	srcAdj, _ := s.adjacency.GetOrSet(uint64(e.Src), newAdjacencyContainer)
	srcAdj.Outgoing.Upsert(Neighbor{EdgeID: e.ID, Label: e.Label, OtherID: e.Dst})
	dstAdj, _ := s.adjacency.GetOrSet(uint64(e.Dst), newAdjacencyContainer)
	dstAdj.Incoming.Upsert(Neighbor{EdgeID: e.ID, Label: e.Label, OtherID: e.Src})
}

// SetNextIDs raises the vertex/edge id allocators to at least the given
// values, called once after a checkpoint load so ids minted afterward
// never collide with restored entities (§4.8 step 2).
func (s *GraphStore) SetNextIDs(nextVertexID, nextEdgeID uint64) {
	for {
		cur := s.nextVertexID.Load()
		if nextVertexID <= cur || s.nextVertexID.CompareAndSwap(cur, nextVertexID) {
			break
		}
	}
	for {
		cur := s.nextEdgeID.Load()
		if nextEdgeID <= cur || s.nextEdgeID.CompareAndSwap(cur, nextEdgeID) {
			break
		}
	}
}

// AllVertices and AllEdges back the external iter_vertices/iter_edges
// operations (§6): every committed, non-tombstone entity visible to txn's
// snapshot, applying the same MVCC walk getVertex/getEdge use for a single
// id. Used by engine.go's VertexIterator/EdgeIterator.
func (s *GraphStore) AllVertices(txn *Transaction, fn func(*Vertex) bool) {
	var ids []uint64
	s.vertices.Range(func(id uint64, _ *VersionChain) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		v, err := s.getVertex(txn, VertexId(id))
		if err != nil {
			continue
		}
		if !fn(v) {
			return
		}
	}
}

func (s *GraphStore) AllEdges(txn *Transaction, fn func(*Edge) bool) {
	var ids []uint64
	s.edges.Range(func(id uint64, _ *VersionChain) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		e, err := s.getEdge(txn, EdgeId(id))
		if err != nil {
			continue
		}
		if !fn(e) {
			return
		}
	}
}
