package storage

import (
	"sync"
	"weak"
)

// DeltaKind tags the operation an UndoEntry can reverse.
type DeltaKind uint8

const (
	DeltaCreateVertex DeltaKind = iota
	DeltaDeleteVertex
	DeltaSetVertexProps
	DeltaCreateEdge
	DeltaDeleteEdge
	DeltaSetEdgeProps
)

// DeltaOp is the reversible description of one write, carried both by the
// in-memory UndoEntry chain and by the WAL's RedoEntry (§4.2, §4.3). The
// fields populated depend on Kind; unused fields are zero.
//
// Label changes are intentionally not representable here: §3 fixes a
// vertex's label at creation, so relabeling is always a delete+create
// pair rather than a third delta kind.
type DeltaOp struct {
	Kind DeltaKind `json:"kind"`

	// Vertex-shaped deltas. For DeltaSetVertexProps, OldVertexVal is the
	// pre-image (the spec's fixed "undo stores old values" semantics) and
	// NewVertexVal is the post-image the WAL replays forward during
	// recovery; both are the full property record rather than just the
	// touched slots; PropIndices records which slots changed.
	VertexID     VertexId       `json:"vertex_id,omitempty"`
	VertexLabel  LabelId        `json:"vertex_label,omitempty"`
	VertexProps  PropertyRecord `json:"vertex_props,omitempty"`
	PropIndices  []int          `json:"prop_indices,omitempty"`
	OldVertexVal PropertyRecord `json:"old_vertex_val,omitempty"`
	NewVertexVal PropertyRecord `json:"new_vertex_val,omitempty"`

	// Edge-shaped deltas; NewEdgeVal is EdgeProps' post-image counterpart.
	EdgeID     EdgeId         `json:"edge_id,omitempty"`
	EdgeSrc    VertexId       `json:"edge_src,omitempty"`
	EdgeDst    VertexId       `json:"edge_dst,omitempty"`
	EdgeLabel  LabelId        `json:"edge_label,omitempty"`
	EdgeProps  PropertyRecord `json:"edge_props,omitempty"`
	OldEdgeVal PropertyRecord `json:"old_edge_val,omitempty"`
	NewEdgeVal PropertyRecord `json:"new_edge_val,omitempty"`
}

// isVertex reports whether this delta targets a vertex chain rather than
// an edge chain, used by commit/abort to route to the right chain lookup.
func (d DeltaOp) isVertex() bool {
	switch d.Kind {
	case DeltaCreateVertex, DeltaDeleteVertex, DeltaSetVertexProps:
		return true
	default:
		return false
	}
}

// UndoEntry is one link of a version chain's undo history: the
// transaction that produced it, the reversible delta, and a weak
// reference to the next-older entry. The chain holding a weak reference
// (rather than a strong one) to its own history is what lets entries
// become collectible the instant nothing else needs them; the
// transactions that created them hold the strong references that keep
// them alive until the GC watermark passes them (§4.3, §9 "weak
// reference" design note — Go's runtime-level weak pointers are used here
// directly instead of an arena+generation workaround).
type UndoEntry struct {
	TxnID     Timestamp
	Delta     DeltaOp
	PrevValue entityValue // chain.current immediately before this write
	next      weak.Pointer[UndoEntry]
}

// entityValue is the (data, commit_ts) pair a VersionChain's "current"
// slot and each UndoEntry's prior-state snapshot hold.
type entityValue struct {
	vertex   *Vertex
	edge     *Edge
	commitTS Timestamp
}

// VersionChain is the mutable head of one entity's version history: the
// current (possibly uncommitted) state plus a weak pointer to the most
// recent UndoEntry, per §3/§4.3.
type VersionChain struct {
	mu      sync.RWMutex
	current entityValue
	undo    weak.Pointer[UndoEntry]
}

func newVertexChain(v *Vertex, commitTS Timestamp) *VersionChain {
	return &VersionChain{current: entityValue{vertex: v, commitTS: commitTS}}
}

func newEdgeChain(e *Edge, commitTS Timestamp) *VersionChain {
	return &VersionChain{current: entityValue{edge: e, commitTS: commitTS}}
}

// snapshot returns the current (data, commit_ts) pair and the undo chain
// head under the chain's read lock, for the MVCC read walk in txn.go.
func (vc *VersionChain) snapshot() (entityValue, *UndoEntry) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.current, vc.undo.Value()
}

// tryWrite runs validate against the chain's current value while holding
// the chain's write lock, and on success atomically installs the value
// build produces, linking a new UndoEntry in front of the prior undo
// chain. Folding validate+apply into one critical section is what makes
// the write-write conflict check in §4.3 race-free: nothing can observe
// or change "current" between the check and the write.
func (vc *VersionChain) tryWrite(
	txnID Timestamp,
	validate func(current entityValue) error,
	build func(current entityValue) (entityValue, DeltaOp),
) (*UndoEntry, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if err := validate(vc.current); err != nil {
		return nil, err
	}
	newVal, delta := build(vc.current)
	entry := &UndoEntry{
		TxnID:     txnID,
		Delta:     delta,
		PrevValue: vc.current,
		next:      vc.undo,
	}
	vc.current = newVal
	vc.undo = weak.Make(entry)
	return entry, nil
}

// restoreTo swings the chain back to prior and its undo pointer back to
// olderUndo, the state the chain was in immediately before entry was
// prepended. Called on abort.
func (vc *VersionChain) restoreTo(prior entityValue, olderUndo weak.Pointer[UndoEntry]) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.current = prior
	vc.undo = olderUndo
}

// stampCommitTS overwrites the chain's current commit timestamp, used at
// commit time to replace the provisional txn-id stamp with the real
// commit timestamp (§4.4 step 5).
func (vc *VersionChain) stampCommitTS(ts Timestamp) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.current.commitTS = ts
}
