package storage

// Direction selects which side of a vertex's adjacency an iteration walks.
type Direction uint8

const (
	DirOutgoing Direction = iota
	DirIncoming
	DirBoth
)

// Vertex is the materialized, caller-visible form of a vertex at some
// snapshot. It is always a defensive copy; mutating it has no effect on
// storage.
type Vertex struct {
	ID         VertexId
	Label      LabelId
	Properties PropertyRecord
	tombstone  bool
}

func (v *Vertex) Tombstoned() bool { return v.tombstone }

func (v *Vertex) Clone() *Vertex {
	return &Vertex{
		ID:         v.ID,
		Label:      v.Label,
		Properties: v.Properties.Clone(),
		tombstone:  v.tombstone,
	}
}

// Edge is the materialized, caller-visible form of an edge at some
// snapshot, analogous to Vertex.
type Edge struct {
	ID         EdgeId
	Src        VertexId
	Dst        VertexId
	Label      LabelId
	Properties PropertyRecord
	tombstone  bool
}

func (e *Edge) Tombstoned() bool { return e.tombstone }

func (e *Edge) Clone() *Edge {
	return &Edge{
		ID:         e.ID,
		Src:        e.Src,
		Dst:        e.Dst,
		Label:      e.Label,
		Properties: e.Properties.Clone(),
		tombstone:  e.tombstone,
	}
}

// Neighbor is one entry of a vertex's adjacency list: the edge connecting
// it to the owning vertex, the label of that edge, and the vertex on the
// other end. Adjacency containers are keyed and ordered by EdgeID so that
// batched iteration (C7) has a stable cursor to resume from.
type Neighbor struct {
	EdgeID  EdgeId
	Label   LabelId
	OtherID VertexId
}

// AdjacencyContainer holds the outgoing and incoming adjacency indexes for
// a single vertex. Both sides are independent ordered sets; a self-loop
// appears once in each.
type AdjacencyContainer struct {
	Outgoing *neighborSkipList
	Incoming *neighborSkipList
}

func newAdjacencyContainer() *AdjacencyContainer {
	return &AdjacencyContainer{
		Outgoing: newNeighborSkipList(),
		Incoming: newNeighborSkipList(),
	}
}

func (a *AdjacencyContainer) sideFor(dir Direction) *neighborSkipList {
	if dir == DirIncoming {
		return a.Incoming
	}
	return a.Outgoing
}

func (a *AdjacencyContainer) empty() bool {
	return a.Outgoing.Len() == 0 && a.Incoming.Len() == 0
}
