package storage

import "fmt"

// VertexId identifies a vertex for the lifetime of the graph it belongs to.
// Ids are never reused, even after the vertex is garbage collected.
type VertexId uint64

// EdgeId identifies an edge the same way VertexId identifies a vertex.
type EdgeId uint64

// LabelId is an opaque handle minted by the external catalog collaborator
// (see pkg/catalog) for a label/type name. The storage engine never
// interprets label names itself, only ids.
type LabelId uint32

func (v VertexId) String() string { return fmt.Sprintf("v%d", uint64(v)) }
func (e EdgeId) String() string   { return fmt.Sprintf("e%d", uint64(e)) }
func (l LabelId) String() string  { return fmt.Sprintf("l%d", uint32(l)) }
