package storage

import "fmt"

// ValueKind tags the scalar or vector payload a Value carries. Every
// Value is self-describing: the kind travels with the data through the
// WAL and through checkpoints, so a reader never has to consult external
// schema to decode one.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt64
	ValueUint64
	ValueFloat64
	ValueString
	ValueVertexRef
	ValueEdgeRef
	ValueVector
)

// Value is a single property value. Exactly one of the typed fields is
// meaningful, selected by Kind; the rest are zero. This is kept as a flat
// struct rather than an interface{} so JSON encode/decode round-trips
// without losing integer precision the way decoding into interface{}
// would (JSON numbers decode to float64 unless the destination field has
// a concrete numeric type).
type Value struct {
	Kind   ValueKind `json:"k"`
	Bool   bool      `json:"b,omitempty"`
	Int    int64     `json:"i,omitempty"`
	Uint   uint64    `json:"u,omitempty"`
	Float  float64   `json:"f,omitempty"`
	Str    string    `json:"s,omitempty"`
	Ref    uint64    `json:"r,omitempty"`
	Vector []float32 `json:"v,omitempty"`
}

func NullValue() Value             { return Value{Kind: ValueNull} }
func BoolValue(b bool) Value       { return Value{Kind: ValueBool, Bool: b} }
func Int64Value(i int64) Value     { return Value{Kind: ValueInt64, Int: i} }
func Uint64Value(u uint64) Value   { return Value{Kind: ValueUint64, Uint: u} }
func Float64Value(f float64) Value { return Value{Kind: ValueFloat64, Float: f} }
func StringValue(s string) Value   { return Value{Kind: ValueString, Str: s} }
func VertexRefValue(v VertexId) Value {
	return Value{Kind: ValueVertexRef, Ref: uint64(v)}
}
func EdgeRefValue(e EdgeId) Value { return Value{Kind: ValueEdgeRef, Ref: uint64(e)} }
func VectorValue(v []float32) Value {
	cp := make([]float32, len(v))
	copy(cp, v)
	return Value{Kind: ValueVector, Vector: cp}
}

// SameType reports whether v and other carry the same ValueKind.
// SetVertexProperties/SetEdgeProperties do not call it: they accept a
// value of any kind in any PropertyRecord slot.
func (v Value) SameType(other Value) bool { return v.Kind == other.Kind }

func (v Value) clone() Value {
	if v.Kind != ValueVector || v.Vector == nil {
		return v
	}
	cp := v
	cp.Vector = make([]float32, len(v.Vector))
	copy(cp.Vector, v.Vector)
	return cp
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueInt64:
		return fmt.Sprintf("%d", v.Int)
	case ValueUint64:
		return fmt.Sprintf("%d", v.Uint)
	case ValueFloat64:
		return fmt.Sprintf("%g", v.Float)
	case ValueString:
		return v.Str
	case ValueVertexRef:
		return VertexId(v.Ref).String()
	case ValueEdgeRef:
		return EdgeId(v.Ref).String()
	case ValueVector:
		return fmt.Sprintf("vector[%d]", len(v.Vector))
	default:
		return "?"
	}
}

// PropertyRecord is a fixed-layout row of property values. The index of a
// value within the slice is its property slot, assigned by the external
// catalog collaborator (§3, §6) and stable for the lifetime of the label.
type PropertyRecord []Value

// Clone performs the defensive copy required by the MVCC read protocol
// (§4.3): every value handed back to a caller is independent of whatever
// storage still holds, so later in-place mutation of storage can never be
// observed through a previously returned PropertyRecord.
func (p PropertyRecord) Clone() PropertyRecord {
	if p == nil {
		return nil
	}
	out := make(PropertyRecord, len(p))
	for i, v := range p {
		out[i] = v.clone()
	}
	return out
}

