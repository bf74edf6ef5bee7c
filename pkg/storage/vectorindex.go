package storage

// FilterMask is the storage engine's half of the ANN pre-filtering
// contract with the vector index component (C10). The vector index
// itself — embedding storage, the approximate nearest-neighbor index,
// and the search algorithm — is an external collaborator out of scope
// for this repository (§1 Non-goals); this engine only needs to let that
// collaborator ask "is this vertex currently a candidate?" without
// coupling to how the predicate was constructed.
type FilterMask interface {
	// Test reports whether id is admitted by the mask.
	Test(id VertexId) bool
	// Selectivity estimates the fraction of the population the mask
	// admits, in [0, 1]. A vector index implementation decides between
	// brute-force-filtered-scan and index-probe-then-filter using this
	// figure together with the engine's ann_selectivity_threshold
	// config knob (see ShouldBruteForceFilter).
	Selectivity() float64
}

// ShouldBruteForceFilter applies the heuristic a vector index is expected
// to use: above the configured threshold, enough of the population
// passes that scanning everything and testing the mask beats probing the
// ANN index and discarding misses.
func ShouldBruteForceFilter(mask FilterMask, threshold float64) bool {
	return mask.Selectivity() >= threshold
}

// BitsetFilterMask is a FilterMask backed by an explicit admitted-id set,
// the common case when the predicate was evaluated by materializing a
// result set of this engine's own vertices (e.g. "all vertices visible
// to transaction T with label Person").
type BitsetFilterMask struct {
	admitted   map[VertexId]struct{}
	population int
}

// NewBitsetFilterMask builds a mask admitting exactly ids, out of a
// population of the given total size (used only for Selectivity).
func NewBitsetFilterMask(ids []VertexId, population int) *BitsetFilterMask {
	m := make(map[VertexId]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &BitsetFilterMask{admitted: m, population: population}
}

func (b *BitsetFilterMask) Test(id VertexId) bool {
	_, ok := b.admitted[id]
	return ok
}

func (b *BitsetFilterMask) Selectivity() float64 {
	if b.population <= 0 {
		return 0
	}
	return float64(len(b.admitted)) / float64(b.population)
}
