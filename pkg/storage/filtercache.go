package storage

import "github.com/dgraph-io/ristretto/v2"

// filterCacheCost is the admission cost charged per cached mask,
// independent of how many ids it admits; callers that build very large
// masks are expected to weigh that into maxCost when sizing the cache,
// not per-entry.
const filterCacheCost = 1

// FilterCache is an admission-counted cache of computed FilterMask
// values, keyed by a caller-supplied signature (typically a hash of the
// predicate plus the snapshot timestamp it was evaluated against). A
// vector index component recomputing the same pre-filter across repeated
// similar ANN queries can skip straight to a cached mask instead of
// re-walking the graph.
type FilterCache struct {
	rc *ristretto.Cache[string, FilterMask]
}

// NewFilterCache builds a cache able to hold roughly maxEntries masks,
// using ristretto's TinyLFU admission policy so a burst of one-off
// signatures can't evict a working set of frequently reused masks.
func NewFilterCache(maxEntries int64) (*FilterCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, FilterMask]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, newErr(KindDurabilityError, "NewFilterCache", err)
	}
	return &FilterCache{rc: rc}, nil
}

// Get returns the cached mask for signature, if present and not since
// evicted.
func (fc *FilterCache) Get(signature string) (FilterMask, bool) {
	return fc.rc.Get(signature)
}

// Put caches mask under signature. Wait blocks until the set has been
// applied, which keeps tests (and callers that immediately Get what they
// just Put) deterministic; ristretto's admission pipeline is otherwise
// asynchronous.
func (fc *FilterCache) Put(signature string, mask FilterMask) {
	fc.rc.Set(signature, mask, filterCacheCost)
	fc.rc.Wait()
}

// Close releases the cache's background goroutines.
func (fc *FilterCache) Close() { fc.rc.Close() }
