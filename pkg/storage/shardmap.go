package storage

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// defaultShardCount governs how many independent buckets each sharded map
// splits its keys across. A fixed power of two keeps the mod-by-shardCount
// in shardFor a mask, and 64 is generous enough that a single
// GraphHandle's vertex/edge maps don't bottleneck on bucket-lock
// contention under the concurrency levels a single process realistically
// drives.
const defaultShardCount = 64

type idShardedMap[V any] struct {
	shards []*idMapShard[V]
	mask   uint64
}

type idMapShard[V any] struct {
	mu sync.RWMutex
	m  map[uint64]V
}

func newIDShardedMap[V any]() *idShardedMap[V] {
	sm := &idShardedMap[V]{
		shards: make([]*idMapShard[V], defaultShardCount),
		mask:   uint64(defaultShardCount - 1),
	}
	for i := range sm.shards {
		sm.shards[i] = &idMapShard[V]{m: make(map[uint64]V)}
	}
	return sm
}

func (sm *idShardedMap[V]) shardFor(id uint64) *idMapShard[V] {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return sm.shards[xxhash.Sum64(buf[:])&sm.mask]
}

func (sm *idShardedMap[V]) Get(id uint64) (V, bool) {
	s := sm.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[id]
	return v, ok
}

func (sm *idShardedMap[V]) Set(id uint64, v V) {
	s := sm.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = v
}

// GetOrSet returns the existing value for id if present, otherwise stores
// and returns make(). Returns loaded=true if an existing value was found.
func (sm *idShardedMap[V]) GetOrSet(id uint64, make func() V) (v V, loaded bool) {
	s := sm.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[id]; ok {
		return existing, true
	}
	nv := make()
	s.m[id] = nv
	return nv, false
}

func (sm *idShardedMap[V]) Delete(id uint64) {
	s := sm.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (sm *idShardedMap[V]) Len() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry across all shards. fn must not call back
// into the map; Range holds each shard's read lock only for the duration
// of its own iteration, so entries can be added/removed in shards not
// currently being visited.
func (sm *idShardedMap[V]) Range(fn func(id uint64, v V) bool) {
	for _, s := range sm.shards {
		s.mu.RLock()
		cont := true
		for id, v := range s.m {
			if !fn(id, v) {
				cont = false
				break
			}
		}
		s.mu.RUnlock()
		if !cont {
			return
		}
	}
}
