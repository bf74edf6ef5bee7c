// Package catalog sits between the storage engine and the external
// catalog collaborator described in the storage engine's component
// design: the service of record for label/type names and their
// catalog-assigned property schemas. The storage engine never interprets
// label names itself (§3, §6); it only ever holds the opaque LabelId the
// catalog minted.
//
// This package does not implement a catalog. It implements a
// process-restart-surviving cache in front of one, backed by Badger, so
// that repeatedly resolving the same label name doesn't round-trip to
// the external catalog (which may be a separate service or process) on
// every vertex/edge creation.
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/minigu-project/storage/pkg/cache"
	"github.com/minigu-project/storage/pkg/storage"
)

// Resolver is the external catalog collaborator's interface as seen by
// the storage engine: mint-or-fetch a LabelId for a name, and look a name
// back up from an id. The real implementation lives outside this
// repository (§1 Non-goals: "the catalog" is an external collaborator).
type Resolver interface {
	ResolveLabel(name string) (uint32, error)
	LabelName(id uint32) (string, error)
}

var ErrUnknownLabel = errors.New("catalog: unknown label id")

var (
	nameKeyPrefix = []byte("n:")
	idKeyPrefix   = []byte("i:")
)

// Cache is a Badger-backed, in-memory-fronted memoization of a Resolver.
// It is safe for concurrent use.
type Cache struct {
	db       *badger.DB
	mem      *cache.LabelCache
	upstream Resolver

	mintMu sync.Mutex // serializes upstream misses so two goroutines resolving the same new name don't both pay the upstream round trip
}

// Open opens (creating if necessary) a Badger store at dir to back the
// cache, wrapping upstream. memCacheSize bounds the in-memory LRU layer;
// pass 0 for a sensible default.
func Open(dir string, upstream Resolver, memCacheSize int) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open badger store at %s: %w", dir, err)
	}
	return &Cache{
		db:       db,
		mem:      cache.NewLabelCache(memCacheSize),
		upstream: upstream,
	}, nil
}

func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: close badger store: %w", err)
	}
	return nil
}

// ResolveLabel returns the LabelId for name, checking the in-memory LRU,
// then the persistent store, and only falling through to the external
// catalog on a full miss. A fresh resolution is written back to both
// cache layers before returning.
func (c *Cache) ResolveLabel(name string) (storage.LabelId, error) {
	if id, ok := c.mem.LookupID(name); ok {
		return storage.LabelId(id), nil
	}

	var found uint32
	hit := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nameKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			found = binary.BigEndian.Uint32(val)
			hit = true
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: read label %q: %w", name, err)
	}
	if hit {
		c.mem.Put(name, found)
		return storage.LabelId(found), nil
	}

	c.mintMu.Lock()
	defer c.mintMu.Unlock()

	// Re-check now that we hold the mint lock: another goroutine may
	// have already resolved and persisted this name while we were
	// waiting.
	if id, ok := c.mem.LookupID(name); ok {
		return storage.LabelId(id), nil
	}

	id, err := c.upstream.ResolveLabel(name)
	if err != nil {
		return 0, fmt.Errorf("catalog: upstream resolve %q: %w", name, err)
	}
	if err := c.persist(name, id); err != nil {
		return 0, err
	}
	c.mem.Put(name, id)
	return storage.LabelId(id), nil
}

// LabelName is the inverse of ResolveLabel.
func (c *Cache) LabelName(id storage.LabelId) (string, error) {
	if name, ok := c.mem.LookupName(uint32(id)); ok {
		return name, nil
	}

	var found string
	hit := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(uint32(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			found = string(val)
			hit = true
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("catalog: read label id %d: %w", id, err)
	}
	if !hit {
		name, err := c.upstream.LabelName(uint32(id))
		if err != nil {
			return "", fmt.Errorf("catalog: upstream lookup %d: %w", id, err)
		}
		if err := c.persist(name, uint32(id)); err != nil {
			return "", err
		}
		found = name
	}
	c.mem.Put(found, uint32(id))
	return found, nil
}

func (c *Cache) persist(name string, id uint32) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nameKey(name), idValue(id)); err != nil {
			return err
		}
		return txn.Set(idKey(id), []byte(name))
	})
	if err != nil {
		return fmt.Errorf("catalog: persist %q=%d: %w", name, id, err)
	}
	return nil
}

func nameKey(name string) []byte {
	return append(append([]byte{}, nameKeyPrefix...), name...)
}

func idKey(id uint32) []byte {
	buf := make([]byte, len(idKeyPrefix)+4)
	copy(buf, idKeyPrefix)
	binary.BigEndian.PutUint32(buf[len(idKeyPrefix):], id)
	return buf
}

func idValue(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}
