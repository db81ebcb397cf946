// Package cache implements the copy-on-write, read-through/write-through
// front for the durable store: an entry cache keyed by entry id and a
// posting-list cache keyed by (attribute, index-type, key).
//
// Concurrent readers must never observe a half-applied writer. Here that
// guarantee comes from the backend's single-writer lock (pkg/backend)
// plus the commit-ordering rule this package enforces by construction:
// Cache has no "begin write txn" step at all — callers stage nothing;
// they call Put only after the storage write that makes a value durable
// has already succeeded, so a crash before that point leaves the cache
// exactly as it was (§4.1 commit ordering: "commit storage first, then
// caches").
package cache

import (
	"sync"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/idl"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
)

// Config sizes the two caches. These are tuning constants, not
// load-bearing contracts (§9 Open Questions): an operator may size them
// however fits the deployment's memory budget.
type Config struct {
	EntryCacheTarget int
	IDLCacheRatio    int
}

// DefaultConfig sizes the entry cache at 4096 entries and the idl cache at
// 16x that, giving a single-process deployment headroom without requiring
// any operator tuning out of the box.
func DefaultConfig() Config {
	return Config{EntryCacheTarget: 4096, IDLCacheRatio: 16}
}

// IdlKey identifies one posting list: the indexed attribute, its index
// type, and the normalised value key.
type IdlKey struct {
	Attr string
	Type value.IndexType
	Key  string
}

// Cache is the shared, single-writer-disciplined front for entries and
// posting lists.
type Cache struct {
	mu      sync.RWMutex
	entries *lru[types.EntryID, *entry.Entry]
	idls    *lru[IdlKey, *idl.IDLBitRange]
}

// New builds a Cache sized by cfg.
func New(cfg Config) *Cache {
	return &Cache{
		entries: newLRU[types.EntryID, *entry.Entry](cfg.EntryCacheTarget),
		idls:    newLRU[IdlKey, *idl.IDLBitRange](cfg.EntryCacheTarget * cfg.IDLCacheRatio),
	}
}

// GetEntry returns a cached sealed/committed entry by id.
func (c *Cache) GetEntry(id types.EntryID) (*entry.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.get(id)
}

// PutEntry inserts or replaces a cached entry. Callers must only call this
// after the entry has been durably written (or confirmed unchanged), never
// speculatively.
func (c *Cache) PutEntry(e *entry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.put(e.ID, e)
}

// InvalidateEntry drops id from the cache, used on delete (reindex uses
// Flush instead).
func (c *Cache) InvalidateEntry(id types.EntryID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.remove(id)
}

// GetIDL returns a cached posting list for key. A present-but-empty
// IDLBitRange is a legitimate cache hit (§4.1: "an empty posting-list
// write the cache stores an empty IDL rather than the sentinel missing").
func (c *Cache) GetIDL(key IdlKey) (*idl.IDLBitRange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idls.get(key)
}

// PutIDL inserts or replaces a cached posting list, including empty ones.
func (c *Cache) PutIDL(key IdlKey, bitmap *idl.IDLBitRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idls.put(key, bitmap)
}

// InvalidateIDL drops key from the idl cache.
func (c *Cache) InvalidateIDL(key IdlKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idls.remove(key)
}

// Flush empties both caches, used after reindex() rebuilds every index
// from scratch and any cached posting list would otherwise be stale.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.clear()
	c.idls.clear()
}

// Stats reports current occupancy, exposed for metrics (pkg/metrics).
type Stats struct {
	EntryCount int
	IDLCount   int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{EntryCount: c.entries.len(), IDLCount: c.idls.len()}
}
