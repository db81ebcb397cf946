// Package backend implements the transactional object store: the only
// component permitted to touch pkg/storage directly (§4.1). It composes
// pkg/cache in front of pkg/storage, resolves filters via pkg/idl set
// algebra (resolve.go), and maintains every posting list and functional
// index as a side effect of create/modify/delete (index.go).
package backend

import (
	"sync"

	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/idl"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
)

// Backend is the public txn interface over the durable store. Reads are
// multi-reader and wait-free against the last committed state; writes take
// writeMu, matching §5's "write is exclusive" concurrency model.
type Backend struct {
	store   storage.Store
	cache   *cache.Cache
	writeMu sync.Mutex
}

// New wraps store with a cache built from cfg.
func New(store storage.Store, cfg cache.Config) *Backend {
	return &Backend{store: store, cache: cache.New(cfg)}
}

// Stats reports the live entry count and the cache's current occupancy,
// the numbers pkg/metrics' collector polls on its tick.
func (b *Backend) Stats() (entryCount int, cacheStats cache.Stats, err error) {
	entryCount, err = b.store.EntryCount()
	return entryCount, b.cache.Stats(), err
}

// ResolveName looks up name in the name2uuid functional index, the lookup
// pkg/server.CloneValue uses to turn a bare name into a reference uuid
// without a full filtered search.
func (b *Backend) ResolveName(name string) (value.Value, bool, error) {
	u, found, err := b.store.GetName2UUID(value.Normalise(value.NewUTF8Insensitive(name)))
	if err != nil || !found {
		return value.Value{}, false, err
	}
	return value.NewUUID(u), true, nil
}

func (b *Backend) fetchEntry(id types.EntryID) (*entry.Entry, error) {
	if e, ok := b.cache.GetEntry(id); ok {
		return e.Clone(), nil
	}
	e, found, err := b.store.GetEntry(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	b.cache.PutEntry(e)
	return e.Clone(), nil
}

// Search resolves filter against schema and returns every matching entry
// (§4.1 search).
func (b *Backend) Search(sch *schema.Schema, f *filter.Filter) ([]*entry.Entry, error) {
	res, err := b.Resolve(sch, f)
	if err != nil {
		return nil, err
	}

	if res.Variant == idl.VariantAllIDs {
		var out []*entry.Entry
		err := b.store.ForEachEntry(func(e *entry.Entry) error {
			if filter.Matches(f, e) {
				out = append(out, e.Clone())
			}
			return nil
		})
		return out, err
	}

	ids := res.IDL.ToSlice()
	out := make([]*entry.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := b.fetchEntry(id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if res.NeedsPostFilter() && !filter.Matches(f, e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Exists resolves filter only; it never fetches entries (§4.1 exists). For
// a Partial or ALLIDS resolution this is necessarily an over-approximation:
// exists() is cheap-and-resolve-only, not exact.
func (b *Backend) Exists(sch *schema.Schema, f *filter.Filter) (bool, error) {
	res, err := b.Resolve(sch, f)
	if err != nil {
		return false, err
	}
	switch res.Variant {
	case idl.VariantAllIDs:
		n, err := b.store.EntryCount()
		return n > 0, err
	default:
		return !res.IDL.IsEmpty(), nil
	}
}

// idlWrite is one posting-list write staged during a batch. Callers apply
// it to the cache only after the storage transaction that made it durable
// has returned nil (§4.1 commit ordering: "commit storage first, then
// caches") — never inside the WriteTxn closure, since a later error in the
// same batch rolls storage back but cannot roll back an already-applied
// cache mutation.
type idlWrite struct {
	key    cache.IdlKey
	bitmap *idl.IDLBitRange
}

// stagedIDL returns the posting list for t as this batch has left it so
// far: the latest write staged in pending, else the committed one.
func (b *Backend) stagedIDL(pending []idlWrite, t idxTriple) (*idl.IDLBitRange, bool) {
	for i := len(pending) - 1; i >= 0; i-- {
		if k := pending[i].key; k.Attr == t.Attr && k.Type == t.Type && k.Key == t.Key {
			return pending[i].bitmap, true
		}
	}
	return b.lookupIDL(t.Attr, t.Type, t.Key)
}

// indexInsert adds e.ID to every posting list e's values contribute,
// writing each through txn and staging the cache-side update into pending
// for the caller to apply once the whole batch commits.
func (b *Backend) indexInsert(txn storage.Txn, sch *schema.Schema, e *entry.Entry, pending *[]idlWrite) error {
	for triple := range entryIndexKeys(sch, e) {
		bm, _ := b.stagedIDL(*pending, triple)
		if bm == nil {
			bm = idl.New()
		} else {
			bm = bm.Clone()
		}
		bm.Insert(e.ID)
		if err := txn.PutIDL(triple.Attr, triple.Type, triple.Key, bm); err != nil {
			return err
		}
		*pending = append(*pending, idlWrite{key: cache.IdlKey{Attr: triple.Attr, Type: triple.Type, Key: triple.Key}, bitmap: bm})
	}
	return nil
}

// indexRemove removes e.ID from every posting list e's values contribute,
// staging the cache-side update into pending the same way indexInsert does.
func (b *Backend) indexRemove(txn storage.Txn, sch *schema.Schema, e *entry.Entry, pending *[]idlWrite) error {
	for triple := range entryIndexKeys(sch, e) {
		bm, ok := b.stagedIDL(*pending, triple)
		if !ok {
			continue
		}
		bm = bm.Clone()
		bm.Remove(e.ID)
		if err := txn.PutIDL(triple.Attr, triple.Type, triple.Key, bm); err != nil {
			return err
		}
		*pending = append(*pending, idlWrite{key: cache.IdlKey{Attr: triple.Attr, Type: triple.Type, Key: triple.Key}, bitmap: bm})
	}
	return nil
}

// applyIdlWrites pushes staged posting-list updates into the cache. Call
// only after the storage transaction that produced them has committed.
func (b *Backend) applyIdlWrites(pending []idlWrite) {
	for _, w := range pending {
		b.cache.PutIDL(w.key, w.bitmap)
	}
}

func (b *Backend) maintainName(txn storage.Txn, old, neu *entry.Entry) error {
	oldName, oldHas := "", false
	if old != nil {
		if v, ok := old.GetOne("name"); ok {
			oldName, oldHas = value.Normalise(v), true
		}
	}
	newName, newHas := "", false
	if neu != nil {
		if v, ok := neu.GetOne("name"); ok {
			newName, newHas = value.Normalise(v), true
		}
	}
	if oldHas && (!newHas || oldName != newName) {
		if err := txn.DeleteName2UUID(oldName); err != nil {
			return err
		}
	}
	if newHas && (!oldHas || oldName != newName) {
		if err := txn.PutName2UUID(newName, neu.UUID()); err != nil {
			return err
		}
		if err := txn.PutUUID2Name(neu.UUID(), newName); err != nil {
			return err
		}
	}
	return nil
}

// Create assigns ids to candidates (each must already be Sealed) and
// writes id2entry rows, posting lists, and name indexes for all of them in
// one storage transaction (§4.1 create, §8 property 8 no-partial-commit).
func (b *Backend) Create(sch *schema.Schema, candidates []*entry.Entry) ([]*entry.Entry, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	committed := make([]*entry.Entry, len(candidates))
	var pending []idlWrite
	err := b.store.WriteTxn(func(txn storage.Txn) error {
		for i, cand := range candidates {
			id, err := txn.NextEntryID()
			if err != nil {
				return err
			}
			c, err := cand.Commit(id)
			if err != nil {
				return err
			}
			if err := txn.PutEntry(id, c); err != nil {
				return err
			}
			if err := b.indexInsert(txn, sch, c, &pending); err != nil {
				return err
			}
			if err := b.maintainName(txn, nil, c); err != nil {
				return err
			}
			committed[i] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.applyIdlWrites(pending)
	for _, c := range committed {
		b.cache.PutEntry(c)
		log.WithEntryID(c.ID).Debug().Str("uuid", c.UUID().String()).Msg("entry created")
	}
	return committed, nil
}

// ModifyPair is one (pre, post) candidate for Modify: pre is the entry as
// currently committed, post is the sealed replacement.
type ModifyPair struct {
	Pre  *entry.Entry
	Post *entry.Entry
}

// Modify applies every (pre,post) pair's index delta and replaces its
// id2entry row, atomically across the whole batch (§4.1 modify).
func (b *Backend) Modify(sch *schema.Schema, pairs []ModifyPair) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var pending []idlWrite
	err := b.store.WriteTxn(func(txn storage.Txn) error {
		for _, p := range pairs {
			if p.Pre.ID != p.Post.ID {
				return kerr.ErrInvalidDBState
			}
			if err := b.indexRemove(txn, sch, p.Pre, &pending); err != nil {
				return err
			}
			if err := b.indexInsert(txn, sch, p.Post, &pending); err != nil {
				return err
			}
			if err := b.maintainName(txn, p.Pre, p.Post); err != nil {
				return err
			}
			if err := txn.PutEntry(p.Post.ID, p.Post); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.applyIdlWrites(pending)
	for _, p := range pairs {
		b.cache.PutEntry(p.Post)
	}
	return nil
}

// Delete removes entries' id2entry rows and every index entry derived
// from them (§4.1 delete).
func (b *Backend) Delete(sch *schema.Schema, entries []*entry.Entry) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var pending []idlWrite
	err := b.store.WriteTxn(func(txn storage.Txn) error {
		for _, e := range entries {
			if err := b.indexRemove(txn, sch, e, &pending); err != nil {
				return err
			}
			if err := b.maintainName(txn, e, nil); err != nil {
				return err
			}
			if err := txn.DeleteEntry(e.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.applyIdlWrites(pending)
	for _, e := range entries {
		b.cache.InvalidateEntry(e.ID)
		log.WithUUID(e.UUID().String()).Debug().Uint64("entry_id", e.ID).Msg("entry removed from id2entry")
	}
	return nil
}

// Reindex drops every posting list and re-derives it from the current
// id2entry contents (§4.1 reindex).
func (b *Backend) Reindex(sch *schema.Schema) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	buckets, err := b.store.ListIndexBuckets()
	if err != nil {
		return err
	}

	err = b.store.WriteTxn(func(txn storage.Txn) error {
		for _, bk := range buckets {
			if err := txn.DropIndexBucket(bk.Attr, bk.Type); err != nil {
				return err
			}
		}
		accum := map[idxTriple]*idl.IDLBitRange{}
		scanErr := b.store.ForEachEntry(func(e *entry.Entry) error {
			for triple := range entryIndexKeys(sch, e) {
				bm, ok := accum[triple]
				if !ok {
					bm = idl.New()
					accum[triple] = bm
				}
				bm.Insert(e.ID)
			}
			return nil
		})
		if scanErr != nil {
			return scanErr
		}
		for triple, bm := range accum {
			if err := txn.PutIDL(triple.Attr, triple.Type, triple.Key, bm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.cache.Flush()
	return nil
}

// Verify cross-checks every posting list against a scan of id2entry and
// reports every divergence found (§4.1 verify), rather than stopping at
// the first one.
func (b *Backend) Verify(sch *schema.Schema) (kerr.ConsistencyErrors, error) {
	var errs kerr.ConsistencyErrors

	expected := map[idxTriple]map[types.EntryID]bool{}
	err := b.store.ForEachEntry(func(e *entry.Entry) error {
		for triple := range entryIndexKeys(sch, e) {
			if expected[triple] == nil {
				expected[triple] = map[types.EntryID]bool{}
			}
			expected[triple][e.ID] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ik := range sch.IdxMeta() {
		seen := map[string]bool{}
		err := b.store.ForEachIDL(ik.Attr, ik.Type, func(key string, bm *idl.IDLBitRange) error {
			seen[key] = true
			want := expected[idxTriple{Attr: ik.Attr, Type: ik.Type, Key: key}]
			for _, id := range bm.ToSlice() {
				if !want[id] {
					errs = append(errs, kerr.ConsistencyError{Component: "index", Detail: "stale posting for " + ik.Attr})
				}
			}
			for id := range want {
				if !bm.Contains(id) {
					errs = append(errs, kerr.ConsistencyError{Component: "index", Detail: "missing posting for " + ik.Attr})
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for triple := range expected {
			if triple.Attr != ik.Attr || triple.Type != ik.Type {
				continue
			}
			if !seen[triple.Key] {
				errs = append(errs, kerr.ConsistencyError{Component: "index", Detail: "missing posting list for " + ik.Attr + "/" + triple.Key})
			}
		}
	}
	return errs, nil
}
