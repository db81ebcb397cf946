package storage

import (
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/idl"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// IdxBucketKey names one on-disk posting-list bucket.
type IdxBucketKey struct {
	Attr string
	Type value.IndexType
}

// Txn is the write side of Store, scoped to a single underlying bbolt
// transaction. Every call a backend operation makes against a Txn commits
// or aborts together, which is what gives create/modify/delete/reindex
// their no-partial-commit guarantee (§8 property 8) — the backend layer
// does not need to hand-roll rollback bookkeeping of its own.
type Txn interface {
	NextEntryID() (types.EntryID, error)
	PutEntry(id types.EntryID, e *entry.Entry) error
	DeleteEntry(id types.EntryID) error

	PutIDL(attr string, itype value.IndexType, key string, bitmap *idl.IDLBitRange) error
	DeleteIDL(attr string, itype value.IndexType, key string) error
	DropIndexBucket(attr string, itype value.IndexType) error

	PutName2UUID(name string, id uuid.UUID) error
	DeleteName2UUID(name string) error
	PutUUID2Name(id uuid.UUID, name string) error
	DeleteUUID2Name(id uuid.UUID) error

	PutMeta(key string, val []byte) error
}

// Store is the durable key/value layer the backend builds its transactional
// object store on top of: id2entry, per-(attribute,index-type) posting
// lists, the name2uuid/uuid2name functional indexes, and a small metadata
// bucket (§2 "Durable KV" + "Indexed KV" rows, collapsed into one
// bucket-per-entity interface). Reads are individually transacted
// (wait-free against the last committed write); writes go through
// WriteTxn so a whole logical operation is atomic.
type Store interface {
	GetEntry(id types.EntryID) (*entry.Entry, bool, error)
	ForEachEntry(fn func(*entry.Entry) error) error
	EntryCount() (int, error)

	GetIDL(attr string, itype value.IndexType, key string) (*idl.IDLBitRange, bool, error)
	ForEachIDL(attr string, itype value.IndexType, fn func(key string, bitmap *idl.IDLBitRange) error) error
	ListIndexBuckets() ([]IdxBucketKey, error)

	GetName2UUID(name string) (uuid.UUID, bool, error)
	GetUUID2Name(id uuid.UUID) (string, bool, error)

	GetMeta(key string) ([]byte, bool, error)

	// WriteTxn runs fn against a single writable transaction. A non-nil
	// return from fn aborts the whole transaction; nothing fn did becomes
	// visible to readers.
	WriteTxn(fn func(Txn) error) error

	Close() error
}
