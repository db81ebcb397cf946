package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/idl"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketID2Entry  = []byte("id2entry")
	bucketName2UUID = []byte("name2uuid")
	bucketUUID2Name = []byte("uuid2name")
	bucketMeta      = []byte("db_meta")

	idxBucketPrefix = "idx_"
)

func idxBucketName(attr string, itype value.IndexType) []byte {
	return []byte(idxBucketPrefix + strings.ToLower(attr) + "_" + string(itype))
}

func entryKey(id types.EntryID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// BoltStore implements Store using a single bbolt file: id2entry, one
// idx_<attr>_<indextype> bucket per declared index, name2uuid, uuid2name,
// and db_meta, one bucket per entity.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt file under dataDir and
// ensures the fixed buckets exist. Index buckets are created lazily, on
// first write to that (attribute, index-type) pair, since the set of
// indexed attributes is schema-driven and not known up front.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketID2Entry, bucketName2UUID, bucketUUID2Name, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetEntry reads and decodes the entry stored under id.
func (s *BoltStore) GetEntry(id types.EntryID) (*entry.Entry, bool, error) {
	var e entry.Entry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketID2Entry).Get(entryKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return &e, true, nil
}

// ForEachEntry scans every id2entry row in key (id) order, the basis for
// reindex() and verify().
func (s *BoltStore) ForEachEntry(fn func(*entry.Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketID2Entry).ForEach(func(k, v []byte) error {
			var e entry.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: %s", kerr.ErrBackend, err)
			}
			return fn(&e)
		})
	})
}

// EntryCount returns the number of rows in id2entry.
func (s *BoltStore) EntryCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketID2Entry).Stats().KeyN
		return nil
	})
	return n, err
}

// GetIDL reads the posting list stored under key, if any.
func (s *BoltStore) GetIDL(attr string, itype value.IndexType, key string) (*idl.IDLBitRange, bool, error) {
	var ids []uint64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(idxBucketName(attr, itype))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &ids)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return idl.FromSlice(ids), true, nil
}

// ForEachIDL scans every key in the (attr,itype) bucket, used by verify()
// to cross-check posting lists against a full id2entry scan.
func (s *BoltStore) ForEachIDL(attr string, itype value.IndexType, fn func(key string, bitmap *idl.IDLBitRange) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(idxBucketName(attr, itype))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ids []uint64
			if err := json.Unmarshal(v, &ids); err != nil {
				return fmt.Errorf("%w: %s", kerr.ErrBackend, err)
			}
			return fn(string(k), idl.FromSlice(ids))
		})
	})
}

// ListIndexBuckets enumerates every existing idx_ bucket, parsing its
// (attr, index-type) pair back out of the bucket name.
func (s *BoltStore) ListIndexBuckets() ([]IdxBucketKey, error) {
	var out []IdxBucketKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			n := string(name)
			if !strings.HasPrefix(n, idxBucketPrefix) {
				return nil
			}
			rest := strings.TrimPrefix(n, idxBucketPrefix)
			idx := strings.LastIndex(rest, "_")
			if idx < 0 {
				return nil
			}
			out = append(out, IdxBucketKey{Attr: rest[:idx], Type: value.IndexType(rest[idx+1:])})
			return nil
		})
	})
	return out, err
}

// GetName2UUID resolves name to a uuid, if known.
func (s *BoltStore) GetName2UUID(name string) (uuid.UUID, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName2UUID).Get([]byte(name)); v != nil {
			raw = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(string(raw))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: %s", kerr.ErrInvalidUUID, err)
	}
	return id, true, nil
}

// GetUUID2Name resolves id to a name, if known.
func (s *BoltStore) GetUUID2Name(id uuid.UUID) (string, bool, error) {
	var name string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUUID2Name).Get([]byte(id.String()))
		if v == nil {
			return nil
		}
		found = true
		name = string(v)
		return nil
	})
	return name, found, err
}

// GetMeta reads a db_meta row (s_uuid or d_uuid; no index version is
// stored).
func (s *BoltStore) GetMeta(key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get([]byte(key)); v != nil {
			val = append([]byte{}, v...)
		}
		return nil
	})
	return val, val != nil, err
}

// WriteTxn runs fn inside a single bbolt write transaction: every Txn call
// fn makes commits together, or none of them do.
func (s *BoltStore) WriteTxn(fn func(Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTxn{tx: tx})
	})
}

// boltTxn implements Txn against a single live *bolt.Tx.
type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) NextEntryID() (types.EntryID, error) {
	return t.tx.Bucket(bucketID2Entry).NextSequence()
}

func (t *boltTxn) PutEntry(id types.EntryID, e *entry.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %s", kerr.ErrBackend, err)
	}
	return t.tx.Bucket(bucketID2Entry).Put(entryKey(id), data)
}

func (t *boltTxn) DeleteEntry(id types.EntryID) error {
	return t.tx.Bucket(bucketID2Entry).Delete(entryKey(id))
}

func (t *boltTxn) PutIDL(attr string, itype value.IndexType, key string, bitmap *idl.IDLBitRange) error {
	b, err := t.tx.CreateBucketIfNotExists(idxBucketName(attr, itype))
	if err != nil {
		return err
	}
	data, err := json.Marshal(bitmap.ToSlice())
	if err != nil {
		return fmt.Errorf("%w: %s", kerr.ErrBackend, err)
	}
	return b.Put([]byte(key), data)
}

func (t *boltTxn) DeleteIDL(attr string, itype value.IndexType, key string) error {
	b := t.tx.Bucket(idxBucketName(attr, itype))
	if b == nil {
		return nil
	}
	return b.Delete([]byte(key))
}

func (t *boltTxn) DropIndexBucket(attr string, itype value.IndexType) error {
	name := idxBucketName(attr, itype)
	if t.tx.Bucket(name) == nil {
		return nil
	}
	return t.tx.DeleteBucket(name)
}

func (t *boltTxn) PutName2UUID(name string, id uuid.UUID) error {
	return t.tx.Bucket(bucketName2UUID).Put([]byte(name), []byte(id.String()))
}

func (t *boltTxn) DeleteName2UUID(name string) error {
	return t.tx.Bucket(bucketName2UUID).Delete([]byte(name))
}

func (t *boltTxn) PutUUID2Name(id uuid.UUID, name string) error {
	return t.tx.Bucket(bucketUUID2Name).Put([]byte(id.String()), []byte(name))
}

func (t *boltTxn) DeleteUUID2Name(id uuid.UUID) error {
	return t.tx.Bucket(bucketUUID2Name).Delete([]byte(id.String()))
}

func (t *boltTxn) PutMeta(key string, val []byte) error {
	return t.tx.Bucket(bucketMeta).Put([]byte(key), val)
}
