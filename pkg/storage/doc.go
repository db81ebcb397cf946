/*
Package storage provides the bbolt-backed durable key/value layer the
directory engine's backend builds its transactional object store on top
of: id2entry, per-(attribute,index-type) posting-list buckets, the
name2uuid/uuid2name functional indexes, and a small metadata bucket.

# Architecture

	┌─────────────────────── BOLTDB STORAGE ───────────────────────┐
	│                                                                │
	│  ┌──────────────────────────────────────────────┐            │
	│  │                BoltStore                       │            │
	│  │  File: <dataDir>/warden.db                     │            │
	│  │  Format: B+tree with MVCC, fsync'd on commit   │            │
	│  └──────────────────────┬───────────────────────┘            │
	│                         │                                      │
	│  ┌──────────────────────▼───────────────────────┐            │
	│  │               Bucket Structure                  │            │
	│  │  id2entry        (8-byte big-endian id → JSON) │            │
	│  │  idx_<attr>_<type>  (normalised key → id list) │            │
	│  │  name2uuid       (name → uuid string)          │            │
	│  │  uuid2name       (uuid string → name)          │            │
	│  │  db_meta         (fixed keys: s_uuid, d_uuid)  │            │
	│  └──────────────────────────────────────────────┘            │
	└────────────────────────────────────────────────────────────┘

Index buckets are created lazily: the set of indexed (attribute,
index-type) pairs is schema-derived and changes whenever a classtype or
attributetype entry commits, so BoltStore cannot enumerate them up front
the way it does the fixed id2entry/name2uuid/uuid2name/db_meta buckets.
ListIndexBuckets recovers the active set by scanning bucket names with the
"idx_" prefix, which reindex() relies on; verify() walks the schema's
idxmeta instead.

# Transactions

Reads open their own db.View per call. Writes go through WriteTxn, which
runs the caller's function against a single db.Update: every Txn call the
backend makes while deriving index deltas for one create/modify/delete
commits together, or, on any error, none of it does. This is what backs
the "no partial commit" guarantee the backend promises its callers —
bbolt's transaction abort is the rollback, not application-level
bookkeeping.

# Posting lists on disk

A posting list is stored as a JSON array of ascending uint64 ids rather
than the roaring bitmap's own binary encoding. This trades a few bytes of
density for a format any tool can inspect without pulling in the roaring
library, and the bitmap itself is cheap to reconstruct on load via
idl.FromSlice.
*/
package storage
