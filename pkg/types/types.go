package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cid is a change identifier: (server_uuid, domain_uuid, timestamp). Every
// committed mutation tags the entries it touches with a Cid, giving a
// replication-aware, monotonically-ordered handle on "when" a change was
// made without requiring the full multi-master replication protocol.
type Cid struct {
	ServerID uuid.UUID
	DomainID uuid.UUID
	Ts       time.Time
}

// NewCid builds a Cid for "now" on this server/domain.
func NewCid(serverID, domainID uuid.UUID, now time.Time) Cid {
	return Cid{ServerID: serverID, DomainID: domainID, Ts: now}
}

// Before reports whether c happened strictly before o. Cid ordering is by
// timestamp only: two different servers racing at the same instant is a
// replication-protocol concern out of scope here.
func (c Cid) Before(o Cid) bool {
	return c.Ts.Before(o.Ts)
}

// SubSecs returns a Cid shifted back by the given number of seconds,
// matching the age-predicate usage pattern in purge_recycled/purge_tombstones
// (a Cid representing the horizon "now - max_age").
func (c Cid) SubSecs(secs int64) Cid {
	c.Ts = c.Ts.Add(-time.Duration(secs) * time.Second)
	return c
}

// String renders a Cid as "<server_uuid>-<domain_uuid>-<unix_nanos>", used
// as the on-disk/index-key form of a Cid value (syntax "Cid" in §3).
func (c Cid) String() string {
	return fmt.Sprintf("%s-%s-%d", c.ServerID, c.DomainID, c.Ts.UnixNano())
}

// EntryID is the 64-bit identifier every entry is keyed by in the durable
// store (§3 Entry, §6 id2entry).
type EntryID = uint64

// NilUUID is the sentinel UUID used for an unresolved reference ("does not
// exist"): an always-invalid but well-formed uuid rather than a null/zero
// value that could collide with a legitimately-assigned all-zero uuid.
var NilUUID = uuid.MustParse("00000000-0000-0000-0000-fffffffffffe")
