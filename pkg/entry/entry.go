// Package entry implements Entry, the attribute-value map every directory
// object is represented as, and its typestate machine (§3 Entry): a write
// clones a sealed/committed entry back to Invalid, validates it to Valid,
// seals it to Sealed, and only a sealed entry may be persisted (Committed).
// Reduced entries are the ACP-projected form handed to external callers.
//
// Go has no sum types, so the state machine is represented the way the
// source's own design note suggests treating a "less expressive type
// system" (§9): a tagged struct whose Lifecycle/Stage fields select which
// transitions are legal, with each transition a method returning either
// the next state or an error — never mutating in place, so an in-flight
// candidate set can be discarded on any error without touching the
// original.
package entry

import (
	"fmt"
	"sort"

	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// Lifecycle names where in validation an entry sits.
type Lifecycle int

const (
	Init Lifecycle = iota
	Invalid
	Valid
	Sealed
	Reduced
)

func (l Lifecycle) String() string {
	switch l {
	case Init:
		return "init"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	case Sealed:
		return "sealed"
	case Reduced:
		return "reduced"
	default:
		return "unknown"
	}
}

// Stage names whether an entry has ever been durably persisted.
type Stage int

const (
	New Stage = iota
	Committed
)

func (s Stage) String() string {
	if s == Committed {
		return "committed"
	}
	return "new"
}

// Entry is an identified attribute-name to multi-valued-attribute map.
// Attrs keys are schema-normalised attribute names; order within a value
// slice is insertion order, not significant for equality.
type Entry struct {
	ID        types.EntryID
	Lifecycle Lifecycle
	Stage     Stage
	Attrs     map[string][]value.Value
}

// New returns an Init/New entry with no attributes set.
func New() *Entry {
	return &Entry{Lifecycle: Init, Stage: New, Attrs: map[string][]value.Value{}}
}

// Clone deep-copies e, including its attribute value slices, so a caller
// can derive a new candidate without aliasing the source (required before
// any transition, since transitions never mutate their receiver).
func (e *Entry) Clone() *Entry {
	c := &Entry{ID: e.ID, Lifecycle: e.Lifecycle, Stage: e.Stage, Attrs: make(map[string][]value.Value, len(e.Attrs))}
	for k, vs := range e.Attrs {
		cp := make([]value.Value, len(vs))
		copy(cp, vs)
		c.Attrs[k] = cp
	}
	return c
}

// Set replaces attr's entire value set.
func (e *Entry) Set(attr string, vs ...value.Value) {
	if len(vs) == 0 {
		delete(e.Attrs, attr)
		return
	}
	e.Attrs[attr] = vs
}

// Add appends values to attr's existing value set, skipping any already
// present under PartialValue equality (attribute sets have no duplicates).
func (e *Entry) Add(attr string, vs ...value.Value) {
	existing := e.Attrs[attr]
	for _, v := range vs {
		dup := false
		for _, o := range existing {
			if o.Partial().Equal(v.Partial()) {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, v)
		}
	}
	e.Attrs[attr] = existing
}

// Remove deletes every value of attr equal (by PartialValue) to any of vs.
// With no vs given, it removes the whole attribute.
func (e *Entry) Remove(attr string, vs ...value.Value) {
	if len(vs) == 0 {
		delete(e.Attrs, attr)
		return
	}
	existing := e.Attrs[attr]
	kept := existing[:0:0]
	for _, o := range existing {
		drop := false
		for _, v := range vs {
			if o.Partial().Equal(v.Partial()) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(e.Attrs, attr)
	} else {
		e.Attrs[attr] = kept
	}
}

// Get returns attr's value set, or nil if absent.
func (e *Entry) Get(attr string) []value.Value { return e.Attrs[attr] }

// GetOne returns attr's first value and true, or the zero Value and false.
func (e *Entry) GetOne(attr string) (value.Value, bool) {
	vs := e.Attrs[attr]
	if len(vs) == 0 {
		return value.Value{}, false
	}
	return vs[0], true
}

// HasAttr reports whether attr has at least one value.
func (e *Entry) HasAttr(attr string) bool { return len(e.Attrs[attr]) > 0 }

// HasClass reports whether class contains cls. Each class value is
// compared in its normalised (lower-cased) form; cls itself is used as
// given.
func (e *Entry) HasClass(cls string) bool {
	for _, v := range e.Attrs["class"] {
		if value.Normalise(v) == cls {
			return true
		}
	}
	return false
}

// UUID returns the entry's uuid attribute, or uuid.Nil if unset.
func (e *Entry) UUID() uuid.UUID {
	v, ok := e.GetOne("uuid")
	if !ok {
		return uuid.Nil
	}
	return v.UUID
}

// AttrNames returns the entry's attribute names in sorted order, used for
// deterministic iteration (index maintenance diffing, verify output).
func (e *Entry) AttrNames() []string {
	names := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validator checks a candidate entry against schema. Entry does not import
// the schema package directly (schema already depends on entry for its own
// catalog representation); the caller supplies the check at the call site.
type Validator func(*Entry) error

// Invalidate clones a Sealed entry back to Invalid, keeping its Stage,
// marking it as a pending write candidate (§3: "a write clones
// Sealed→Invalid (marks pending)"). An Init entry may also invalidate,
// covering the create path where there is no prior sealed form.
func (e *Entry) Invalidate(cid types.Cid) (*Entry, error) {
	if e.Lifecycle != Sealed && e.Lifecycle != Init {
		return nil, fmt.Errorf("%w: cannot invalidate entry in %s state", kerr.ErrInvalidDBState, e.Lifecycle)
	}
	c := e.Clone()
	c.Lifecycle = Invalid
	if c.Stage == New {
		c.Set("last_created_cid", value.NewCidValue(cid))
	}
	c.Set("last_modified_cid", value.NewCidValue(cid))
	return c, nil
}

// Validate runs check against e and, on success, transitions Invalid→Valid.
func (e *Entry) Validate(check Validator) (*Entry, error) {
	if e.Lifecycle != Invalid {
		return nil, fmt.Errorf("%w: cannot validate entry in %s state", kerr.ErrInvalidDBState, e.Lifecycle)
	}
	if err := check(e); err != nil {
		return nil, err
	}
	c := e.Clone()
	c.Lifecycle = Valid
	return c, nil
}

// Seal transitions Valid→Sealed. Only a sealed entry may be persisted.
func (e *Entry) Seal() (*Entry, error) {
	if e.Lifecycle != Valid {
		return nil, fmt.Errorf("%w: cannot seal entry in %s state", kerr.ErrInvalidDBState, e.Lifecycle)
	}
	c := e.Clone()
	c.Lifecycle = Sealed
	return c, nil
}

// Commit assigns id (on first persist) and marks the entry Committed. It
// does not touch storage itself; the backend calls this inside its write
// transaction, just before writing the entry's id2entry row.
func (e *Entry) Commit(id types.EntryID) (*Entry, error) {
	if e.Lifecycle != Sealed {
		return nil, fmt.Errorf("%w: cannot commit entry in %s state", kerr.ErrInvalidDBState, e.Lifecycle)
	}
	c := e.Clone()
	c.ID = id
	c.Stage = Committed
	return c, nil
}

// Reduce projects a Sealed/Committed entry down to the attributes named in
// allowed, producing a Reduced entry fit for external emission. The
// backing Lifecycle/Stage tuple after reduction is always
// Reduced/Committed: a reduced entry is a read-only view, never a write
// candidate.
func (e *Entry) Reduce(allowed map[string]bool) *Entry {
	c := &Entry{ID: e.ID, Lifecycle: Reduced, Stage: Committed, Attrs: make(map[string][]value.Value, len(allowed))}
	for attr, vs := range e.Attrs {
		if allowed[attr] {
			cp := make([]value.Value, len(vs))
			copy(cp, vs)
			c.Attrs[attr] = cp
		}
	}
	return c
}

// ToRecycled marks a live, sealed candidate as recycled: class gains
// "recycled" and last_modified_cid advances (§4.6 delete semantics). The
// entry must already be an Invalid write candidate (post-Invalidate,
// pre-Validate), matching the rest of the write pipeline's ordering.
func (e *Entry) ToRecycled(cid types.Cid) {
	e.Add("class", value.NewUTF8Insensitive("recycled"))
	e.Set("last_modified_cid", value.NewCidValue(cid))
}

// ToTombstone strips every attribute except uuid and sets
// class={tombstone,object}, per §3.2's "all other avas stripped except
// uuid" rule for entries crossing the RECYCLEBIN_MAX_AGE horizon.
func (e *Entry) ToTombstone(cid types.Cid) {
	u := e.UUID()
	for attr := range e.Attrs {
		delete(e.Attrs, attr)
	}
	e.Set("uuid", value.NewUUID(u))
	e.Set("class", value.NewUTF8Insensitive("tombstone"), value.NewUTF8Insensitive("object"))
	e.Set("last_modified_cid", value.NewCidValue(cid))
}

// Revive removes class=recycled, restoring the entry to the live set
// (§4.6 revive_recycled). Direct-membership restoration and memberof
// recomputation are the caller's responsibility (pkg/server, pkg/plugin),
// since they span multiple entries.
func (e *Entry) Revive(cid types.Cid) {
	e.Remove("class", value.NewUTF8Insensitive("recycled"))
	e.Set("last_modified_cid", value.NewCidValue(cid))
}
