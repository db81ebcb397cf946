// Package idl implements IDLBitRange, the compressed posting-list
// representation every inverted index entry and filter-resolution result
// is expressed as (§3 Index, §9 design note: "a run-length-encoded range
// set suffices"). Rather than hand-roll that encoding, this wraps
// RoaringBitmap/roaring's 64-bit bitmap, which is exactly a compressed
// range-bitset over integer ids and is already battle-tested for the
// set-algebra the filter resolver needs (§4.2).
package idl

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Variant distinguishes the three filter-resolution outcomes in §4.2.
type Variant int

const (
	// VariantIndexed means the IDL is an exact result; no post-filter needed.
	VariantIndexed Variant = iota
	// VariantPartial means the IDL is a superset; caller must re-evaluate
	// the filter against each fetched entry.
	VariantPartial
	// VariantAllIDs means no index could be used; a full scan is required.
	VariantAllIDs
)

// IDLBitRange is a compressed, sorted set of 64-bit entry ids.
type IDLBitRange struct {
	bm *roaring64.Bitmap
}

// New returns an empty IDLBitRange.
func New() *IDLBitRange {
	return &IDLBitRange{bm: roaring64.New()}
}

// FromSlice builds an IDLBitRange from a slice of entry ids.
func FromSlice(ids []uint64) *IDLBitRange {
	idl := New()
	idl.bm.AddMany(ids)
	return idl
}

// Clone returns a deep copy, so callers can mutate the result without
// aliasing the source posting list (important since the idl cache hands
// out shared IDLBitRange values).
func (i *IDLBitRange) Clone() *IDLBitRange {
	if i == nil {
		return New()
	}
	return &IDLBitRange{bm: i.bm.Clone()}
}

// Insert adds id to the set.
func (i *IDLBitRange) Insert(id uint64) { i.bm.Add(id) }

// Remove removes id from the set.
func (i *IDLBitRange) Remove(id uint64) { i.bm.Remove(id) }

// Contains reports whether id is a member.
func (i *IDLBitRange) Contains(id uint64) bool { return i.bm.Contains(id) }

// Len returns the number of ids in the set. Filter planning uses this to
// tie-break "smaller posting list first" in an And (§4.2).
func (i *IDLBitRange) Len() uint64 { return i.bm.GetCardinality() }

// IsEmpty reports whether the set has no members.
func (i *IDLBitRange) IsEmpty() bool { return i.bm.IsEmpty() }

// ToSlice returns the set's members in ascending order.
func (i *IDLBitRange) ToSlice() []uint64 { return i.bm.ToArray() }

// Union returns a new IDLBitRange containing every id in i or o (§4.2 Or).
func Union(i, o *IDLBitRange) *IDLBitRange {
	r := i.Clone()
	r.bm.Or(o.bm)
	return r
}

// Intersect returns a new IDLBitRange containing every id in both i and o
// (§4.2 And).
func Intersect(i, o *IDLBitRange) *IDLBitRange {
	r := i.Clone()
	r.bm.And(o.bm)
	return r
}

// Difference returns a new IDLBitRange containing every id in i that is not
// in o (§4.2 AndNot).
func Difference(i, o *IDLBitRange) *IDLBitRange {
	r := i.Clone()
	r.bm.AndNot(o.bm)
	return r
}

// Result is the outcome of resolving a filter subtree: a variant tag plus
// the IDL it carries (empty/meaningless for VariantAllIDs).
type Result struct {
	Variant Variant
	IDL     *IDLBitRange
}

// Indexed wraps idl as an exact result.
func Indexed(idl *IDLBitRange) Result { return Result{Variant: VariantIndexed, IDL: idl} }

// Partial wraps idl as a superset result requiring post-filtering.
func Partial(idl *IDLBitRange) Result { return Result{Variant: VariantPartial, IDL: idl} }

// AllIDs is the "no index usable, scan everything" result.
func AllIDs() Result { return Result{Variant: VariantAllIDs} }

// NeedsPostFilter reports whether the caller must re-evaluate the original
// filter against each candidate entry before treating it as a true match.
func (r Result) NeedsPostFilter() bool {
	return r.Variant == VariantPartial || r.Variant == VariantAllIDs
}
