package backend

import (
	"strings"

	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/idl"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/value"
)

// Resolve validates f against sch and rewrites it into posting-list set
// algebra (§4.2). It never fetches entries; callers combine the result
// with fetchEntry/post-filtering as the operation (search vs exists)
// requires.
func (b *Backend) Resolve(sch *schema.Schema, f *filter.Filter) (idl.Result, error) {
	if err := sch.ValidateFilter(f); err != nil {
		return idl.Result{}, err
	}
	return b.resolveNode(sch, f), nil
}

func (b *Backend) lookupIDL(attr string, itype value.IndexType, key string) (*idl.IDLBitRange, bool) {
	ck := cache.IdlKey{Attr: strings.ToLower(attr), Type: itype, Key: key}
	if bm, ok := b.cache.GetIDL(ck); ok {
		return bm, true
	}
	bm, found, err := b.store.GetIDL(attr, itype, key)
	if err != nil || !found {
		return nil, false
	}
	b.cache.PutIDL(ck, bm)
	return bm, true
}

func (b *Backend) resolveNode(sch *schema.Schema, f *filter.Filter) idl.Result {
	switch f.Kind {
	case filter.Eq:
		a, _ := sch.Attribute(f.Attr)
		if a == nil || !hasIndexType(a.IndexTypes, value.IndexEquality) {
			return idl.AllIDs()
		}
		bm, ok := b.lookupIDL(f.Attr, value.IndexEquality, f.PV.Key)
		if !ok {
			return idl.Indexed(idl.New())
		}
		return idl.Indexed(bm)

	case filter.Pres:
		a, _ := sch.Attribute(f.Attr)
		if a == nil || !hasIndexType(a.IndexTypes, value.IndexPresence) {
			return idl.AllIDs()
		}
		bm, ok := b.lookupIDL(f.Attr, value.IndexPresence, presenceKey)
		if !ok {
			return idl.Indexed(idl.New())
		}
		return idl.Indexed(bm)

	case filter.Sub:
		a, _ := sch.Attribute(f.Attr)
		needle := strings.ToLower(f.PV.Key)
		grams := trigrams(needle)
		if a == nil || !hasIndexType(a.IndexTypes, value.IndexSubstring) || len(grams) == 0 {
			return idl.AllIDs()
		}
		var acc *idl.IDLBitRange
		for _, g := range grams {
			bm, ok := b.lookupIDL(f.Attr, value.IndexSubstring, g)
			if !ok {
				return idl.Partial(idl.New())
			}
			if acc == nil {
				acc = bm
			} else {
				acc = idl.Intersect(acc, bm)
			}
			if acc.IsEmpty() {
				break
			}
		}
		// Trigram membership is necessary but not sufficient for true
		// substring containment, so the result always needs post-filter.
		return idl.Partial(acc)

	case filter.Or:
		var acc *idl.IDLBitRange
		partial := false
		for _, c := range f.Children {
			r := b.resolveNode(sch, c)
			if r.Variant == idl.VariantAllIDs {
				return idl.AllIDs()
			}
			if r.NeedsPostFilter() {
				partial = true
			}
			if acc == nil {
				acc = r.IDL
			} else {
				acc = idl.Union(acc, r.IDL)
			}
		}
		if acc == nil {
			acc = idl.New()
		}
		if partial {
			return idl.Partial(acc)
		}
		return idl.Indexed(acc)

	case filter.And:
		return b.resolveAnd(sch, f.Children)

	case filter.AndNot:
		// Standalone AndNot (not inside an And) has nothing to subtract
		// from; treat it as "everything except the child", which is only
		// safe to express as a full scan.
		return idl.AllIDs()

	default:
		return idl.AllIDs()
	}
}

func hasIndexType(types []value.IndexType, want value.IndexType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// resolveAnd implements §4.2's And combination rule: intersect the
// positive, indexed children smallest-first, subtract AndNot children,
// and degrade to Partial (not full ALLIDS) the moment any child could not
// be indexed, since the indexed children still narrow the candidate set
// even though the whole expression now needs a post-filter pass.
func (b *Backend) resolveAnd(sch *schema.Schema, children []*filter.Filter) idl.Result {
	type resolved struct {
		f *filter.Filter
		r idl.Result
	}

	var positives []resolved
	var negatives []*filter.Filter
	needsPostFilter := false

	for _, c := range children {
		if c.Kind == filter.AndNot {
			negatives = append(negatives, c.Children[0])
			continue
		}
		r := b.resolveNode(sch, c)
		if r.NeedsPostFilter() {
			needsPostFilter = true
		}
		if r.Variant != idl.VariantAllIDs {
			positives = append(positives, resolved{f: c, r: r})
		}
	}

	if len(positives) == 0 {
		return idl.AllIDs()
	}

	// Tie-break: equality indices before presence/substring; within a
	// tier, smaller posting list first (§4.2 "Tie-break").
	sortTier := func(f *filter.Filter) int {
		if f.Kind == filter.Eq {
			return 0
		}
		return 1
	}
	for i := 1; i < len(positives); i++ {
		for j := i; j > 0; j-- {
			a, bb := positives[j-1], positives[j]
			swap := sortTier(a.f) > sortTier(bb.f)
			if sortTier(a.f) == sortTier(bb.f) {
				swap = a.r.IDL.Len() > bb.r.IDL.Len()
			}
			if !swap {
				break
			}
			positives[j-1], positives[j] = positives[j], positives[j-1]
		}
	}

	acc := positives[0].r.IDL
	for _, p := range positives[1:] {
		acc = idl.Intersect(acc, p.r.IDL)
		if acc.IsEmpty() {
			break
		}
	}

	for _, neg := range negatives {
		if acc.IsEmpty() {
			break
		}
		nr := b.resolveNode(sch, neg)
		if nr.Variant == idl.VariantAllIDs {
			needsPostFilter = true
			continue
		}
		acc = idl.Difference(acc, nr.IDL)
		if nr.NeedsPostFilter() {
			needsPostFilter = true
		}
	}

	if needsPostFilter {
		return idl.Partial(acc)
	}
	return idl.Indexed(acc)
}
