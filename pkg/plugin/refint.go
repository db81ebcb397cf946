package plugin

import (
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// referenceAttrs lists every attribute whose values are ReferenceUUIDs,
// the set refint scans for dangling entries after a delete. memberof and
// directmemberof are included so a deleted group disappears from every
// principal's derived membership, not just from the live "member" lists
// that point at it.
var referenceAttrs = []string{"member", "memberof", "directmemberof"}

// refintHooks removes dangling references to deleted entries in the same
// logical operation they were deleted in (§4.5 "refint": "on delete, scan
// reference attributes across the DB; remove dangling references
// atomically within the same txn"). The "same txn" here means the same
// write section: the post-hook runs synchronously after backend.Delete has
// returned, before the caller's write lock is released — not a literal
// shared bolt.Tx with the delete itself, since the dangling references live
// on entries other than the ones being deleted. An entry holding several
// dangling references gets a single pair that drops all of them.
func refintHooks() Hooks {
	return Hooks{
		Name:       "refint",
		PostDelete: refintPostDelete,
	}
}

func refintPostDelete(ctx *Context, deleted []*entry.Entry) error {
	if len(deleted) == 0 {
		return nil
	}
	dangling := make(map[uuid.UUID]bool, len(deleted))
	for _, d := range deleted {
		dangling[d.UUID()] = true
	}

	var pairs []backend.ModifyPair
	pairAt := map[uuid.UUID]int{}
	for _, attr := range referenceAttrs {
		for u := range dangling {
			referrers, err := ctx.Dir.Search(ctx.Sch, filter.NewEq(attr, value.NewReferenceUUID(u).Partial()))
			if err != nil {
				return err
			}
			for _, pre := range referrers {
				base := pre
				i, seen := pairAt[pre.UUID()]
				if seen {
					base = pairs[i].Post
				}
				post, err := reviseEntry(ctx, base, func(w *entry.Entry) {
					w.Remove(attr, value.NewReferenceUUID(u))
				})
				if err != nil {
					return err
				}
				if seen {
					pairs[i].Post = post
				} else {
					pairAt[pre.UUID()] = len(pairs)
					pairs = append(pairs, backend.ModifyPair{Pre: pre, Post: post})
				}
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return ctx.Dir.Modify(ctx.Sch, pairs)
}
