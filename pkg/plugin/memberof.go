package plugin

import (
	"sort"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// memberofHooks recomputes directmemberof/memberof whenever a write could
// have touched the "member" graph: a create that commits an entry carrying
// "member", a delete of a group or of an entry carrying memberof or
// directmemberof, or a modify that changed "member" or flipped an entry's
// recycled/tombstone class (§4.5 "memberof"). Recomputation always walks
// the whole membership graph rather than patching the touched edges
// incrementally — simpler to get right, and the graph is small enough in
// this engine's scope that a full rebuild per triggering write is cheap.
func memberofHooks() Hooks {
	return Hooks{
		Name:       "memberof",
		PostCreate: memberofOnCreate,
		PostModify: memberofOnModify,
		PostDelete: memberofOnDelete,
	}
}

func memberofOnCreate(ctx *Context, committed []*entry.Entry) error {
	for _, c := range committed {
		if c.HasAttr("member") {
			return recomputeMemberships(ctx)
		}
	}
	return nil
}

// lifecycleClassChanged reports whether pre/post disagree on recycled or
// tombstone class membership: a recycle, revive, or tombstone transition
// can each add or remove edges from the membership graph just as
// plainly as a direct edit to "member" does, so every one of them must
// also trigger a recompute.
func lifecycleClassChanged(pre, post *entry.Entry) bool {
	return pre.HasClass("recycled") != post.HasClass("recycled") ||
		pre.HasClass("tombstone") != post.HasClass("tombstone")
}

func memberofOnModify(ctx *Context, pairs []backend.ModifyPair) error {
	for _, p := range pairs {
		if !sameRefSet(p.Pre.Get("member"), p.Post.Get("member")) || lifecycleClassChanged(p.Pre, p.Post) {
			return recomputeMemberships(ctx)
		}
	}
	return nil
}

func memberofOnDelete(ctx *Context, deleted []*entry.Entry) error {
	for _, d := range deleted {
		if d.HasClass("group") || d.HasAttr("memberof") || d.HasAttr("directmemberof") {
			return recomputeMemberships(ctx)
		}
	}
	return nil
}

func sameRefSet(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[uuid.UUID]bool{}
	for _, v := range a {
		seen[v.UUID] = true
	}
	for _, v := range b {
		if !seen[v.UUID] {
			return false
		}
	}
	return true
}

// recomputeMemberships rebuilds directmemberof/memberof for every
// principal currently reachable from the group membership graph, plus
// every entry that currently carries either attribute but no longer
// belongs to the graph (whose values must be cleared). Cycles in the
// group-of-groups graph are handled by the visited set in the BFS below —
// a group that is (directly or transitively) a member of itself simply
// stops contributing new reachable nodes once revisited.
func recomputeMemberships(ctx *Context) error {
	groups, err := ctx.Dir.Search(ctx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("group").Partial()))
	if err != nil {
		return err
	}

	// adjacency[m] = groups m is a direct member of. A recycled or
	// tombstoned group no longer contributes edges: its members must see
	// it drop out of directmemberof/memberof exactly as if they had been
	// removed from "member" directly.
	adjacency := map[uuid.UUID][]uuid.UUID{}
	for _, g := range groups {
		if g.HasClass("recycled") || g.HasClass("tombstone") {
			continue
		}
		gu := g.UUID()
		for _, v := range g.Get("member") {
			adjacency[v.UUID] = append(adjacency[v.UUID], gu)
		}
	}

	candidates := map[uuid.UUID]*entry.Entry{}
	for u := range adjacency {
		candidates[u] = nil // resolved below
	}
	withStale, err := ctx.Dir.Search(ctx.Sch, filter.NewOr(filter.NewPres("memberof"), filter.NewPres("directmemberof")))
	if err != nil {
		return err
	}
	for _, e := range withStale {
		candidates[e.UUID()] = e
	}

	var pairs []backend.ModifyPair
	for u := range candidates {
		pre := candidates[u]
		if pre == nil {
			found, err := ctx.Dir.Search(ctx.Sch, filter.NewEq("uuid", value.NewUUID(u).Partial()))
			if err != nil {
				return err
			}
			if len(found) == 0 {
				continue
			}
			pre = found[0]
		}

		direct := adjacency[u]
		transitive := map[uuid.UUID]bool{}
		visited := map[uuid.UUID]bool{}
		queue := append([]uuid.UUID{}, direct...)
		for len(queue) > 0 {
			g := queue[0]
			queue = queue[1:]
			if visited[g] {
				continue
			}
			visited[g] = true
			transitive[g] = true
			queue = append(queue, adjacency[g]...)
		}

		if refSetEqualsUUIDs(pre.Get("directmemberof"), direct) && refSetEqualsUUIDs(pre.Get("memberof"), sortedKeys(transitive)) {
			continue
		}

		post, err := reviseEntry(ctx, pre, func(w *entry.Entry) {
			setRefAttr(w, "directmemberof", direct)
			setRefAttr(w, "memberof", sortedKeys(transitive))
		})
		if err != nil {
			return err
		}
		pairs = append(pairs, backend.ModifyPair{Pre: pre, Post: post})
	}

	if len(pairs) == 0 {
		return nil
	}
	return ctx.Dir.Modify(ctx.Sch, pairs)
}

func setRefAttr(e *entry.Entry, attr string, ids []uuid.UUID) {
	if len(ids) == 0 {
		e.Remove(attr)
		return
	}
	vs := make([]value.Value, len(ids))
	for i, id := range ids {
		vs[i] = value.NewReferenceUUID(id)
	}
	e.Set(attr, vs...)
}

func refSetEqualsUUIDs(vs []value.Value, ids []uuid.UUID) bool {
	if len(vs) != len(ids) {
		return false
	}
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for _, v := range vs {
		if !want[v.UUID] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
