package plugin

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) (*backend.Backend, *schema.Schema) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return backend.New(store, cache.DefaultConfig()), schema.New()
}

func memberofOnlyPipeline() *Pipeline {
	return &Pipeline{plugins: []Hooks{memberofHooks()}}
}

func tCid(secOffset int64) types.Cid {
	return types.NewCid(uuid.New(), uuid.New(), time.Unix(1700000000+secOffset, 0))
}

func sealedCandidate(t *testing.T, sch *schema.Schema, u uuid.UUID, classes []string, set func(*entry.Entry)) *entry.Entry {
	t.Helper()
	e := entry.New()
	e.Set("uuid", value.NewUUID(u))
	classVals := make([]value.Value, len(classes))
	for i, c := range classes {
		classVals[i] = value.NewUTF8Insensitive(c)
	}
	e.Set("class", classVals...)
	if set != nil {
		set(e)
	}
	invalid, err := e.Invalidate(tCid(0))
	require.NoError(t, err)
	valid, err := invalid.Validate(func(c *entry.Entry) error { return sch.ValidateEntry(c) })
	require.NoError(t, err)
	sealed, err := valid.Seal()
	require.NoError(t, err)
	return sealed
}

func byUUID(t *testing.T, dir *backend.Backend, sch *schema.Schema, u uuid.UUID) *entry.Entry {
	t.Helper()
	found, err := dir.Search(sch, filter.NewEq("uuid", value.NewUUID(u).Partial()))
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func transitionTo(t *testing.T, sch *schema.Schema, pre *entry.Entry, cid types.Cid, mutate func(*entry.Entry)) backend.ModifyPair {
	t.Helper()
	working, err := pre.Invalidate(cid)
	require.NoError(t, err)
	mutate(working)
	valid, err := working.Validate(func(c *entry.Entry) error { return sch.ValidateEntry(c) })
	require.NoError(t, err)
	sealed, err := valid.Seal()
	require.NoError(t, err)
	return backend.ModifyPair{Pre: pre, Post: sealed}
}

func refUUIDs(vs []value.Value) []uuid.UUID {
	out := make([]uuid.UUID, len(vs))
	for i, v := range vs {
		out[i] = v.UUID
	}
	return out
}

// TestMemberofOnCreateComputesDirectAndTransitive walks a two-level group
// chain (u1 in g1, g1 in g2) and checks both directmemberof and the
// transitive memberof closure come out right after a single create batch.
func TestMemberofOnCreateComputesDirectAndTransitive(t *testing.T) {
	dir, sch := newTestDir(t)
	pipe := memberofOnlyPipeline()

	u1, g1, g2 := uuid.New(), uuid.New(), uuid.New()
	cands := []*entry.Entry{
		sealedCandidate(t, sch, u1, []string{"person", "object"}, func(e *entry.Entry) {
			e.Set("name", value.NewUTF8Insensitive("u1"))
		}),
		sealedCandidate(t, sch, g1, []string{"group", "object"}, func(e *entry.Entry) {
			e.Set("name", value.NewUTF8Insensitive("g1"))
			e.Set("member", value.NewReferenceUUID(u1))
		}),
		sealedCandidate(t, sch, g2, []string{"group", "object"}, func(e *entry.Entry) {
			e.Set("name", value.NewUTF8Insensitive("g2"))
			e.Set("member", value.NewReferenceUUID(g1))
		}),
	}
	committed, err := dir.Create(sch, cands)
	require.NoError(t, err)

	ctx := &Context{Cid: tCid(1), Internal: true, Sch: sch, Dir: dir}
	require.NoError(t, pipe.RunPostCreate(ctx, committed))

	u1After := byUUID(t, dir, sch, u1)
	require.ElementsMatch(t, []uuid.UUID{g1}, refUUIDs(u1After.Get("directmemberof")))
	require.ElementsMatch(t, []uuid.UUID{g1, g2}, refUUIDs(u1After.Get("memberof")))

	g1After := byUUID(t, dir, sch, g1)
	require.ElementsMatch(t, []uuid.UUID{g2}, refUUIDs(g1After.Get("directmemberof")))
}

// TestMemberofRecycleThenReviveClearsMembershipUntilGroupRevives is the
// regression test for the recycle/revive scenario: deleting u1 and g1
// together must clear u1's stale directmemberof/memberof, and reviving
// only u1 must not resurrect its membership in a group that is still
// recycled.
func TestMemberofRecycleThenReviveClearsMembershipUntilGroupRevives(t *testing.T) {
	dir, sch := newTestDir(t)
	pipe := memberofOnlyPipeline()

	u1, g1 := uuid.New(), uuid.New()
	cands := []*entry.Entry{
		sealedCandidate(t, sch, u1, []string{"person", "object"}, func(e *entry.Entry) {
			e.Set("name", value.NewUTF8Insensitive("u1"))
		}),
		sealedCandidate(t, sch, g1, []string{"group", "object"}, func(e *entry.Entry) {
			e.Set("name", value.NewUTF8Insensitive("g1"))
			e.Set("member", value.NewReferenceUUID(u1))
		}),
	}
	committed, err := dir.Create(sch, cands)
	require.NoError(t, err)

	createCtx := &Context{Cid: tCid(1), Internal: true, Sch: sch, Dir: dir}
	require.NoError(t, pipe.RunPostCreate(createCtx, committed))

	u1Live := byUUID(t, dir, sch, u1)
	require.ElementsMatch(t, []uuid.UUID{g1}, refUUIDs(u1Live.Get("directmemberof")))

	// Delete both u1 and g1: each only gains class=recycled.
	g1Live := byUUID(t, dir, sch, g1)
	deleteCid := tCid(2)
	pairs := []backend.ModifyPair{
		transitionTo(t, sch, u1Live, deleteCid, func(e *entry.Entry) { e.ToRecycled(deleteCid) }),
		transitionTo(t, sch, g1Live, deleteCid, func(e *entry.Entry) { e.ToRecycled(deleteCid) }),
	}
	require.NoError(t, dir.Modify(sch, pairs))

	deleteCtx := &Context{Cid: deleteCid, Internal: true, Sch: sch, Dir: dir}
	require.NoError(t, pipe.RunPostModify(deleteCtx, pairs))

	u1Recycled := byUUID(t, dir, sch, u1)
	require.Empty(t, u1Recycled.Get("directmemberof"), "a recycled group must stop contributing membership edges")
	require.Empty(t, u1Recycled.Get("memberof"))

	// Revive only u1. g1 stays recycled.
	reviveCid := tCid(3)
	revivePair := transitionTo(t, sch, u1Recycled, reviveCid, func(e *entry.Entry) { e.Revive(reviveCid) })
	require.NoError(t, dir.Modify(sch, []backend.ModifyPair{revivePair}))

	reviveCtx := &Context{Cid: reviveCid, Internal: true, Sch: sch, Dir: dir}
	require.NoError(t, pipe.RunPostModify(reviveCtx, []backend.ModifyPair{revivePair}))

	u1Revived := byUUID(t, dir, sch, u1)
	require.True(t, u1Revived.HasClass("person"))
	require.False(t, u1Revived.HasClass("recycled"))
	require.Empty(t, u1Revived.Get("directmemberof"), "directmemberof must not contain g1 while g1 is still recycled")
	require.Empty(t, u1Revived.Get("memberof"))
}
