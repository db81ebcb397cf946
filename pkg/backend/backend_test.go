package backend

import (
	"testing"
	"time"

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

func newTestBackend(t *testing.T) (*Backend, *schema.Schema) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, cache.DefaultConfig()), schema.New()
}

func testCid() types.Cid {
	return types.NewCid(uuid.New(), uuid.New(), time.Unix(1700000000, 0))
}

// sealedPerson builds a Sealed (but not yet Committed) person candidate,
// the state Create requires of everything in its candidates slice.
func sealedPerson(t *testing.T, sch *schema.Schema, name string) *entry.Entry {
	t.Helper()
	e := entry.New()
	e.Set("uuid", value.NewUUID(uuid.New()))
	e.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	e.Set("name", value.NewUTF8Insensitive(name))

	invalid, err := e.Invalidate(testCid())
	require.NoError(t, err)
	valid, err := invalid.Validate(func(c *entry.Entry) error { return sch.ValidateEntry(c) })
	require.NoError(t, err)
	sealed, err := valid.Seal()
	require.NoError(t, err)
	return sealed
}

func TestCreatePopulatesCacheAndIndex(t *testing.T) {
	b, sch := newTestBackend(t)

	committed, err := b.Create(sch, []*entry.Entry{sealedPerson(t, sch, "alice")})
	require.NoError(t, err)
	require.Len(t, committed, 1)

	_, cacheStats := mustStats(t, b)
	require.Equal(t, 1, cacheStats.EntryCount)
	require.Greater(t, cacheStats.IDLCount, 0, "name/class postings should have been staged into the idl cache")

	found, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice").Partial()))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, committed[0].ID, found[0].ID)
}

func mustStats(t *testing.T, b *Backend) (int, cache.Stats) {
	t.Helper()
	n, stats, err := b.Stats()
	require.NoError(t, err)
	return n, stats
}

// TestModifyLeavesCacheUntouchedOnAbortedBatch is the regression test for
// the cache-before-commit-confirmation bug: a batch whose second pair
// fails must leave both storage AND the cache exactly as they were before
// the call, never reflecting the first pair's otherwise-successful index
// and entry writes.
func TestModifyLeavesCacheUntouchedOnAbortedBatch(t *testing.T) {
	b, sch := newTestBackend(t)

	committed, err := b.Create(sch, []*entry.Entry{
		sealedPerson(t, sch, "alice"),
		sealedPerson(t, sch, "bob"),
	})
	require.NoError(t, err)
	alice, bob := committed[0], committed[1]

	renamedAlice := mutateSealed(t, sch, alice, func(w *entry.Entry) {
		w.Set("name", value.NewUTF8Insensitive("alice2"))
	})
	// A Post with a different ID than its Pre is the ID-mismatch guard
	// Modify rejects outright (kerr.ErrInvalidDBState) — simulating a
	// mid-batch failure after the first pair would already have written
	// successfully.
	mismatched := bob.Clone()
	mismatched.ID = bob.ID + 1000

	err = b.Modify(sch, []ModifyPair{
		{Pre: alice, Post: renamedAlice},
		{Pre: bob, Post: mismatched},
	})
	require.Error(t, err)

	// Storage must be unaffected: a fresh fetch (bypassing nothing, since
	// the cache must also be unaffected) still reports "alice".
	fetched, err := b.fetchEntry(alice.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	v, ok := fetched.GetOne("name")
	require.True(t, ok)
	require.Equal(t, "alice", v.Str, "aborted batch must not have renamed alice in storage or cache")

	byOldName, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice").Partial()))
	require.NoError(t, err)
	require.Len(t, byOldName, 1, "the old name's posting list must not have been dropped by the aborted write")

	byNewName, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice2").Partial()))
	require.NoError(t, err)
	require.Len(t, byNewName, 0, "the new name's posting list must not exist after an aborted write")
}

func mutateSealed(t *testing.T, sch *schema.Schema, pre *entry.Entry, mutate func(*entry.Entry)) *entry.Entry {
	t.Helper()
	working, err := pre.Invalidate(testCid())
	require.NoError(t, err)
	mutate(working)
	valid, err := working.Validate(func(c *entry.Entry) error { return sch.ValidateEntry(c) })
	require.NoError(t, err)
	sealed, err := valid.Seal()
	require.NoError(t, err)
	return sealed
}

func TestModifySuccessUpdatesCacheAndIndex(t *testing.T) {
	b, sch := newTestBackend(t)

	committed, err := b.Create(sch, []*entry.Entry{sealedPerson(t, sch, "alice")})
	require.NoError(t, err)
	alice := committed[0]

	renamed := mutateSealed(t, sch, alice, func(w *entry.Entry) {
		w.Set("name", value.NewUTF8Insensitive("alice2"))
	})
	err = b.Modify(sch, []ModifyPair{{Pre: alice, Post: renamed}})
	require.NoError(t, err)

	byNewName, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice2").Partial()))
	require.NoError(t, err)
	require.Len(t, byNewName, 1)

	byOldName, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice").Partial()))
	require.NoError(t, err)
	require.Len(t, byOldName, 0)
}

func TestDeleteInvalidatesCacheAndIndex(t *testing.T) {
	b, sch := newTestBackend(t)

	committed, err := b.Create(sch, []*entry.Entry{sealedPerson(t, sch, "alice")})
	require.NoError(t, err)
	alice := committed[0]

	require.NoError(t, b.Delete(sch, []*entry.Entry{alice}))

	fetched, err := b.fetchEntry(alice.ID)
	require.NoError(t, err)
	require.Nil(t, fetched)

	found, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice").Partial()))
	require.NoError(t, err)
	require.Len(t, found, 0)
}

func TestReindexRebuildsPostingListsAndFlushesCache(t *testing.T) {
	b, sch := newTestBackend(t)

	_, err := b.Create(sch, []*entry.Entry{sealedPerson(t, sch, "alice")})
	require.NoError(t, err)

	require.NoError(t, b.Reindex(sch))

	_, cacheStats := mustStats(t, b)
	require.Equal(t, 0, cacheStats.EntryCount, "reindex must flush the entry cache")
	require.Equal(t, 0, cacheStats.IDLCount, "reindex must flush the idl cache")

	found, err := b.Search(sch, filter.NewEq("name", value.NewUTF8Insensitive("alice").Partial()))
	require.NoError(t, err)
	require.Len(t, found, 1, "reindex must have rebuilt the name posting list from id2entry")
}

func TestVerifyReportsNoDivergenceOnAFreshIndex(t *testing.T) {
	b, sch := newTestBackend(t)

	_, err := b.Create(sch, []*entry.Entry{sealedPerson(t, sch, "alice"), sealedPerson(t, sch, "bob")})
	require.NoError(t, err)

	errs, err := b.Verify(sch)
	require.NoError(t, err)
	require.Empty(t, errs)
}
