package server

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/access"
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/plugin"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestQueryServer builds a QueryServer around real storage/backend but
// with no raft group at all: every method exercised here (read, Reindex,
// Verify, CloneValue, buildModifyPairs, maybeReload) only ever touches
// qs.backend/qs.sch/qs.acp/qs.pipe, never qs.raft, so this is a faithful
// way to test them without paying for a bootstrap raft cluster per test.
func newTestQueryServer(t *testing.T) *QueryServer {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &QueryServer{
		backend:  backend.New(store, cache.DefaultConfig()),
		store:    store,
		pipe:     plugin.Default(),
		sch:      schema.New(),
		acp:      access.New(),
		serverID: uuid.New(),
		domainID: uuid.New(),
	}
}

func testWriteCid(qs *QueryServer) types.Cid {
	return types.NewCid(qs.serverID, qs.domainID, time.Unix(1700000000, 0))
}

func TestClassesTouchMatchesAnyNamedClass(t *testing.T) {
	e := entry.New()
	e.Set("class", value.NewUTF8Insensitive("classtype"), value.NewUTF8Insensitive("object"))
	require.True(t, classesTouch([]*entry.Entry{e}, schemaClasses...))
	require.False(t, classesTouch([]*entry.Entry{e}, acpClasses...))
}

func TestClassesTouchEmptyCandidatesIsFalse(t *testing.T) {
	require.False(t, classesTouch(nil, schemaClasses...))
}

func TestBuildModifyPairsAppliesMutateToEachCandidate(t *testing.T) {
	qs := newTestQueryServer(t)
	cid := testWriteCid(qs)

	pre := entry.New()
	pre.Set("uuid", value.NewUUID(uuid.New()))
	pre.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	sealed := sealEntry(t, qs.sch, pre, cid)

	wtx := &writeTxn{ReadTxn: &ReadTxn{Sch: qs.sch}, Cid: cid}
	pairs, err := qs.buildModifyPairs(wtx, []*entry.Entry{sealed}, func(e *entry.Entry) {
		e.Set("displayname", value.NewUTF8(("Alice")))
	})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	v, ok := pairs[0].Post.GetOne("displayname")
	require.True(t, ok)
	require.Equal(t, "Alice", v.Str)
}

func TestBuildModifyPairsPropagatesValidationFailure(t *testing.T) {
	qs := newTestQueryServer(t)
	cid := testWriteCid(qs)

	pre := entry.New()
	pre.Set("uuid", value.NewUUID(uuid.New()))
	pre.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	sealed := sealEntry(t, qs.sch, pre, cid)

	wtx := &writeTxn{ReadTxn: &ReadTxn{Sch: qs.sch}, Cid: cid}
	_, err := qs.buildModifyPairs(wtx, []*entry.Entry{sealed}, func(e *entry.Entry) {
		e.Set("class", value.NewUTF8Insensitive("nosuchclass"))
	})
	require.Error(t, err)
}

func sealEntry(t *testing.T, sch *schema.Schema, e *entry.Entry, cid types.Cid) *entry.Entry {
	t.Helper()
	invalid, err := e.Invalidate(cid)
	require.NoError(t, err)
	valid, err := invalid.Validate(func(c *entry.Entry) error { return sch.ValidateEntry(c) })
	require.NoError(t, err)
	sealed, err := valid.Seal()
	require.NoError(t, err)
	return sealed
}

func TestLoadOrMintUUIDIsStableAcrossCalls(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first, err := loadOrMintUUID(store, "s_uuid")
	require.NoError(t, err)

	second, err := loadOrMintUUID(store, "s_uuid")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCloneValueResolvesUUIDDirectly(t *testing.T) {
	qs := newTestQueryServer(t)
	u := uuid.New()
	got := qs.CloneValue(u.String())
	require.Equal(t, u, got.UUID)
}

func TestCloneValueResolvesKnownName(t *testing.T) {
	qs := newTestQueryServer(t)
	cid := testWriteCid(qs)

	e := entry.New()
	e.Set("uuid", value.NewUUID(uuid.New()))
	e.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	e.Set("name", value.NewUTF8Insensitive("alice"))
	sealed := sealEntry(t, qs.sch, e, cid)

	committed, err := qs.backend.Create(qs.sch, []*entry.Entry{sealed})
	require.NoError(t, err)

	got := qs.CloneValue("alice")
	require.Equal(t, committed[0].UUID(), got.UUID)
}

func TestCloneValueUnknownNameYieldsNilUUIDSentinel(t *testing.T) {
	qs := newTestQueryServer(t)
	got := qs.CloneValue("nobody-by-this-name")
	require.Equal(t, types.NilUUID, got.UUID)
}

func TestMaybeReloadIsNoopWhenNothingSchemaOrACPRelevantChanged(t *testing.T) {
	qs := newTestQueryServer(t)
	cid := testWriteCid(qs)

	originalSch := qs.sch
	originalACP := qs.acp
	wtx := &writeTxn{ReadTxn: &ReadTxn{Sch: qs.sch, ACP: qs.acp, Backend: qs.backend}, Cid: cid}

	require.NoError(t, qs.maybeReload(wtx))
	require.Same(t, originalSch, qs.sch)
	require.Same(t, originalACP, qs.acp)
}

func TestReindexAndVerifyRoundTripThroughBackend(t *testing.T) {
	qs := newTestQueryServer(t)
	cid := testWriteCid(qs)

	e := entry.New()
	e.Set("uuid", value.NewUUID(uuid.New()))
	e.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	e.Set("name", value.NewUTF8Insensitive("alice"))
	sealed := sealEntry(t, qs.sch, e, cid)
	_, err := qs.backend.Create(qs.sch, []*entry.Entry{sealed})
	require.NoError(t, err)

	require.NoError(t, qs.Reindex())

	errs, err := qs.backend.Verify(qs.sch)
	require.NoError(t, err)
	require.Empty(t, errs)
}
