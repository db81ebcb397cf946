package entry

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCid() types.Cid {
	return types.NewCid(uuid.New(), uuid.New(), time.Unix(1700000000, 0))
}

func TestLifecycleTransitions(t *testing.T) {
	cid := testCid()

	e := New()
	assert.Equal(t, Init, e.Lifecycle)
	assert.Equal(t, New, e.Stage)

	invalid, err := e.Invalidate(cid)
	require.NoError(t, err)
	assert.Equal(t, Invalid, invalid.Lifecycle)
	v, ok := invalid.GetOne("last_created_cid")
	require.True(t, ok)
	assert.Equal(t, value.SyntaxCid, v.Syntax)

	valid, err := invalid.Validate(func(*Entry) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Valid, valid.Lifecycle)

	sealed, err := valid.Seal()
	require.NoError(t, err)
	assert.Equal(t, Sealed, sealed.Lifecycle)

	committed, err := sealed.Commit(42)
	require.NoError(t, err)
	assert.Equal(t, Committed, committed.Stage)
	assert.Equal(t, types.EntryID(42), committed.ID)
}

func TestInvalidateRejectsWrongState(t *testing.T) {
	e := New()
	valid, err := e.Invalidate(testCid())
	require.NoError(t, err)
	valid, err = valid.Validate(func(*Entry) error { return nil })
	require.NoError(t, err)

	// Valid cannot be re-invalidated; only Sealed or Init may.
	_, err = valid.Invalidate(testCid())
	assert.Error(t, err)
}

func TestValidateFailurePreservesOriginal(t *testing.T) {
	e := New()
	invalid, err := e.Invalidate(testCid())
	require.NoError(t, err)

	boom := assert.AnError
	_, err = invalid.Validate(func(*Entry) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Invalid, invalid.Lifecycle, "failed validation must not mutate the candidate")
}

func TestAddSkipsDuplicates(t *testing.T) {
	e := New()
	u := uuid.New()
	e.Add("member", value.NewReferenceUUID(u))
	e.Add("member", value.NewReferenceUUID(u))
	assert.Len(t, e.Get("member"), 1)
}

func TestRemoveAllClearsAttribute(t *testing.T) {
	e := New()
	e.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("object"))
	e.Remove("class")
	assert.False(t, e.HasAttr("class"))
}

func TestHasClassIsNormalised(t *testing.T) {
	e := New()
	e.Set("class", value.NewUTF8Insensitive("Person"))
	assert.True(t, e.HasClass("person"))
	assert.False(t, e.HasClass("group"))
}

func TestReduceProjectsAttributes(t *testing.T) {
	e := New()
	e.Set("name", value.NewUTF8Insensitive("alice"))
	e.Set("mail", value.NewUTF8Insensitive("alice@example.com"))

	reduced := e.Reduce(map[string]bool{"name": true})
	assert.True(t, reduced.HasAttr("name"))
	assert.False(t, reduced.HasAttr("mail"))
	assert.Equal(t, Reduced, reduced.Lifecycle)
	assert.Equal(t, Committed, reduced.Stage)
}

func TestToTombstoneStripsEverythingButUUID(t *testing.T) {
	u := uuid.New()
	e := New()
	e.Set("uuid", value.NewUUID(u))
	e.Set("name", value.NewUTF8Insensitive("alice"))
	e.Set("class", value.NewUTF8Insensitive("person"))

	e.ToTombstone(testCid())

	assert.Equal(t, u, e.UUID())
	assert.False(t, e.HasAttr("name"))
	assert.True(t, e.HasClass("tombstone"))
	assert.True(t, e.HasClass("object"))
}

func TestReviveRemovesRecycledClass(t *testing.T) {
	e := New()
	e.Set("class", value.NewUTF8Insensitive("person"), value.NewUTF8Insensitive("recycled"))

	e.Revive(testCid())

	assert.True(t, e.HasClass("person"))
	assert.False(t, e.HasClass("recycled"))
}

func TestCloneDoesNotAliasAttrs(t *testing.T) {
	e := New()
	e.Set("name", value.NewUTF8Insensitive("alice"))

	c := e.Clone()
	c.Set("name", value.NewUTF8Insensitive("bob"))

	original, _ := e.GetOne("name")
	assert.Equal(t, "alice", original.Str)
}
