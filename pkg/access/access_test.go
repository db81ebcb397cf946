package access

import (
	"testing"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personEntry(name string) *entry.Entry {
	e := entry.New()
	e.Set("class", value.NewUTF8Insensitive("person"))
	e.Set("name", value.NewUTF8Insensitive(name))
	e.Set("mail", value.NewUTF8Insensitive(name+"@example.com"))
	return e
}

// everyoneProfile applies to every requester: a nil receiver filter
// matches any entry, including the class-less requesters these tests use.
func everyoneProfile(attrs []string) *Profile {
	return &Profile{
		Name:     "everyone",
		Receiver: nil,
		Target:   filter.NewEq("class", value.NewUTF8Insensitive("person").Partial()),
		Attrs:    attrs,
	}
}

func TestSearchFilterEntryAttributesRestrictsToAllowed(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Search: []*Profile{everyoneProfile([]string{"name"})}})

	requester := entry.New()
	out := ac.SearchFilterEntryAttributes(requester, []*entry.Entry{personEntry("alice")})

	require.Len(t, out, 1)
	assert.True(t, out[0].HasAttr("name"))
	assert.False(t, out[0].HasAttr("mail"))
}

func TestSearchFilterEntryAttributesWildcardReturnsEverything(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Search: []*Profile{everyoneProfile([]string{wildcardAttr})}})

	requester := entry.New()
	out := ac.SearchFilterEntryAttributes(requester, []*entry.Entry{personEntry("alice")})

	require.Len(t, out, 1)
	assert.True(t, out[0].HasAttr("name"))
	assert.True(t, out[0].HasAttr("mail"))
}

func TestSearchFilterEntriesExcludesUncoveredEntries(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Search: []*Profile{everyoneProfile([]string{"name"})}})

	group := entry.New()
	group.Set("class", value.NewUTF8Insensitive("group"))

	out := ac.SearchFilterEntries(entry.New(), []*entry.Entry{group})
	assert.Empty(t, out)
}

func TestModifyAllowOperationDeniesUnlistedAttr(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Modify: []*Profile{everyoneProfile([]string{"name"})}})

	err := ac.ModifyAllowOperation(entry.New(), []*entry.Entry{personEntry("alice")}, []string{"mail"})
	assert.ErrorIs(t, err, kerr.ErrAccessDenied)
}

func TestModifyAllowOperationWildcardPermitsAnyAttr(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Modify: []*Profile{everyoneProfile([]string{wildcardAttr})}})

	err := ac.ModifyAllowOperation(entry.New(), []*entry.Entry{personEntry("alice")}, []string{"mail", "name"})
	assert.NoError(t, err)
}

func TestCreateAllowOperationRequiresFullCoverage(t *testing.T) {
	ac := New()
	ac.SetRules(RuleSet{Create: []*Profile{everyoneProfile(nil)}})

	group := entry.New()
	group.Set("class", value.NewUTF8Insensitive("group"))

	err := ac.CreateAllowOperation(entry.New(), []*entry.Entry{personEntry("alice"), group})
	assert.ErrorIs(t, err, kerr.ErrAccessDenied)
}

func TestDeleteAllowOperationEmptyCandidatesIsNoop(t *testing.T) {
	ac := New()
	assert.NoError(t, ac.DeleteAllowOperation(entry.New(), nil))
}

func TestReceiverScopingExcludesNonMatchingRequester(t *testing.T) {
	adminsUUID := uuid.New()
	p := &Profile{
		Name:     "admins-only",
		Receiver: filter.NewEq("memberof", value.NewReferenceUUID(adminsUUID).Partial()),
		Target:   filter.NewPres("uuid"),
		Attrs:    []string{wildcardAttr},
	}
	ac := New()
	ac.SetRules(RuleSet{Modify: []*Profile{p}})

	candidate := personEntry("alice")
	candidate.Set("uuid", value.NewUUID(uuid.New()))

	nonMember := entry.New()
	err := ac.ModifyAllowOperation(nonMember, []*entry.Entry{candidate}, []string{"name"})
	assert.ErrorIs(t, err, kerr.ErrAccessDenied)

	member := entry.New()
	member.Add("memberof", value.NewReferenceUUID(adminsUUID))
	assert.NoError(t, ac.ModifyAllowOperation(member, []*entry.Entry{candidate}, []string{"name"}))
}
