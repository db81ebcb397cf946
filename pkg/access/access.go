// Package access implements the access-control profile (ACP) evaluator:
// compiled rule sets for search, create, modify, and delete, each applied
// to a requester/candidate pair (§4.4). Internal events bypass this
// package entirely — pkg/server simply never calls it for operations it
// originates itself, rather than this package special-casing an "internal"
// requester.
package access

import (
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
)

// Profile is one access-control rule: who it applies to (Receiver),
// which entries it covers (Target), and, for search/modify, which
// attributes it permits touching.
type Profile struct {
	Name     string
	Receiver *filter.Filter
	Target   *filter.Filter
	// Attrs gates which attributes a search may return or a modify may
	// touch. A create/delete profile leaves this nil — coverage by Target
	// is the whole check for those operations.
	Attrs []string
}

func (p *Profile) appliesTo(requester *entry.Entry) bool {
	return filter.Matches(p.Receiver, requester)
}

func (p *Profile) covers(candidate *entry.Entry) bool {
	return filter.Matches(p.Target, candidate)
}

// RuleSet is the four compiled profile lists (§4.4: "Four rule sets —
// Search, Create, Modify, Delete").
type RuleSet struct {
	Search []*Profile
	Create []*Profile
	Modify []*Profile
	Delete []*Profile
}

// AccessControls holds the live rule set, swapped wholesale on ACP reload
// the same way pkg/schema swaps its catalog — never patched in place, so
// a reader mid-evaluation never sees half of an updated rule set.
type AccessControls struct {
	rules RuleSet
}

// New returns an AccessControls with an empty rule set (permits nothing).
func New() *AccessControls {
	return &AccessControls{}
}

// SetRules replaces the compiled rule set wholesale.
func (a *AccessControls) SetRules(rs RuleSet) {
	a.rules = rs
}

func applicable(profiles []*Profile, requester *entry.Entry) []*Profile {
	var out []*Profile
	for _, p := range profiles {
		if p.appliesTo(requester) {
			out = append(out, p)
		}
	}
	return out
}

// wildcardAttr in a Profile's Attrs list permits every attribute, the
// shape a builtin administrators profile uses rather than enumerating the
// whole schema by hand.
const wildcardAttr = "*"

func permittedAttrs(profiles []*Profile, candidate *entry.Entry) (allowed map[string]bool, allowAll bool) {
	allowed = map[string]bool{}
	for _, p := range profiles {
		if !p.covers(candidate) {
			continue
		}
		for _, a := range p.Attrs {
			if a == wildcardAttr {
				allowAll = true
			}
			allowed[a] = true
		}
	}
	return allowed, allowAll
}

// SearchFilterEntries retains each candidate iff some applicable search
// profile's target matches it under requester (§4.4 "On search").
func (a *AccessControls) SearchFilterEntries(requester *entry.Entry, candidates []*entry.Entry) []*entry.Entry {
	profiles := applicable(a.rules.Search, requester)
	out := make([]*entry.Entry, 0, len(candidates))
	for _, c := range candidates {
		for _, p := range profiles {
			if p.covers(c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// SearchFilterEntryAttributes is SearchFilterEntries followed by
// projecting each retained entry to the union of permitted attributes,
// producing Reduced entries (§4.4 search_filter_entry_attributes).
func (a *AccessControls) SearchFilterEntryAttributes(requester *entry.Entry, candidates []*entry.Entry) []*entry.Entry {
	profiles := applicable(a.rules.Search, requester)
	out := make([]*entry.Entry, 0, len(candidates))
	for _, c := range candidates {
		allowed, allowAll := permittedAttrs(profiles, c)
		if allowAll {
			out = append(out, c.Reduce(allAttrNames(c)))
			continue
		}
		if len(allowed) == 0 {
			continue
		}
		out = append(out, c.Reduce(allowed))
	}
	return out
}

// CreateAllowOperation requires every candidate to be covered by some
// applicable create profile's target; otherwise the whole operation is
// denied (§4.4 "the entire candidate set must be covered... otherwise the
// whole operation fails").
func (a *AccessControls) CreateAllowOperation(requester *entry.Entry, candidates []*entry.Entry) error {
	return a.allowAll(a.rules.Create, requester, candidates)
}

// DeleteAllowOperation is CreateAllowOperation's delete counterpart.
func (a *AccessControls) DeleteAllowOperation(requester *entry.Entry, candidates []*entry.Entry) error {
	return a.allowAll(a.rules.Delete, requester, candidates)
}

func allAttrNames(e *entry.Entry) map[string]bool {
	out := map[string]bool{}
	for _, name := range e.AttrNames() {
		out[name] = true
	}
	return out
}

func (a *AccessControls) allowAll(profiles []*Profile, requester *entry.Entry, candidates []*entry.Entry) error {
	if len(candidates) == 0 {
		return nil
	}
	applicableProfiles := applicable(profiles, requester)
	for _, c := range candidates {
		covered := false
		for _, p := range applicableProfiles {
			if p.covers(c) {
				covered = true
				break
			}
		}
		if !covered {
			return kerr.ErrAccessDenied
		}
	}
	return nil
}

// ModifyAllowOperation requires every candidate to be covered by an
// applicable modify profile, and every attribute named in touchedAttrs to
// be permitted by some covering profile for that candidate (§4.4 "For
// modify, permitted attributes gate each modification verb").
func (a *AccessControls) ModifyAllowOperation(requester *entry.Entry, candidates []*entry.Entry, touchedAttrs []string) error {
	if len(candidates) == 0 {
		return nil
	}
	profiles := applicable(a.rules.Modify, requester)
	for _, c := range candidates {
		allowed, allowAll := permittedAttrs(profiles, c)
		if allowAll {
			continue
		}
		if len(allowed) == 0 {
			return kerr.ErrAccessDenied
		}
		for _, attr := range touchedAttrs {
			if !allowed[attr] {
				return kerr.ErrAccessDenied
			}
		}
	}
	return nil
}
