package server

import (
	"github.com/cuemby/warden/pkg/access"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/value"
)

// reloadAccessControls rescans the four acp_* classes and rebuilds a
// RuleSet, the second half of the commit sequence's reload step (§4.7
// "reload_accesscontrols(): rescan acp entries... rebuild rule sets").
// Each class is searched with its own "class=X and acp_enable != false"
// condition rather than one combined filter, since a disabled profile of
// one kind must not suppress profiles of another.
func (qs *QueryServer) reloadAccessControls(sch *schema.Schema) (access.RuleSet, error) {
	search, err := qs.loadProfiles(sch, "acp_search")
	if err != nil {
		return access.RuleSet{}, err
	}
	create, err := qs.loadProfiles(sch, "acp_create")
	if err != nil {
		return access.RuleSet{}, err
	}
	modify, err := qs.loadProfiles(sch, "acp_modify")
	if err != nil {
		return access.RuleSet{}, err
	}
	del, err := qs.loadProfiles(sch, "acp_delete")
	if err != nil {
		return access.RuleSet{}, err
	}
	return access.RuleSet{Search: search, Create: create, Modify: modify, Delete: del}, nil
}

// loadProfiles fetches every entry of class acpClass, drops any with
// acp_enable explicitly set to false, and decodes each survivor's
// acp_receiver/acp_targetscope jsonfilter attributes into a Profile.
func (qs *QueryServer) loadProfiles(sch *schema.Schema, acpClass string) ([]*access.Profile, error) {
	entries, err := qs.backend.Search(sch, filter.NewEq("class", value.NewUTF8Insensitive(acpClass).Partial()))
	if err != nil {
		return nil, err
	}

	var out []*access.Profile
	for _, e := range entries {
		if v, ok := e.GetOne("acp_enable"); ok && !v.Bool {
			continue
		}
		p, ok, derr := decodeProfile(e)
		if derr != nil {
			return nil, derr
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// decodeProfile turns an acp_* entry into a Profile. An entry missing
// either scope filter is skipped rather than failing the whole reload: a
// malformed profile should not take down every other rule.
func decodeProfile(e *entry.Entry) (*access.Profile, bool, error) {
	recv, ok := e.GetOne("acp_receiver")
	if !ok {
		return nil, false, nil
	}
	target, ok := e.GetOne("acp_targetscope")
	if !ok {
		return nil, false, nil
	}
	receiverFilter, err := filter.FromJSON(recv.Str)
	if err != nil {
		return nil, false, err
	}
	targetFilter, err := filter.FromJSON(target.Str)
	if err != nil {
		return nil, false, err
	}

	name := e.UUID().String()
	if v, ok := e.GetOne("name"); ok {
		name = value.Normalise(v)
	}

	var attrs []string
	for _, v := range e.Get("acp_attr") {
		attrs = append(attrs, value.Normalise(v))
	}

	return &access.Profile{Name: name, Receiver: receiverFilter, Target: targetFilter, Attrs: attrs}, true, nil
}
