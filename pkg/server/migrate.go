package server

import (
	"time"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// systemNamespace roots the deterministic uuids minted for every
// well-known system/IDM entry, so a fresh directory and a restored one
// derive the same uuid for "the admins group" without having to persist a
// separate allocation table.
var systemNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func systemUUID(name string) uuid.UUID {
	return uuid.NewSHA1(systemNamespace, []byte(name))
}

// InitialiseHelper runs the bootstrap sequence a fresh (or restarted)
// directory needs before it can serve traffic: reindex, the core schema,
// the IDM schema, reindex again, then the IDM seed data (§4.7
// "Startup sequence"). Every step is migrate-or-create, so running this
// against an already-initialised store is a no-op past the first run.
func (qs *QueryServer) InitialiseHelper(now time.Time) error {
	rtx := qs.read()
	if err := qs.backend.Reindex(rtx.Sch); err != nil {
		return err
	}

	if err := qs.migrateOrCreate(coreSchemaEntries()); err != nil {
		return err
	}
	if err := qs.migrateOrCreate(idmSchemaEntries()); err != nil {
		return err
	}

	rtx = qs.read()
	if err := qs.backend.Reindex(rtx.Sch); err != nil {
		return err
	}

	return qs.migrateOrCreate(idmDataEntries())
}

// migrateOrCreate applies MigrateOrCreate to every wanted entry in turn.
func (qs *QueryServer) migrateOrCreate(wanted []*entry.Entry) error {
	for _, w := range wanted {
		if err := qs.MigrateOrCreate(w); err != nil {
			return err
		}
	}
	return nil
}

// MigrateOrCreate brings the live entry with wanted's uuid in line with
// wanted: create it if absent, otherwise add (never replace) any of
// wanted's attribute values the live entry doesn't already carry. Using
// Add rather than Set means an operator's own edits to a system entry
// (extra acp_attr grants, an extra class) survive a re-run of this
// sequence (§4 "migrate-or-create, never overwriting operator changes").
func (qs *QueryServer) MigrateOrCreate(wanted *entry.Entry) error {
	u := wanted.UUID()
	rtx := qs.read()
	existing, err := rtx.Backend.Search(rtx.Sch, filter.NewEq("uuid", value.NewUUID(u).Partial()))
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		_, err := qs.Create(nil, true, []*entry.Entry{wanted})
		return err
	}

	live := existing[0]
	missing := map[string][]value.Value{}
	for _, attr := range wanted.AttrNames() {
		wantVals := wanted.Get(attr)
		liveVals := live.Get(attr)
		for _, wv := range wantVals {
			found := false
			for _, lv := range liveVals {
				if lv.Partial().Equal(wv.Partial()) {
					found = true
					break
				}
			}
			if !found {
				missing[attr] = append(missing[attr], wv)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	_, err = qs.Modify(nil, true, filter.NewEq("uuid", value.NewUUID(u).Partial()), nil, func(e *entry.Entry) {
		for attr, vs := range missing {
			e.Add(attr, vs...)
		}
	})
	return err
}

// coreSchemaEntries describes the domain_info entry every directory needs
// before anything else can be created: spn synthesis and domain rename
// both read it.
func coreSchemaEntries() []*entry.Entry {
	d := entry.New()
	u := systemUUID("domain_info")
	d.Set("uuid", value.NewUUID(u))
	d.Set("class", value.NewUTF8Insensitive("object"), value.NewUTF8Insensitive("domain_info"))
	d.Set("name", value.NewUTF8Insensitive("domain_info"))
	d.Set("domain_name", value.NewUTF8Insensitive("localhost"))
	d.Set("domain_uuid", value.NewUUID(systemUUID("domain_uuid")))
	return []*entry.Entry{d}
}

// idmSchemaEntries seeds the builtin admins group and the access-control
// profiles that grant it unrestricted search/create/modify/delete — the
// minimum an operator needs to do anything else through the directory
// rather than this package's internal bootstrap path.
func idmSchemaEntries() []*entry.Entry {
	admins := entry.New()
	adminsUUID := systemUUID("idm_admins")
	admins.Set("uuid", value.NewUUID(adminsUUID))
	admins.Set("class", value.NewUTF8Insensitive("object"), value.NewUTF8Insensitive("group"))
	admins.Set("name", value.NewUTF8Insensitive("idm_admins"))
	admins.Set("description", value.NewUTF8("built-in administrators group"))

	allFilter, _ := filter.ToJSON(filter.NewPres("uuid"))
	memberOfAdmins, _ := filter.ToJSON(filter.NewEq("memberof", value.NewReferenceUUID(adminsUUID).Partial()))

	searchACP := acpEntry("idm_admins_search", "acp_search", memberOfAdmins, allFilter, []string{"*"})
	createACP := acpEntry("idm_admins_create", "acp_create", memberOfAdmins, allFilter, nil)
	modifyACP := acpEntry("idm_admins_modify", "acp_modify", memberOfAdmins, allFilter, []string{"*"})
	deleteACP := acpEntry("idm_admins_delete", "acp_delete", memberOfAdmins, allFilter, nil)

	return []*entry.Entry{admins, searchACP, createACP, modifyACP, deleteACP}
}

// idmDataEntries seeds illustrative IDM data beyond the bootstrap
// minimum: nothing is required here yet, but MigrateOrCreate's
// idempotence means later releases can append to this slice without
// disturbing an operator's existing directory.
func idmDataEntries() []*entry.Entry {
	return nil
}

func acpEntry(name, class, receiverJSON, targetJSON string, attrs []string) *entry.Entry {
	e := entry.New()
	e.Set("uuid", value.NewUUID(systemUUID(name)))
	e.Set("class", value.NewUTF8Insensitive("object"), value.NewUTF8Insensitive(class))
	e.Set("name", value.NewUTF8Insensitive(name))
	e.Set("acp_receiver", value.NewJSONFilter(receiverJSON))
	e.Set("acp_targetscope", value.NewJSONFilter(targetJSON))
	e.Set("acp_enable", value.NewBoolean(true))
	if len(attrs) > 0 {
		vs := make([]value.Value, len(attrs))
		for i, a := range attrs {
			vs[i] = value.NewUTF8Insensitive(a)
		}
		e.Set("acp_attr", vs...)
	}
	return e
}
