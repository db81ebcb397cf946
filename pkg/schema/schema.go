// Package schema implements the attribute and class catalog, entry and
// filter validation against it, and the bootstrap ("system") schema every
// fresh directory starts with (§4.3).
package schema

import (
	"strings"
	"sync"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/value"
)

// Attribute describes one schema-known attribute.
type Attribute struct {
	Name       string
	Syntax     value.Syntax
	MultiValue bool
	Unique     bool
	IndexTypes []value.IndexType
}

// Class describes one schema-known object class.
type Class struct {
	Name        string
	May         []string
	Must        []string
	SystemMay   []string
	SystemMust  []string
	Supplements []string
}

// EffectiveMay returns every attribute name class permits, system or user
// defined.
func (c *Class) EffectiveMay() []string { return append(append([]string{}, c.SystemMay...), c.May...) }

// EffectiveMust returns every attribute name class requires.
func (c *Class) EffectiveMust() []string {
	return append(append([]string{}, c.SystemMust...), c.Must...)
}

// Schema is the live attribute/class catalog. It is reloaded wholesale
// (never patched in place) whenever a classtype/attributetype entry
// commits, so readers holding a *Schema snapshot see a consistent view
// even while a reload is in flight on another goroutine (§4.3).
type Schema struct {
	mu      sync.RWMutex
	attrs   map[string]*Attribute
	classes map[string]*Class
}

// NormaliseAttrName lower-cases and trims an attribute name. Every lookup
// against a Schema must go through this first.
func NormaliseAttrName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// New returns a Schema pre-populated with the system attributes and
// classes every directory needs regardless of what the operator defines:
// identity, lifecycle, membership, and the classtype/attributetype
// bootstrapping classes themselves.
func New() *Schema {
	s := &Schema{attrs: map[string]*Attribute{}, classes: map[string]*Class{}}
	for _, a := range systemAttributes() {
		s.attrs[a.Name] = a
	}
	for _, c := range systemClasses() {
		s.classes[c.Name] = c
	}
	return s
}

func systemAttributes() []*Attribute {
	return []*Attribute{
		{Name: "uuid", Syntax: value.SyntaxUUID, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "name", Syntax: value.SyntaxUTF8Insensitive, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "class", Syntax: value.SyntaxUTF8Insensitive, MultiValue: true, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality, value.IndexPresence}},
		{Name: "description", Syntax: value.SyntaxUTF8, MultiValue: false, Unique: false},
		{Name: "last_modified_cid", Syntax: value.SyntaxCid, MultiValue: false, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "last_created_cid", Syntax: value.SyntaxCid, MultiValue: false, Unique: false},
		{Name: "memberof", Syntax: value.SyntaxReferenceUUID, MultiValue: true, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "directmemberof", Syntax: value.SyntaxReferenceUUID, MultiValue: true, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "member", Syntax: value.SyntaxReferenceUUID, MultiValue: true, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "displayname", Syntax: value.SyntaxUTF8, MultiValue: false, Unique: false, IndexTypes: []value.IndexType{value.IndexSubstring}},
		{Name: "mail", Syntax: value.SyntaxUTF8Insensitive, MultiValue: true, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "spn", Syntax: value.SyntaxSPN, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "domain_name", Syntax: value.SyntaxUTF8Insensitive, MultiValue: false, Unique: false},
		{Name: "domain_uuid", Syntax: value.SyntaxUUID, MultiValue: false, Unique: false},
		{Name: "gidnumber", Syntax: value.SyntaxUint32, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "sshpublickey", Syntax: value.SyntaxSSHKey, MultiValue: true, Unique: false},
		{Name: "userpassword", Syntax: value.SyntaxCredential, MultiValue: false, Unique: false},
		{Name: "radius_secret", Syntax: value.SyntaxRadiusSecret, MultiValue: false, Unique: false},
		{Name: "classname", Syntax: value.SyntaxUTF8Insensitive, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "attributename", Syntax: value.SyntaxUTF8Insensitive, MultiValue: false, Unique: true, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "may", Syntax: value.SyntaxUTF8Insensitive, MultiValue: true, Unique: false},
		{Name: "must", Syntax: value.SyntaxUTF8Insensitive, MultiValue: true, Unique: false},
		{Name: "syntax", Syntax: value.SyntaxSyntaxID, MultiValue: false, Unique: false},
		{Name: "multivalue", Syntax: value.SyntaxBoolean, MultiValue: false, Unique: false},
		{Name: "unique", Syntax: value.SyntaxBoolean, MultiValue: false, Unique: false},
		{Name: "index", Syntax: value.SyntaxIndexID, MultiValue: true, Unique: false},
		{Name: "acp_receiver", Syntax: value.SyntaxJSONFilter, MultiValue: false, Unique: false},
		{Name: "acp_targetscope", Syntax: value.SyntaxJSONFilter, MultiValue: false, Unique: false},
		{Name: "acp_enable", Syntax: value.SyntaxBoolean, MultiValue: false, Unique: false, IndexTypes: []value.IndexType{value.IndexEquality}},
		{Name: "acp_attr", Syntax: value.SyntaxUTF8Insensitive, MultiValue: true, Unique: false},
	}
}

func systemClasses() []*Class {
	return []*Class{
		{Name: "object", SystemMust: []string{"uuid", "class"}, SystemMay: []string{"name", "last_modified_cid", "last_created_cid"}},
		{Name: "extensibleobject", Supplements: []string{"object"}},
		{Name: "recycled", Supplements: []string{"object"}},
		{Name: "tombstone", Supplements: []string{"object"}},
		{Name: "person", Supplements: []string{"object"}, SystemMay: []string{"displayname", "mail", "spn", "memberof", "directmemberof"}},
		{Name: "group", Supplements: []string{"object"}, SystemMay: []string{"member", "memberof", "directmemberof", "description"}},
		{Name: "account", Supplements: []string{"object"}, SystemMay: []string{"spn", "sshpublickey", "userpassword", "gidnumber", "memberof", "directmemberof"}},
		{Name: "domain_info", Supplements: []string{"object"}, SystemMust: []string{"domain_name", "domain_uuid"}},
		{Name: "classtype", Supplements: []string{"object"}, SystemMust: []string{"classname"}, SystemMay: []string{"may", "must", "description"}},
		{Name: "attributetype", Supplements: []string{"object"}, SystemMust: []string{"attributename", "syntax"}, SystemMay: []string{"multivalue", "unique", "index", "description"}},
		{Name: "acp_search", Supplements: []string{"object"}, SystemMust: []string{"acp_receiver", "acp_targetscope"}, SystemMay: []string{"acp_enable", "acp_attr", "description"}},
		{Name: "acp_create", Supplements: []string{"object"}, SystemMust: []string{"acp_receiver", "acp_targetscope"}, SystemMay: []string{"acp_enable", "description"}},
		{Name: "acp_modify", Supplements: []string{"object"}, SystemMust: []string{"acp_receiver", "acp_targetscope"}, SystemMay: []string{"acp_enable", "acp_attr", "description"}},
		{Name: "acp_delete", Supplements: []string{"object"}, SystemMust: []string{"acp_receiver", "acp_targetscope"}, SystemMay: []string{"acp_enable", "description"}},
	}
}

// Attribute looks up a by its normalised name.
func (s *Schema) Attribute(name string) (*Attribute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[NormaliseAttrName(name)]
	return a, ok
}

// Class looks up c by its normalised name.
func (s *Schema) Class(name string) (*Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[NormaliseAttrName(name)]
	return c, ok
}

// IdxMeta returns every (attribute, index-type) pair with at least one
// declared index, the set the filter resolver and backend index
// maintenance iterate over (§3 Index: "idxmeta derived from schema").
type IdxKey struct {
	Attr string
	Type value.IndexType
}

func (s *Schema) IdxMeta() []IdxKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []IdxKey
	for _, a := range s.attrs {
		for _, t := range a.IndexTypes {
			out = append(out, IdxKey{Attr: a.Name, Type: t})
		}
	}
	return out
}

// UniqueAttrs returns the names of every attribute declared unique, the
// set pkg/plugin's attruniq enforces across live entries.
func (s *Schema) UniqueAttrs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, a := range s.attrs {
		if a.Unique {
			out = append(out, a.Name)
		}
	}
	return out
}

// effectiveMustMay resolves an entry's class attribute to its combined
// must/may attribute sets, following Supplements transitively.
func (s *Schema) effectiveMustMay(classNames []string) (must, may map[string]bool, extensible bool, err error) {
	must, may = map[string]bool{}, map[string]bool{}
	seen := map[string]bool{}
	var visit func(string) error
	visit = func(name string) error {
		name = NormaliseAttrName(name)
		if seen[name] {
			return nil
		}
		seen[name] = true
		c, ok := s.classes[name]
		if !ok {
			return kerr.SchemaViolation("unknown class " + name)
		}
		if name == "extensibleobject" {
			extensible = true
		}
		for _, a := range c.EffectiveMust() {
			must[NormaliseAttrName(a)] = true
		}
		for _, a := range c.EffectiveMay() {
			may[NormaliseAttrName(a)] = true
		}
		for _, sup := range c.Supplements {
			if err := visit(sup); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range classNames {
		if err := visit(name); err != nil {
			return nil, nil, false, err
		}
	}
	return must, may, extensible, nil
}

// ValidateEntry checks e's attribute set against the class(es) it declares
// (§4.3): every must-attribute present, no attribute outside must∪may
// unless extensibleobject is among its classes, and every value's syntax
// matching its attribute's declared syntax.
func (s *Schema) ValidateEntry(e *entry.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classVals := e.Get("class")
	if len(classVals) == 0 {
		return kerr.SchemaViolation("entry has no class attribute")
	}
	classNames := make([]string, 0, len(classVals))
	for _, v := range classVals {
		classNames = append(classNames, value.Normalise(v))
	}

	must, may, extensible, err := s.effectiveMustMay(classNames)
	if err != nil {
		return err
	}

	for attr := range must {
		if !e.HasAttr(attr) {
			return kerr.SchemaViolation("missing must attribute " + attr)
		}
	}

	for _, attrName := range e.AttrNames() {
		norm := NormaliseAttrName(attrName)
		schemaAttr, known := s.attrs[norm]
		if !known {
			return kerr.SchemaViolation("unknown attribute " + norm)
		}
		if !must[norm] && !may[norm] && !extensible {
			return kerr.SchemaViolation("attribute " + norm + " not permitted by class set")
		}
		vals := e.Get(attrName)
		if !schemaAttr.MultiValue && len(vals) > 1 {
			return kerr.SchemaViolation("attribute " + norm + " is single-valued")
		}
		for _, v := range vals {
			if v.Syntax != schemaAttr.Syntax {
				return kerr.SchemaViolation("attribute " + norm + " has wrong syntax")
			}
		}
	}
	return nil
}

// ValidateFilter checks that every attribute f references is schema-known
// and, for substring leaves, that the attribute declares a SUBSTRING index
// (§4.2 step 1).
func (s *Schema) ValidateFilter(f *filter.Filter) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var walkErr error
	f.Walk(func(node *filter.Filter) {
		if walkErr != nil || !node.IsLeaf() {
			return
		}
		a, ok := s.attrs[NormaliseAttrName(node.Attr)]
		if !ok {
			walkErr = kerr.SchemaViolation("unknown filter attribute " + node.Attr)
			return
		}
		if node.Kind == filter.Sub {
			hasSub := false
			for _, t := range a.IndexTypes {
				if t == value.IndexSubstring {
					hasSub = true
					break
				}
			}
			if !hasSub {
				walkErr = kerr.SchemaViolation("attribute " + node.Attr + " has no substring index")
			}
		}
	})
	return walkErr
}

// Reload rebuilds the catalog from the live classtype/attributetype
// entries found in the directory, layered on top of the system schema
// (§4.3: "reloaded when any committed entry's class contains
// attributetype or classtype"). Callers invoke this after any such commit
// and discard the old *Schema rather than mutating it, so concurrent
// readers never see a half-applied reload.
func Reload(classtypeEntries, attributetypeEntries []*entry.Entry) (*Schema, error) {
	fresh := New()
	for _, e := range attributetypeEntries {
		name, _ := e.GetOne("attributename")
		syn, _ := e.GetOne("syntax")
		multi := false
		if v, ok := e.GetOne("multivalue"); ok {
			multi = v.Bool
		}
		uniq := false
		if v, ok := e.GetOne("unique"); ok {
			uniq = v.Bool
		}
		var idx []value.IndexType
		for _, v := range e.Get("index") {
			idx = append(idx, value.IndexType(v.Str))
		}
		fresh.attrs[NormaliseAttrName(value.Normalise(name))] = &Attribute{
			Name:       NormaliseAttrName(value.Normalise(name)),
			Syntax:     value.Syntax(syn.Str),
			MultiValue: multi,
			Unique:     uniq,
			IndexTypes: idx,
		}
	}
	for _, e := range classtypeEntries {
		name, _ := e.GetOne("classname")
		var may, must []string
		for _, v := range e.Get("may") {
			may = append(may, value.Normalise(v))
		}
		for _, v := range e.Get("must") {
			must = append(must, value.Normalise(v))
		}
		fresh.classes[NormaliseAttrName(value.Normalise(name))] = &Class{
			Name:        NormaliseAttrName(value.Normalise(name)),
			May:         may,
			Must:        must,
			Supplements: []string{"object"},
		}
	}
	return fresh, nil
}
