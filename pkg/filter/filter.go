// Package filter implements the boolean filter tree every search, exists,
// ACP receiver/target check, and internal lookup is expressed as (§4.2).
// It is deliberately its own package rather than living inside pkg/schema
// or pkg/backend: both of those need the tree shape (schema to validate
// it, backend to resolve it against indices) and neither may import the
// other.
package filter

import (
	"encoding/json"
	"strings"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/value"
)

// Kind is a filter node's operator.
type Kind int

const (
	Eq Kind = iota
	Pres
	Sub
	Or
	And
	AndNot
)

// Filter is one node of a boolean filter tree. Leaves (Eq, Pres, Sub) carry
// Attr and, for Eq/Sub, a PartialValue; internal nodes (Or, And) carry
// Children; AndNot carries exactly one child, meaning "not this subtree",
// and is only meaningful directly under an And (§4.2).
type Filter struct {
	Kind     Kind
	Attr     string
	PV       value.PartialValue
	Children []*Filter
}

// NewEq builds an attribute-equals-value leaf.
func NewEq(attr string, pv value.PartialValue) *Filter {
	return &Filter{Kind: Eq, Attr: attr, PV: pv}
}

// NewPres builds an attribute-is-present leaf.
func NewPres(attr string) *Filter {
	return &Filter{Kind: Pres, Attr: attr}
}

// NewSub builds a substring-match leaf. pv's Key is the substring needle.
func NewSub(attr string, pv value.PartialValue) *Filter {
	return &Filter{Kind: Sub, Attr: attr, PV: pv}
}

// NewOr builds a disjunction over children.
func NewOr(children ...*Filter) *Filter {
	return &Filter{Kind: Or, Children: children}
}

// NewAnd builds a conjunction over children.
func NewAnd(children ...*Filter) *Filter {
	return &Filter{Kind: And, Children: children}
}

// NewAndNot wraps child as a negated term, valid only as a direct child of
// an And node.
func NewAndNot(child *Filter) *Filter {
	return &Filter{Kind: AndNot, Children: []*Filter{child}}
}

// ToJSON encodes f as the jsonfilter wire form access-control-profile
// entries store their receiver/target scopes as (§3 syntax "jsonfilter").
func ToJSON(f *Filter) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromJSON decodes a jsonfilter value back into a Filter tree.
func FromJSON(encoded string) (*Filter, error) {
	var f Filter
	if err := json.Unmarshal([]byte(encoded), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Walk calls fn for f and every descendant, pre-order.
func (f *Filter) Walk(fn func(*Filter)) {
	if f == nil {
		return
	}
	fn(f)
	for _, c := range f.Children {
		c.Walk(fn)
	}
}

// IsLeaf reports whether f is Eq, Pres, or Sub.
func (f *Filter) IsLeaf() bool {
	return f.Kind == Eq || f.Kind == Pres || f.Kind == Sub
}

// Matches evaluates f directly against e's attribute values, independent
// of any index. The backend uses this for post-filtering Partial/ALLIDS
// resolution results; the ACP evaluator uses it for receiver/target checks.
func Matches(f *Filter, e *entry.Entry) bool {
	if f == nil {
		return true
	}
	switch f.Kind {
	case Eq:
		for _, v := range e.Get(f.Attr) {
			if v.Partial().Equal(f.PV) {
				return true
			}
		}
		return false
	case Pres:
		return e.HasAttr(f.Attr)
	case Sub:
		needle := strings.ToLower(f.PV.Key)
		for _, v := range e.Get(f.Attr) {
			if strings.Contains(strings.ToLower(value.Normalise(v)), needle) {
				return true
			}
		}
		return false
	case Or:
		for _, c := range f.Children {
			if Matches(c, e) {
				return true
			}
		}
		return false
	case And:
		for _, c := range f.Children {
			if c.Kind == AndNot {
				if Matches(c.Children[0], e) {
					return false
				}
				continue
			}
			if !Matches(c, e) {
				return false
			}
		}
		return true
	case AndNot:
		// Only meaningful nested in And; evaluated standalone it is a
		// plain negation.
		return !Matches(f.Children[0], e)
	default:
		return false
	}
}
