package plugin

import (
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/value"
)

// principalClasses names the classes spn synthesises a value for.
var principalClasses = []string{"person", "account"}

// spnHooks synthesises spn = name@domain_name for principals on create and
// on any change to name (§4.5 "spn").
func spnHooks() Hooks {
	return Hooks{
		Name:       "spn",
		PostCreate: spnOnCreate,
		PostModify: spnOnModify,
	}
}

func isPrincipal(e *entry.Entry) bool {
	for _, cls := range principalClasses {
		if e.HasClass(cls) {
			return true
		}
	}
	return false
}

func domainName(ctx *Context) (string, bool, error) {
	infos, err := ctx.Dir.Search(ctx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("domain_info").Partial()))
	if err != nil {
		return "", false, err
	}
	if len(infos) == 0 {
		return "", false, nil
	}
	v, ok := infos[0].GetOne("domain_name")
	if !ok {
		return "", false, nil
	}
	return value.Normalise(v), true, nil
}

func spnOnCreate(ctx *Context, committed []*entry.Entry) error {
	var pairs []backend.ModifyPair
	dn, ok, err := domainName(ctx)
	if err != nil || !ok {
		return err
	}
	for _, c := range committed {
		if !isPrincipal(c) {
			continue
		}
		name, hasName := c.GetOne("name")
		if !hasName {
			continue
		}
		post, err := reviseEntry(ctx, c, func(w *entry.Entry) {
			w.Set("spn", value.NewSPN(value.Normalise(name), dn))
		})
		if err != nil {
			return err
		}
		pairs = append(pairs, backend.ModifyPair{Pre: c, Post: post})
	}
	if len(pairs) == 0 {
		return nil
	}
	return ctx.Dir.Modify(ctx.Sch, pairs)
}

func spnOnModify(ctx *Context, modified []backend.ModifyPair) error {
	var pairs []backend.ModifyPair
	dn, ok, err := domainName(ctx)
	if err != nil || !ok {
		return err
	}
	for _, p := range modified {
		if !isPrincipal(p.Post) {
			continue
		}
		name, hasName := p.Post.GetOne("name")
		if !hasName {
			continue
		}
		wantSPN := value.NewSPN(value.Normalise(name), dn)
		if cur, ok := p.Post.GetOne("spn"); ok && cur.Partial().Equal(wantSPN.Partial()) {
			continue
		}
		post, err := reviseEntry(ctx, p.Post, func(w *entry.Entry) {
			w.Set("spn", wantSPN)
		})
		if err != nil {
			return err
		}
		pairs = append(pairs, backend.ModifyPair{Pre: p.Post, Post: post})
	}
	if len(pairs) == 0 {
		return nil
	}
	return ctx.Dir.Modify(ctx.Sch, pairs)
}
