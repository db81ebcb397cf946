package plugin

import (
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/value"
)

// domainHooks regenerates every principal's spn when the domain_info
// entry's domain_name changes (§4.5 "domain"). Fixed after spn in the
// pipeline so a rename lands on top of whatever spn just assigned on this
// same write, rather than racing it.
func domainHooks() Hooks {
	return Hooks{
		Name:       "domain",
		PostModify: domainOnModify,
	}
}

func domainOnModify(ctx *Context, pairs []backend.ModifyPair) error {
	for _, p := range pairs {
		if !p.Post.HasClass("domain_info") {
			continue
		}
		old, _ := p.Pre.GetOne("domain_name")
		neu, ok := p.Post.GetOne("domain_name")
		if !ok || value.Normalise(old) == value.Normalise(neu) {
			continue
		}
		return regenerateAllSPNs(ctx, value.Normalise(neu))
	}
	return nil
}

func regenerateAllSPNs(ctx *Context, dn string) error {
	principals, err := ctx.Dir.Search(ctx.Sch, filter.NewPres("spn"))
	if err != nil {
		return err
	}
	var pairs []backend.ModifyPair
	for _, pre := range principals {
		name, ok := pre.GetOne("name")
		if !ok {
			continue
		}
		wantSPN := value.NewSPN(value.Normalise(name), dn)
		if cur, ok := pre.GetOne("spn"); ok && cur.Partial().Equal(wantSPN.Partial()) {
			continue
		}
		post, err := reviseEntry(ctx, pre, func(w *entry.Entry) {
			w.Set("spn", wantSPN)
		})
		if err != nil {
			return err
		}
		pairs = append(pairs, backend.ModifyPair{Pre: pre, Post: post})
	}
	if len(pairs) == 0 {
		return nil
	}
	return ctx.Dir.Modify(ctx.Sch, pairs)
}
