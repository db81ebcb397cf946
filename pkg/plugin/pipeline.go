// Package plugin implements the fixed-order write pipeline: base,
// protected, refint, memberof, spn, domain, attruniq (§4.5). Each plugin
// is a set of hook functions rather than an interface implementation —
// most plugins only care about one or two of the eight hook points, and a
// nil hook is simply skipped, avoiding eight empty-method stubs per
// plugin the way an interface would require.
package plugin

import (
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/types"
)

// Directory is the slice of backend capability a plugin needs: search to
// find entries it must inspect or repair, modify to apply a repair.
// Plugins never call Create or Delete — refint and memberof only ever
// correct attributes on entries that already exist.
type Directory interface {
	Search(sch *schema.Schema, f *filter.Filter) ([]*entry.Entry, error)
	Modify(sch *schema.Schema, pairs []backend.ModifyPair) error
}

// Context carries everything a hook needs beyond its candidate set.
type Context struct {
	Cid      types.Cid
	Internal bool
	Sch      *schema.Schema
	Dir      Directory
}

// reviseEntry runs pre through Invalidate→mutate→Validate→Seal, the
// typestate sequence any plugin-initiated repair of an existing entry
// must follow (§3 Entry transitions). It is how refint and memberof turn
// "remove this dangling reference" into a proper sealed candidate.
func reviseEntry(ctx *Context, pre *entry.Entry, mutate func(*entry.Entry)) (*entry.Entry, error) {
	working, err := pre.Invalidate(ctx.Cid)
	if err != nil {
		return nil, err
	}
	mutate(working)
	valid, err := working.Validate(func(e *entry.Entry) error { return ctx.Sch.ValidateEntry(e) })
	if err != nil {
		return nil, err
	}
	return valid.Seal()
}

// Hooks is one plugin's hook-point implementations. Any nil function is
// skipped.
type Hooks struct {
	Name string

	PreCreateTransform func(ctx *Context, cands []*entry.Entry) error
	PreCreate          func(ctx *Context, cands []*entry.Entry) error
	PostCreate         func(ctx *Context, committed []*entry.Entry) error

	PreModify  func(ctx *Context, pairs []backend.ModifyPair) error
	PostModify func(ctx *Context, pairs []backend.ModifyPair) error

	PreDelete  func(ctx *Context, cands []*entry.Entry) error
	PostDelete func(ctx *Context, deleted []*entry.Entry) error

	Verify func(ctx *Context) kerr.ConsistencyErrors
}

// Pipeline is the fixed, non-configurable plugin order (§4.5: "Plugin
// order is fixed (not configurable)").
type Pipeline struct {
	plugins []Hooks
}

// Default builds the pipeline in fixed order: base, protected, refint,
// memberof, spn, domain, attruniq.
func Default() *Pipeline {
	return &Pipeline{plugins: []Hooks{
		baseHooks(),
		protectedHooks(),
		refintHooks(),
		memberofHooks(),
		spnHooks(),
		domainHooks(),
		attruniqHooks(),
	}}
}

func (p *Pipeline) RunPreCreateTransform(ctx *Context, cands []*entry.Entry) error {
	for _, pl := range p.plugins {
		if pl.PreCreateTransform == nil {
			continue
		}
		if err := pl.PreCreateTransform(ctx, cands); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPreCreate(ctx *Context, cands []*entry.Entry) error {
	for _, pl := range p.plugins {
		if pl.PreCreate == nil {
			continue
		}
		if err := pl.PreCreate(ctx, cands); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPostCreate(ctx *Context, committed []*entry.Entry) error {
	for _, pl := range p.plugins {
		if pl.PostCreate == nil {
			continue
		}
		if err := pl.PostCreate(ctx, committed); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPreModify(ctx *Context, pairs []backend.ModifyPair) error {
	for _, pl := range p.plugins {
		if pl.PreModify == nil {
			continue
		}
		if err := pl.PreModify(ctx, pairs); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPostModify(ctx *Context, pairs []backend.ModifyPair) error {
	for _, pl := range p.plugins {
		if pl.PostModify == nil {
			continue
		}
		if err := pl.PostModify(ctx, pairs); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPreDelete(ctx *Context, cands []*entry.Entry) error {
	for _, pl := range p.plugins {
		if pl.PreDelete == nil {
			continue
		}
		if err := pl.PreDelete(ctx, cands); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

func (p *Pipeline) RunPostDelete(ctx *Context, deleted []*entry.Entry) error {
	for _, pl := range p.plugins {
		if pl.PostDelete == nil {
			continue
		}
		if err := pl.PostDelete(ctx, deleted); err != nil {
			return kerr.Plugin(pl.Name, err.Error())
		}
	}
	return nil
}

// RunVerify collects every plugin's consistency findings rather than
// stopping at the first, matching backend.Verify's report-everything
// style.
func (p *Pipeline) RunVerify(ctx *Context) kerr.ConsistencyErrors {
	var out kerr.ConsistencyErrors
	for _, pl := range p.plugins {
		if pl.Verify == nil {
			continue
		}
		out = append(out, pl.Verify(ctx)...)
	}
	return out
}
