package plugin

import (
	"fmt"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
)

// attruniqHooks enforces every schema-declared unique attribute across the
// live entry set (§4.5 "attruniq"). Checked last in the pipeline so it
// sees the candidate form the earlier pre-hooks (base's uuid assignment)
// have produced. spn values are synthesised later, by spn's post-hooks
// writing through Directory.Modify, and are not checked here.
func attruniqHooks() Hooks {
	return Hooks{
		Name:      "attruniq",
		PreCreate: attruniqOnCreate,
		PreModify: attruniqOnModify,
	}
}

func attruniqOnCreate(ctx *Context, cands []*entry.Entry) error {
	for _, c := range cands {
		if err := checkUnique(ctx, c, nil); err != nil {
			return err
		}
	}
	return nil
}

func attruniqOnModify(ctx *Context, pairs []backend.ModifyPair) error {
	for _, p := range pairs {
		if err := checkUnique(ctx, p.Post, p.Pre); err != nil {
			return err
		}
	}
	return nil
}

// checkUnique verifies every unique-attribute value on candidate has no
// live holder other than self (self is nil on create, the pre-image on
// modify).
func checkUnique(ctx *Context, candidate, self *entry.Entry) error {
	for _, attr := range ctx.Sch.UniqueAttrs() {
		for _, v := range candidate.Get(attr) {
			holders, err := ctx.Dir.Search(ctx.Sch, filter.NewEq(attr, v.Partial()))
			if err != nil {
				return err
			}
			for _, h := range holders {
				if self != nil && h.UUID() == self.UUID() {
					continue
				}
				return fmt.Errorf("attribute %s value %s is not unique", attr, v)
			}
		}
	}
	return nil
}
