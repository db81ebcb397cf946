package plugin

import (
	"fmt"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
)

// baseHooks assigns a uuid to any candidate missing one and rejects
// reserved or colliding uuids (§4.5 "base").
func baseHooks() Hooks {
	return Hooks{
		Name:               "base",
		PreCreateTransform: baseTransform,
		PreCreate:          baseCheck,
	}
}

func baseTransform(ctx *Context, cands []*entry.Entry) error {
	for _, c := range cands {
		if c.HasAttr("uuid") {
			continue
		}
		c.Set("uuid", value.NewUUID(uuid.New()))
	}
	return nil
}

func baseCheck(ctx *Context, cands []*entry.Entry) error {
	seen := map[uuid.UUID]bool{}
	for _, c := range cands {
		u := c.UUID()
		if u == uuid.Nil || u == types.NilUUID {
			return fmt.Errorf("reserved uuid %s", u)
		}
		if seen[u] {
			return fmt.Errorf("duplicate uuid %s in candidate batch", u)
		}
		seen[u] = true

		exists, err := ctx.Dir.Search(ctx.Sch, filter.NewEq("uuid", value.NewUUID(u).Partial()))
		if err != nil {
			return err
		}
		if len(exists) > 0 {
			return fmt.Errorf("uuid %s already exists", u)
		}
	}
	return nil
}
