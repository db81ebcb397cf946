package plugin

import (
	"fmt"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
)

// protectedClasses names classes an external caller may never modify or
// delete, matching the system object classes pkg/schema bootstraps
// (classtype, attributetype, domain_info). The meta "object" class that
// every entry carries is not in the set.
var protectedClasses = map[string]bool{
	"classtype":     true,
	"attributetype": true,
	"domain_info":   true,
}

// protectedHooks forbids external mutation or deletion of system-protected
// classes (§4.5 "protected"). Internal writes — schema reload bootstrap,
// domain rename cascades — set Context.Internal and bypass this check.
func protectedHooks() Hooks {
	return Hooks{
		Name:      "protected",
		PreModify: protectedPreModify,
		PreDelete: protectedPreDelete,
	}
}

func isProtected(e *entry.Entry) bool {
	for cls := range protectedClasses {
		if e.HasClass(cls) {
			return true
		}
	}
	return false
}

func protectedPreModify(ctx *Context, pairs []backend.ModifyPair) error {
	if ctx.Internal {
		return nil
	}
	for _, p := range pairs {
		if isProtected(p.Pre) {
			return fmt.Errorf("entry %s belongs to a protected class", p.Pre.UUID())
		}
	}
	return nil
}

func protectedPreDelete(ctx *Context, cands []*entry.Entry) error {
	if ctx.Internal {
		return nil
	}
	for _, c := range cands {
		if isProtected(c) {
			return fmt.Errorf("entry %s belongs to a protected class", c.UUID())
		}
	}
	return nil
}
