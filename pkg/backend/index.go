package backend

import (
	"strings"

	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/value"
)

// presenceKey is the single posting-list key a PRESENCE index ever uses:
// presence indexes record "this attribute has a value on this entry", not
// what that value is, so every contributing entry shares one key.
const presenceKey = "*"

// trigramLen is the substring-index shingle size. Values shorter than
// this never get a substring index entry; a Sub filter against such a
// short needle degrades to ALLIDS (§4.2 step 2: "not indexed... yields
// IDL::ALLIDS").
const trigramLen = 3

func trigrams(s string) []string {
	if len(s) < trigramLen {
		return nil
	}
	seen := make(map[string]bool, len(s))
	var out []string
	for i := 0; i+trigramLen <= len(s); i++ {
		g := s[i : i+trigramLen]
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// indexKeys returns the posting-list keys v contributes under itype.
func indexKeys(v value.Value, itype value.IndexType) []string {
	switch itype {
	case value.IndexEquality:
		return []string{value.Normalise(v)}
	case value.IndexPresence:
		return []string{presenceKey}
	case value.IndexSubstring:
		return trigrams(strings.ToLower(value.Normalise(v)))
	default:
		return nil
	}
}

// entryIndexKeys collects every (attr, itype, key) triple e contributes,
// given sch's idxmeta. One attribute with several values can repeat an
// (attr,itype,key) pair; callers de-duplicate with a set.
func entryIndexKeys(sch *schema.Schema, e *entry.Entry) map[idxTriple]bool {
	out := map[idxTriple]bool{}
	for _, ik := range sch.IdxMeta() {
		vals := e.Get(ik.Attr)
		if len(vals) == 0 {
			continue
		}
		for _, v := range vals {
			for _, k := range indexKeys(v, ik.Type) {
				out[idxTriple{Attr: ik.Attr, Type: ik.Type, Key: k}] = true
			}
		}
	}
	return out
}

type idxTriple struct {
	Attr string
	Type value.IndexType
	Key  string
}
