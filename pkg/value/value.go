// Package value implements the tagged-union Value/PartialValue types that
// every attribute in an entry is stored as, along with the syntaxes and
// index-key normalisation rules that the schema and filter resolver depend
// on.
package value

import (
	"fmt"
	"strings"

	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

// Syntax names the wire/storage representation of an attribute's values.
type Syntax string

const (
	SyntaxUTF8            Syntax = "utf8"
	SyntaxUTF8Insensitive Syntax = "utf8insensitive"
	SyntaxBoolean         Syntax = "boolean"
	SyntaxSyntaxID        Syntax = "syntaxid"
	SyntaxIndexID         Syntax = "indexid"
	SyntaxUUID            Syntax = "uuid"
	SyntaxReferenceUUID   Syntax = "referenceuuid"
	SyntaxJSONFilter      Syntax = "jsonfilter"
	SyntaxCredential      Syntax = "credential"
	SyntaxRadiusSecret    Syntax = "radiussecret"
	SyntaxSSHKey          Syntax = "sshkey"
	SyntaxSPN             Syntax = "spn"
	SyntaxUint32          Syntax = "uint32"
	SyntaxCid             Syntax = "cid"
)

// IndexType names the kind of inverted index an (attribute, index-type)
// pair maintains (§3 Index).
type IndexType string

const (
	IndexEquality  IndexType = "EQUALITY"
	IndexPresence  IndexType = "PRESENCE"
	IndexSubstring IndexType = "SUBSTRING"
)

// SSHKeyValue is the structured form of an SSH public key value: a key
// type tag plus the key material, matching the "tag + key" shape in §3.
type SSHKeyValue struct {
	KeyType string
	Key     string
}

// SPNValue is a service principal name, localpart@domain_name.
type SPNValue struct {
	LocalPart string
	Domain    string
}

// Value is a tagged union over every syntax an attribute can hold. Exactly
// one of the typed fields is meaningful, selected by Syntax; Go has no sum
// types, so this is a discriminated struct rather than an interface, which
// also lets entries store Values directly without boxing.
type Value struct {
	Syntax Syntax

	Str  string      // UTF8, UTF8Insensitive, JSONFilter, Credential (opaque marker), RadiusSecret (opaque marker)
	Bool bool         // Boolean
	U32  uint32       // SyntaxID, IndexID, Uint32
	UUID uuid.UUID    // UUID, ReferenceUUID
	SSH  SSHKeyValue  // SSHKey
	SPN  SPNValue     // SPN
	Cid  types.Cid    // Cid
}

// NewUTF8 builds a case-sensitive UTF8 value.
func NewUTF8(s string) Value { return Value{Syntax: SyntaxUTF8, Str: s} }

// NewUTF8Insensitive builds a case-insensitive UTF8 value.
func NewUTF8Insensitive(s string) Value { return Value{Syntax: SyntaxUTF8Insensitive, Str: s} }

// NewBoolean builds a Boolean value.
func NewBoolean(b bool) Value { return Value{Syntax: SyntaxBoolean, Bool: b} }

// NewUUID builds a UUID value.
func NewUUID(u uuid.UUID) Value { return Value{Syntax: SyntaxUUID, UUID: u} }

// NewReferenceUUID builds a ReferenceUUID value. Reference values always
// hold a UUID, never a name: name resolution happens once, at parse time
// (see pkg/server.CloneValue), producing the sentinel types.NilUUID for an
// unresolvable name.
func NewReferenceUUID(u uuid.UUID) Value { return Value{Syntax: SyntaxReferenceUUID, UUID: u} }

// NewCredential builds an opaque Credential value. The "content" (hash,
// KDF parameters) is intentionally not modelled here — credential hashing
// primitives are out of scope for this core; callers hand us an opaque
// marker string that round-trips but is never interpreted.
func NewCredential(opaqueMarker string) Value { return Value{Syntax: SyntaxCredential, Str: opaqueMarker} }

// NewRadiusSecret builds an opaque RadiusSecret value, same opacity rule as
// Credential.
func NewRadiusSecret(opaqueMarker string) Value {
	return Value{Syntax: SyntaxRadiusSecret, Str: opaqueMarker}
}

// NewSSHKey builds an SSHKey value.
func NewSSHKey(keyType, key string) Value {
	return Value{Syntax: SyntaxSSHKey, SSH: SSHKeyValue{KeyType: keyType, Key: key}}
}

// NewSPN builds an SPN value.
func NewSPN(localPart, domain string) Value {
	return Value{Syntax: SyntaxSPN, SPN: SPNValue{LocalPart: localPart, Domain: domain}}
}

// NewUint32 builds a Uint32 value.
func NewUint32(v uint32) Value { return Value{Syntax: SyntaxUint32, U32: v} }

// NewCidValue builds a Cid value.
func NewCidValue(c types.Cid) Value { return Value{Syntax: SyntaxCid, Cid: c} }

// NewJSONFilter builds a JSONFilter value: an encoded filter.Filter tree,
// used by access-control-profile entries to store their receiver/target
// scopes (§3, "ACP"). encoded is opaque to this package — pkg/filter owns
// the encoding.
func NewJSONFilter(encoded string) Value { return Value{Syntax: SyntaxJSONFilter, Str: encoded} }

// PartialValue is the projection of a Value used for equality and
// indexing. For opaque syntaxes (Credential, RadiusSecret) it drops the
// content, keeping only the index key the full Value would normalise to,
// so a filter can match "this attribute has this credential's index tag"
// without ever exposing the credential itself to the filter resolver.
type PartialValue struct {
	Syntax Syntax
	Key    string // normalised index key
}

// Partial projects v down to its PartialValue (index) form.
func (v Value) Partial() PartialValue {
	return PartialValue{Syntax: v.Syntax, Key: Normalise(v)}
}

// Equal reports whether two PartialValues denote the same indexed value.
func (p PartialValue) Equal(o PartialValue) bool {
	return p.Syntax == o.Syntax && p.Key == o.Key
}

// Normalise computes v's index-key form. This is the single function both
// the value's on-disk proto form and its posting-list key must agree
// under (§3 invariant: "a value's proto form and its index form agree
// under normalise").
func Normalise(v Value) string {
	switch v.Syntax {
	case SyntaxUTF8:
		return v.Str
	case SyntaxUTF8Insensitive:
		return strings.ToLower(strings.TrimSpace(v.Str))
	case SyntaxBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case SyntaxSyntaxID, SyntaxIndexID, SyntaxUint32:
		return fmt.Sprintf("%d", v.U32)
	case SyntaxUUID, SyntaxReferenceUUID:
		return v.UUID.String()
	case SyntaxJSONFilter:
		return v.Str
	case SyntaxCredential, SyntaxRadiusSecret:
		// The opaque marker IS the index key: we never index on the
		// credential's content, only on its presence/identity tag.
		return v.Str
	case SyntaxSSHKey:
		return v.SSH.KeyType + " " + v.SSH.Key
	case SyntaxSPN:
		return v.SPN.LocalPart + "@" + v.SPN.Domain
	case SyntaxCid:
		return v.Cid.String()
	default:
		return v.Str
	}
}

// String renders the value for logging/debugging. Opaque syntaxes render
// as a fixed placeholder, never their content.
func (v Value) String() string {
	switch v.Syntax {
	case SyntaxCredential:
		return "<credential>"
	case SyntaxRadiusSecret:
		return "<radius-secret>"
	default:
		return Normalise(v)
	}
}
