package value

import (
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormaliseUTF8InsensitiveLowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "alice", Normalise(NewUTF8Insensitive("  Alice  ")))
}

func TestNormaliseUTF8PreservesCase(t *testing.T) {
	assert.Equal(t, "Alice", Normalise(NewUTF8("Alice")))
}

func TestNormaliseBoolean(t *testing.T) {
	assert.Equal(t, "true", Normalise(NewBoolean(true)))
	assert.Equal(t, "false", Normalise(NewBoolean(false)))
}

func TestNormaliseUUIDSyntaxes(t *testing.T) {
	u := uuid.New()
	assert.Equal(t, u.String(), Normalise(NewUUID(u)))
	assert.Equal(t, u.String(), Normalise(NewReferenceUUID(u)))
}

func TestNormaliseSPNConcatenatesLocalAndDomain(t *testing.T) {
	assert.Equal(t, "alice@example.com", Normalise(NewSPN("alice", "example.com")))
}

func TestNormaliseSSHKey(t *testing.T) {
	assert.Equal(t, "ssh-ed25519 AAAA", Normalise(NewSSHKey("ssh-ed25519", "AAAA")))
}

func TestNormaliseCidUsesCidString(t *testing.T) {
	cid := types.NewCid(uuid.New(), uuid.New(), time.Unix(1700000000, 0))
	assert.Equal(t, cid.String(), Normalise(NewCidValue(cid)))
}

func TestPartialEqualIgnoresCaseForInsensitiveValues(t *testing.T) {
	a := NewUTF8Insensitive("Alice").Partial()
	b := NewUTF8Insensitive("alice").Partial()
	assert.True(t, a.Equal(b))
}

func TestPartialNotEqualAcrossSyntaxes(t *testing.T) {
	a := NewUTF8("123").Partial()
	b := NewUint32(123).Partial()
	assert.False(t, a.Equal(b))
}

func TestStringHidesOpaqueCredentialContent(t *testing.T) {
	v := NewCredential("sha256:deadbeef")
	assert.Equal(t, "<credential>", v.String())
	assert.NotContains(t, v.String(), "deadbeef")
}

func TestStringHidesRadiusSecret(t *testing.T) {
	v := NewRadiusSecret("opaque-marker")
	assert.Equal(t, "<radius-secret>", v.String())
}
