package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StructuralEquality(t *testing.T) {
	a := &Authentication{
		ClientID:  "gateway",
		Username:  "admin",
		GrantType: GrantPassword,
		Scope:     []string{"write", "read"},
		RequestParameters: map[string]string{
			"grant_type": "password",
			"username":   "admin",
			"password":   "first-secret",
		},
	}
	b := &Authentication{
		ClientID:  "gateway",
		Username:  "admin",
		GrantType: GrantPassword,
		Scope:     []string{"read", "write"},
		RequestParameters: map[string]string{
			"username":   "admin",
			"grant_type": "password",
			"password":   "another-secret",
		},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestFingerprint_DistinguishesPrincipals(t *testing.T) {
	base := &Authentication{ClientID: "gateway", Scope: []string{"read"}}
	user := &Authentication{ClientID: "gateway", Username: "admin", Scope: []string{"read"}}
	other := &Authentication{ClientID: "reports", Scope: []string{"read"}}
	wider := &Authentication{ClientID: "gateway", Scope: []string{"read", "write"}}

	assert.NotEqual(t, base.Fingerprint(), user.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), wider.Fingerprint())
}

func TestTokenKey_Deterministic(t *testing.T) {
	assert.Equal(t, TokenKey("abc"), TokenKey("abc"))
	assert.NotEqual(t, TokenKey("abc"), TokenKey("abd"))
	assert.NotEqual(t, "abc", TokenKey("abc"))
}

func TestAccessToken_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(90 * time.Second)
	tok := &AccessToken{Value: "v", ExpiresAt: &exp}

	assert.False(t, tok.Expired(now))
	assert.Equal(t, int64(90), tok.ExpiresIn(now))
	assert.True(t, tok.Expired(exp))
	assert.Equal(t, int64(0), tok.ExpiresIn(exp.Add(time.Second)))

	forever := &AccessToken{Value: "api-key"}
	assert.False(t, forever.Expired(now.Add(100*365*24*time.Hour)))
	assert.Equal(t, int64(0), forever.ExpiresIn(now))
}

func TestAuthentication_Principal(t *testing.T) {
	client := &Authentication{ClientID: "svc", Authorities: []string{"ROLE_ADMIN"}}
	assert.True(t, client.ClientOnly())
	assert.Equal(t, "svc", client.Principal())
	assert.True(t, client.HasAuthority("ROLE_ADMIN"))

	user := &Authentication{ClientID: "svc", Username: "admin"}
	assert.False(t, user.ClientOnly())
	assert.Equal(t, "admin", user.Principal())
	assert.False(t, user.HasAuthority("ROLE_ADMIN"))
}

func TestFingerprint_FieldsCannotBleed(t *testing.T) {
	victim := &Authentication{ClientID: "web", Username: "alice", Scope: []string{"read"}}
	crafted := &Authentication{ClientID: "web", Username: "alice\nscope=read"}
	assert.NotEqual(t, victim.Fingerprint(), crafted.Fingerprint())

	joined := &Authentication{ClientID: "web", Scope: []string{"read write"}}
	split := &Authentication{ClientID: "web", Scope: []string{"read", "write"}}
	assert.NotEqual(t, joined.Fingerprint(), split.Fingerprint())

	param := &Authentication{ClientID: "web", RequestParameters: map[string]string{"a": "b=c"}}
	shifted := &Authentication{ClientID: "web", RequestParameters: map[string]string{"a=b": "c"}}
	assert.NotEqual(t, param.Fingerprint(), shifted.Fingerprint())

	clientOnly := &Authentication{ClientID: "webu5:alice"}
	withUser := &Authentication{ClientID: "web", Username: "alice"}
	assert.NotEqual(t, clientOnly.Fingerprint(), withUser.Fingerprint())
}
