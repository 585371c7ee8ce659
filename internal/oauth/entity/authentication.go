package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Authentication is the context a token was issued for: the client, the
// optional end user and what was granted.
type Authentication struct {
	ClientID          string            `json:"client_id"`
	Username          string            `json:"username,omitempty"`
	UserID            int64             `json:"user_id,omitempty"`
	GrantType         string            `json:"grant_type"`
	Scope             []string          `json:"scope,omitempty"`
	ResourceIDs       []string          `json:"resource_ids,omitempty"`
	Authorities       []string          `json:"authorities,omitempty"`
	RequestParameters map[string]string `json:"request_parameters,omitempty"`
}

// ClientOnly reports whether no end user is bound to the authentication.
func (a *Authentication) ClientOnly() bool {
	return a.Username == ""
}

// Principal returns the username, or the client id for client-only tokens.
func (a *Authentication) Principal() string {
	if a.ClientOnly() {
		return a.ClientID
	}
	return a.Username
}

// HasAuthority reports whether the authentication carries authority.
func (a *Authentication) HasAuthority(authority string) bool {
	for _, v := range a.Authorities {
		if v == authority {
			return true
		}
	}
	return false
}

// request parameters never folded into a fingerprint
var secretParameters = map[string]struct{}{
	"password":      {},
	"client_secret": {},
	"refresh_token": {},
}

// Fingerprint is the deterministic digest of client id, username, scope and
// the non-secret request parameters. Structurally equal authentications
// fingerprint identically regardless of scope or parameter order. Every
// field is tagged and length-prefixed so no field value can spill into
// another.
func (a *Authentication) Fingerprint() string {
	var b strings.Builder
	writeField(&b, 'c', a.ClientID)
	if a.Username != "" {
		writeField(&b, 'u', a.Username)
	}
	scope := append([]string(nil), a.Scope...)
	sort.Strings(scope)
	for _, s := range scope {
		writeField(&b, 's', s)
	}
	keys := make([]string, 0, len(a.RequestParameters))
	for k := range a.RequestParameters {
		if _, secret := secretParameters[k]; secret || k == "scope" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&b, 'k', k)
		writeField(&b, 'v', a.RequestParameters[k])
	}
	return digest(b.String())
}

func writeField(b *strings.Builder, tag byte, value string) {
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}

// TokenKey is the primary lookup key of a token value.
func TokenKey(value string) string {
	return digest(value)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
