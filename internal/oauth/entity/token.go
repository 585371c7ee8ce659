package entity

import (
	"time"
)

// Grant types supported by the token endpoint.
const (
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "bearer"

// RefreshToken is an opaque refresh token. A nil ExpiresAt never expires.
type RefreshToken struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token has expired at now.
func (r *RefreshToken) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// AccessToken is the serialized form of an issued access token.
type AccessToken struct {
	Value          string         `json:"value"`
	TokenType      string         `json:"token_type"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Scope          []string       `json:"scope,omitempty"`
	RefreshToken   *RefreshToken  `json:"refresh_token,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// Expired reports whether the token has expired at now. Tokens without an
// expiration never expire.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime in whole seconds, 0 when the
// token has no expiration or is already expired.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	if t.ExpiresAt == nil {
		return 0
	}
	d := t.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// StoredToken is one row of the access or refresh token table.
type StoredToken struct {
	TokenID                   string     `db:"token_id"`
	SerializedToken           string     `db:"token"`
	AuthenticationFingerprint string     `db:"authentication_id"`
	OwnerUsername             *string    `db:"user_name"`
	ClientID                  string     `db:"client_id"`
	SerializedAuthentication  string     `db:"authentication"`
	LinkedRefreshTokenID      *string    `db:"refresh_token"`
	ExpiresAt                 *time.Time `db:"expires_at"`
}
