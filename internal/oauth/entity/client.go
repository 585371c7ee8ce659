package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// Client is a registered OAuth client. Clients with a ServiceAccountRef are
// API keys.
type Client struct {
	ClientID          string              `db:"client_id"`
	SecretHash        string              `db:"client_secret_hash"`
	ResourceIDs       database.StringList `db:"resource_ids"`
	Scopes            database.StringList `db:"scopes"`
	GrantTypes        database.StringList `db:"grant_types"`
	Authorities       database.StringList `db:"authorities"`
	AccessValidity    *int64              `db:"access_token_validity"`
	RefreshValidity   *int64              `db:"refresh_token_validity"`
	Trusted           bool                `db:"trusted"`
	ServiceAccountRef *string             `db:"service_account_ref"`
	APIKeyToken       *string             `db:"api_key_token"`
	CreatedAt         time.Time           `db:"created_at"`
}

// IsAPIKey reports whether the client backs an API key.
func (c *Client) IsAPIKey() bool {
	return c.ServiceAccountRef != nil && *c.ServiceAccountRef != ""
}

// APIKey is the administrative view of an API key.
type APIKey struct {
	ClientID          string    `json:"client_id"`
	ServiceAccountRef string    `json:"service_account_ref"`
	Token             string    `json:"token,omitempty"`
	Scope             []string  `json:"scope"`
	CreatedAt         time.Time `json:"created_at"`
}
