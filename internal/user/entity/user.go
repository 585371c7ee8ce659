package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// User is a row of the users table. ExternalID is the stable identifier
// other services resolve users by.
type User struct {
	ID            int64               `db:"id"`
	Username      string              `db:"username"`
	Email         *string             `db:"email"`
	EmailVerified bool                `db:"email_verified"`
	PasswordHash  string              `db:"password_hash"`
	Authorities   database.StringList `db:"authorities"`
	Enabled       bool                `db:"enabled"`
	LockedOut     bool                `db:"locked_out"`
	ExternalID    string              `db:"external_id"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

// Profile is the public projection returned by the API.
type Profile struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	ExternalID  string   `json:"user_uuid"`
	Authorities []string `json:"authorities"`
}

func (u *User) Profile() Profile {
	p := Profile{ID: u.ID, Username: u.Username, ExternalID: u.ExternalID, Authorities: u.Authorities}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if p.Authorities == nil {
		p.Authorities = []string{}
	}
	return p
}
