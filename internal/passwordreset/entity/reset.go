package entity

import "time"

// Registry is the per-user record of password reset requests.
type Registry struct {
	UserID          int64     `db:"user_id"`
	AttemptCount    int       `db:"attempt_count"`
	WindowStartedAt time.Time `db:"window_started_at"`
	LastAttemptAt   time.Time `db:"last_attempt_at"`
	Blocked         bool      `db:"blocked"`
}

// ResetToken is the stored digest of an outstanding reset token. At most one
// exists per user.
type ResetToken struct {
	UserID    int64     `db:"user_id"`
	TokenID   string    `db:"token_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
