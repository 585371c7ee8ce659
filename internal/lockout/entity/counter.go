package entity

import "time"

// Counter tracks consecutive failed authentications of one user. The row
// is created on the first failure.
type Counter struct {
	UserID         int64     `db:"user_id"`
	FailedAttempts int       `db:"failed_attempts"`
	LastFailedAt   time.Time `db:"last_failed_at"`
}
