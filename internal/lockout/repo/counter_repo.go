package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout/entity"
)

const (
	sqlSelectCounter = `SELECT user_id, failed_attempts, last_failed_at FROM login_failure_counter WHERE user_id = ?`

	sqlUpsertCounter = `INSERT INTO login_failure_counter (user_id, failed_attempts, last_failed_at)
	VALUES (?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		failed_attempts = excluded.failed_attempts,
		last_failed_at = excluded.last_failed_at`

	sqlResetCounter = `UPDATE login_failure_counter SET failed_attempts = 0 WHERE user_id = ?`
)

type CounterRepo struct {
	db *sqlx.DB
}

func NewCounterRepo(db *sqlx.DB) *CounterRepo { return &CounterRepo{db: db} }

// Get returns the user's counter, or a zero counter when none exists yet.
func (r *CounterRepo) Get(ctx context.Context, userID int64) (*entity.Counter, error) {
	var c entity.Counter
	err := r.db.GetContext(ctx, &c, r.db.Rebind(sqlSelectCounter), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &entity.Counter{UserID: userID}, nil
	}
	if err != nil {
		return nil, apperr.Storage("select login failure counter", err)
	}
	return &c, nil
}

// Save upserts the counter row.
func (r *CounterRepo) Save(ctx context.Context, c *entity.Counter) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpsertCounter), c.UserID, c.FailedAttempts, c.LastFailedAt); err != nil {
		return apperr.Storage("upsert login failure counter", err)
	}
	return nil
}

// Reset zeroes the counter, keeping lastFailedAt.
func (r *CounterRepo) Reset(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlResetCounter), userID); err != nil {
		return apperr.Storage("reset login failure counter", err)
	}
	return nil
}
