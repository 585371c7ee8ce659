package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/entity"
)

const (
	sqlSelectRegistry = `SELECT user_id, attempt_count, window_started_at, last_attempt_at, blocked
	FROM password_reset_throttle WHERE user_id = ?`

	sqlUpsertRegistry = `INSERT INTO password_reset_throttle (user_id, attempt_count, window_started_at, last_attempt_at, blocked)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		attempt_count = excluded.attempt_count,
		window_started_at = excluded.window_started_at,
		last_attempt_at = excluded.last_attempt_at,
		blocked = excluded.blocked`

	sqlUpsertToken = `INSERT INTO password_reset_token (user_id, token_id, expires_at, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		token_id = excluded.token_id,
		expires_at = excluded.expires_at,
		created_at = excluded.created_at`

	sqlSelectToken = `SELECT user_id, token_id, expires_at, created_at FROM password_reset_token WHERE token_id = ?`

	sqlDeleteToken = `DELETE FROM password_reset_token WHERE user_id = ?`
)

// ResetRepo stores throttle registries and reset tokens.
type ResetRepo struct {
	db *sqlx.DB
}

func NewResetRepo(db *sqlx.DB) *ResetRepo { return &ResetRepo{db: db} }

// GetRegistry returns nil without error when the user has no registry yet.
func (r *ResetRepo) GetRegistry(ctx context.Context, userID int64) (*entity.Registry, error) {
	var reg entity.Registry
	err := r.db.GetContext(ctx, &reg, r.db.Rebind(sqlSelectRegistry), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("select reset throttle", err)
	}
	return &reg, nil
}

func (r *ResetRepo) SaveRegistry(ctx context.Context, reg *entity.Registry) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpsertRegistry),
		reg.UserID, reg.AttemptCount, reg.WindowStartedAt, reg.LastAttemptAt, reg.Blocked)
	if err != nil {
		return apperr.Storage("upsert reset throttle", err)
	}
	return nil
}

// SaveToken replaces the user's outstanding reset token.
func (r *ResetRepo) SaveToken(ctx context.Context, t *entity.ResetToken) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpsertToken), t.UserID, t.TokenID, t.ExpiresAt, t.CreatedAt); err != nil {
		return apperr.Storage("upsert reset token", err)
	}
	return nil
}

// FindToken returns apperr.ErrTokenInvalid for unknown digests.
func (r *ResetRepo) FindToken(ctx context.Context, tokenID string) (*entity.ResetToken, error) {
	var t entity.ResetToken
	if err := r.db.GetContext(ctx, &t, r.db.Rebind(sqlSelectToken), tokenID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrTokenInvalid
		}
		return nil, apperr.Storage("select reset token", err)
	}
	return &t, nil
}

func (r *ResetRepo) DeleteToken(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlDeleteToken), userID); err != nil {
		return apperr.Storage("delete reset token", err)
	}
	return nil
}
