package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

const userColumns = `id, username, email, email_verified, password_hash, authorities,
	enabled, locked_out, external_id, created_at, updated_at`

const (
	sqlSelectByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	sqlSelectByEmail    = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower(?)`
	sqlSelectByID       = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	sqlInsertUser = `INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSaveUser = `UPDATE users SET email = ?, email_verified = ?, password_hash = ?, authorities = ?,
	enabled = ?, locked_out = ?, updated_at = ? WHERE id = ?`

	sqlUpdatePassword = `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`

	sqlSetLockedOut = `UPDATE users SET locked_out = ?, updated_at = ? WHERE id = ?`
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. ID and ExternalID are assigned by the caller.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(sqlInsertUser),
		u.ID, u.Username, u.Email, u.EmailVerified, u.PasswordHash, u.Authorities,
		u.Enabled, u.LockedOut, u.ExternalID, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.ErrAlreadyExists
		}
		return apperr.Storage("insert user", err)
	}
	return nil
}

// FindByUsername returns apperr.ErrUserNotFound when absent.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.get(ctx, sqlSelectByUsername, username)
}

// FindByEmail matches case-insensitively.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.get(ctx, sqlSelectByEmail, email)
}

func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.get(ctx, sqlSelectByID, id)
}

func (r *UserRepo) get(ctx context.Context, query string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Storage("select user", err)
	}
	return &u, nil
}

// Save writes back the mutable columns of u.
func (r *UserRepo) Save(ctx context.Context, u *entity.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(sqlSaveUser),
		u.Email, u.EmailVerified, u.PasswordHash, u.Authorities, u.Enabled, u.LockedOut, u.UpdatedAt, u.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.ErrAlreadyExists
		}
		return apperr.Storage("update user", err)
	}
	return affectedOne(res)
}

// UpdatePassword replaces the password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpdatePassword), hash, time.Now().UTC(), id)
	if err != nil {
		return apperr.Storage("update password", err)
	}
	return affectedOne(res)
}

// SetLockedOut sets or clears the lockout flag.
func (r *UserRepo) SetLockedOut(ctx context.Context, id int64, locked bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(sqlSetLockedOut), locked, time.Now().UTC(), id)
	if err != nil {
		return apperr.Storage("update locked_out", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("rows affected", err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}
