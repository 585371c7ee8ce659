package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
)

// Tables names the token tables. Names may be schema-qualified
// (e.g. "auth.oauth_access_token").
type Tables struct {
	Access  string `env:"ACCESS_TABLE" envDefault:"oauth_access_token"`
	Refresh string `env:"REFRESH_TABLE" envDefault:"oauth_refresh_token"`
}

// DefaultTables returns the table names created by the bundled migrations.
func DefaultTables() Tables {
	return Tables{Access: "oauth_access_token", Refresh: "oauth_refresh_token"}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate rejects names that are not plain (optionally schema-qualified)
// identifiers; they are interpolated into SQL.
func (t Tables) Validate() error {
	for _, name := range []string{t.Access, t.Refresh} {
		if !tableNamePattern.MatchString(name) {
			return fmt.Errorf("invalid token table name %q", name)
		}
	}
	return nil
}

const accessColumns = `token_id, token, authentication_id, user_name, client_id, authentication, refresh_token, expires_at`

type tokenQueries struct {
	deleteAccess                string
	insertAccess                string
	selectAccess                string
	selectAccessByAuth          string
	selectAccessByClient        string
	selectAccessByUser          string
	selectAccessByUserAndClient string
	updateAccess                string
	deleteAccessByRefresh       string
	deleteRefresh               string
	insertRefresh               string
	selectRefresh               string
}

// TokenRepo is the relational token record store. Every token is keyed by
// the digest of its value; the raw value only lives inside the serialized
// token.
type TokenRepo struct {
	db *sqlx.DB
	q  tokenQueries
}

// NewTokenRepo builds the store for the given tables. A zero Tables uses the
// defaults.
func NewTokenRepo(db *sqlx.DB, tables Tables) (*TokenRepo, error) {
	if tables == (Tables{}) {
		tables = DefaultTables()
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	a, r := tables.Access, tables.Refresh
	q := tokenQueries{
		deleteAccess:                `DELETE FROM ` + a + ` WHERE token_id = ?`,
		insertAccess:                `INSERT INTO ` + a + ` (` + accessColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		selectAccess:                `SELECT ` + accessColumns + ` FROM ` + a + ` WHERE token_id = ?`,
		selectAccessByAuth:          `SELECT ` + accessColumns + ` FROM ` + a + ` WHERE authentication_id = ?`,
		selectAccessByClient:        `SELECT ` + accessColumns + ` FROM ` + a + ` WHERE client_id = ? ORDER BY token_id`,
		selectAccessByUser:          `SELECT ` + accessColumns + ` FROM ` + a + ` WHERE user_name = ? ORDER BY token_id`,
		selectAccessByUserAndClient: `SELECT ` + accessColumns + ` FROM ` + a + ` WHERE user_name = ? AND client_id = ? ORDER BY token_id`,
		updateAccess:                `UPDATE ` + a + ` SET token = ?, expires_at = ? WHERE token_id = ?`,
		deleteAccessByRefresh:       `DELETE FROM ` + a + ` WHERE refresh_token = ?`,
		deleteRefresh:               `DELETE FROM ` + r + ` WHERE token_id = ?`,
		insertRefresh:               `INSERT INTO ` + r + ` (token_id, token, authentication, expires_at) VALUES (?, ?, ?, ?)`,
		selectRefresh:               `SELECT token_id, token, authentication, expires_at FROM ` + r + ` WHERE token_id = ?`,
	}
	for _, p := range []*string{
		&q.deleteAccess, &q.insertAccess, &q.selectAccess, &q.selectAccessByAuth,
		&q.selectAccessByClient, &q.selectAccessByUser, &q.selectAccessByUserAndClient,
		&q.updateAccess, &q.deleteAccessByRefresh, &q.deleteRefresh, &q.insertRefresh, &q.selectRefresh,
	} {
		*p = db.Rebind(*p)
	}
	return &TokenRepo{db: db, q: q}, nil
}

// StoreAccessToken replaces any row for the token value with a fresh one in
// a single transaction.
func (r *TokenRepo) StoreAccessToken(ctx context.Context, token *entity.AccessToken, auth *entity.Authentication) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("serialize access token: %w", err)
	}
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("serialize authentication: %w", err)
	}
	var refreshID *string
	if token.RefreshToken != nil {
		id := entity.TokenKey(token.RefreshToken.Value)
		refreshID = &id
	}
	var username *string
	if !auth.ClientOnly() {
		username = &auth.Username
	}
	tokenID := entity.TokenKey(token.Value)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin store access token", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, r.q.deleteAccess, tokenID); err != nil {
		return apperr.Storage("delete previous access token", err)
	}
	if _, err := tx.ExecContext(ctx, r.q.insertAccess,
		tokenID, string(tokenJSON), auth.Fingerprint(), username, auth.ClientID,
		string(authJSON), refreshID, token.ExpiresAt,
	); err != nil {
		return apperr.Storage("insert access token", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit access token", err)
	}
	return nil
}

// Read returns the raw row for an access token value.
func (r *TokenRepo) Read(ctx context.Context, value string) (*entity.StoredToken, error) {
	var row entity.StoredToken
	if err := r.db.GetContext(ctx, &row, r.q.selectAccess, entity.TokenKey(value)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrTokenNotFound
		}
		return nil, apperr.Storage("select access token", err)
	}
	return &row, nil
}

// ReadAccessToken returns the access token stored for value.
func (r *TokenRepo) ReadAccessToken(ctx context.Context, value string) (*entity.AccessToken, error) {
	row, err := r.Read(ctx, value)
	if err != nil {
		return nil, err
	}
	return decodeAccessToken(row)
}

// ReadAuthentication returns the authentication an access token was issued for.
func (r *TokenRepo) ReadAuthentication(ctx context.Context, value string) (*entity.Authentication, error) {
	row, err := r.Read(ctx, value)
	if err != nil {
		return nil, err
	}
	return decodeAuthentication(row.SerializedAuthentication)
}

// GetAccessToken finds the token previously issued for an equivalent
// authentication.
func (r *TokenRepo) GetAccessToken(ctx context.Context, auth *entity.Authentication) (*entity.AccessToken, error) {
	var rows []entity.StoredToken
	if err := r.db.SelectContext(ctx, &rows, r.q.selectAccessByAuth, auth.Fingerprint()); err != nil {
		return nil, apperr.Storage("select access token by authentication", err)
	}
	if len(rows) == 0 {
		return nil, apperr.ErrTokenNotFound
	}
	return decodeAccessToken(&rows[0])
}

// FindTokensByClientIDAndUserName lists the tokens of a user issued to one client.
func (r *TokenRepo) FindTokensByClientIDAndUserName(ctx context.Context, clientID, username string) ([]*entity.AccessToken, error) {
	return r.selectTokens(ctx, r.q.selectAccessByUserAndClient, username, clientID)
}

// FindTokensByUserName lists every token bound to username.
func (r *TokenRepo) FindTokensByUserName(ctx context.Context, username string) ([]*entity.AccessToken, error) {
	return r.selectTokens(ctx, r.q.selectAccessByUser, username)
}

// FindTokensByClientID lists every token issued to clientID.
func (r *TokenRepo) FindTokensByClientID(ctx context.Context, clientID string) ([]*entity.AccessToken, error) {
	return r.selectTokens(ctx, r.q.selectAccessByClient, clientID)
}

func (r *TokenRepo) selectTokens(ctx context.Context, query string, args ...any) ([]*entity.AccessToken, error) {
	var rows []entity.StoredToken
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Storage("select access tokens", err)
	}
	out := make([]*entity.AccessToken, 0, len(rows))
	for i := range rows {
		t, err := decodeAccessToken(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateAccessToken rewrites the serialized token and its expiration.
func (r *TokenRepo) UpdateAccessToken(ctx context.Context, token *entity.AccessToken) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("serialize access token: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.q.updateAccess, string(tokenJSON), token.ExpiresAt, entity.TokenKey(token.Value))
	if err != nil {
		return apperr.Storage("update access token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("update access token", err)
	}
	if n == 0 {
		return apperr.ErrTokenNotFound
	}
	return nil
}

// RemoveAccessToken deletes the token; removing an absent token is not an error.
func (r *TokenRepo) RemoveAccessToken(ctx context.Context, value string) error {
	if _, err := r.db.ExecContext(ctx, r.q.deleteAccess, entity.TokenKey(value)); err != nil {
		return apperr.Storage("delete access token", err)
	}
	return nil
}

// StoreRefreshToken replaces any row for the refresh token value.
func (r *TokenRepo) StoreRefreshToken(ctx context.Context, token *entity.RefreshToken, auth *entity.Authentication) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("serialize refresh token: %w", err)
	}
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("serialize authentication: %w", err)
	}
	tokenID := entity.TokenKey(token.Value)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin store refresh token", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, r.q.deleteRefresh, tokenID); err != nil {
		return apperr.Storage("delete previous refresh token", err)
	}
	if _, err := tx.ExecContext(ctx, r.q.insertRefresh, tokenID, string(tokenJSON), string(authJSON), token.ExpiresAt); err != nil {
		return apperr.Storage("insert refresh token", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit refresh token", err)
	}
	return nil
}

type refreshRow struct {
	TokenID        string     `db:"token_id"`
	Token          string     `db:"token"`
	Authentication string     `db:"authentication"`
	ExpiresAt      *time.Time `db:"expires_at"`
}

func (r *TokenRepo) readRefresh(ctx context.Context, value string) (*refreshRow, error) {
	var row refreshRow
	if err := r.db.GetContext(ctx, &row, r.q.selectRefresh, entity.TokenKey(value)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrTokenNotFound
		}
		return nil, apperr.Storage("select refresh token", err)
	}
	return &row, nil
}

// ReadRefreshToken returns the refresh token stored for value.
func (r *TokenRepo) ReadRefreshToken(ctx context.Context, value string) (*entity.RefreshToken, error) {
	row, err := r.readRefresh(ctx, value)
	if err != nil {
		return nil, err
	}
	var t entity.RefreshToken
	if err := json.Unmarshal([]byte(row.Token), &t); err != nil {
		return nil, fmt.Errorf("deserialize refresh token: %w", err)
	}
	return &t, nil
}

// ReadAuthenticationForRefreshToken returns the authentication a refresh
// token was issued for.
func (r *TokenRepo) ReadAuthenticationForRefreshToken(ctx context.Context, value string) (*entity.Authentication, error) {
	row, err := r.readRefresh(ctx, value)
	if err != nil {
		return nil, err
	}
	return decodeAuthentication(row.Authentication)
}

// RemoveRefreshToken deletes only the refresh token row.
func (r *TokenRepo) RemoveRefreshToken(ctx context.Context, value string) error {
	if _, err := r.db.ExecContext(ctx, r.q.deleteRefresh, entity.TokenKey(value)); err != nil {
		return apperr.Storage("delete refresh token", err)
	}
	return nil
}

// RemoveAccessTokensByRefreshToken deletes the access tokens issued with a
// refresh token, keeping the refresh token itself.
func (r *TokenRepo) RemoveAccessTokensByRefreshToken(ctx context.Context, value string) error {
	if _, err := r.db.ExecContext(ctx, r.q.deleteAccessByRefresh, entity.TokenKey(value)); err != nil {
		return apperr.Storage("delete access tokens by refresh token", err)
	}
	return nil
}

// RemoveByRefreshToken deletes the access tokens issued with a refresh token
// and then the refresh token itself, atomically.
func (r *TokenRepo) RemoveByRefreshToken(ctx context.Context, value string) error {
	refreshID := entity.TokenKey(value)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin remove by refresh token", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, r.q.deleteAccessByRefresh, refreshID); err != nil {
		return apperr.Storage("delete access tokens by refresh token", err)
	}
	if _, err := tx.ExecContext(ctx, r.q.deleteRefresh, refreshID); err != nil {
		return apperr.Storage("delete refresh token", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit remove by refresh token", err)
	}
	return nil
}

func decodeAccessToken(row *entity.StoredToken) (*entity.AccessToken, error) {
	var t entity.AccessToken
	if err := json.Unmarshal([]byte(row.SerializedToken), &t); err != nil {
		return nil, fmt.Errorf("deserialize access token: %w", err)
	}
	return &t, nil
}

func decodeAuthentication(raw string) (*entity.Authentication, error) {
	var a entity.Authentication
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("deserialize authentication: %w", err)
	}
	return &a, nil
}

func rollback(tx *sqlx.Tx) { _ = tx.Rollback() }
