package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

const clientColumns = `client_id, client_secret_hash, resource_ids, scopes, grant_types, authorities,
	access_token_validity, refresh_token_validity, trusted, service_account_ref, api_key_token, created_at`

const (
	sqlSelectClient = `SELECT ` + clientColumns + ` FROM oauth_client WHERE client_id = ?`

	sqlSelectAPIKeyClients = `SELECT ` + clientColumns + ` FROM oauth_client
	WHERE service_account_ref IS NOT NULL ORDER BY created_at, client_id`

	sqlInsertClient = `INSERT INTO oauth_client (` + clientColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpsertClient = `INSERT INTO oauth_client (` + clientColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (client_id) DO UPDATE SET
		client_secret_hash = excluded.client_secret_hash,
		resource_ids = excluded.resource_ids,
		scopes = excluded.scopes,
		grant_types = excluded.grant_types,
		authorities = excluded.authorities,
		access_token_validity = excluded.access_token_validity,
		refresh_token_validity = excluded.refresh_token_validity,
		trusted = excluded.trusted`

	sqlDeleteClient = `DELETE FROM oauth_client WHERE client_id = ?`

	sqlUpdateResourceIDs = `UPDATE oauth_client SET resource_ids = ? WHERE client_id = ?`

	sqlUpdateAPIKeyToken = `UPDATE oauth_client SET api_key_token = ? WHERE client_id = ?`
)

// ClientRepo persists OAuth clients, API-key clients included.
type ClientRepo struct {
	db *sqlx.DB
}

func NewClientRepo(db *sqlx.DB) *ClientRepo { return &ClientRepo{db: db} }

// Get returns apperr.ErrClientNotFound for unknown ids.
func (r *ClientRepo) Get(ctx context.Context, clientID string) (*entity.Client, error) {
	var c entity.Client
	if err := r.db.GetContext(ctx, &c, r.db.Rebind(sqlSelectClient), clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrClientNotFound
		}
		return nil, apperr.Storage("select client", err)
	}
	return &c, nil
}

func (r *ClientRepo) Create(ctx context.Context, c *entity.Client) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlInsertClient), clientArgs(c)...); err != nil {
		return apperr.Storage("insert client", err)
	}
	return nil
}

// Upsert inserts or refreshes a client definition. The API-key columns of an
// existing row are left alone.
func (r *ClientRepo) Upsert(ctx context.Context, c *entity.Client) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpsertClient), clientArgs(c)...); err != nil {
		return apperr.Storage("upsert client", err)
	}
	return nil
}

func (r *ClientRepo) Delete(ctx context.Context, clientID string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlDeleteClient), clientID); err != nil {
		return apperr.Storage("delete client", err)
	}
	return nil
}

// ListAPIKeys returns every client that backs an API key.
func (r *ClientRepo) ListAPIKeys(ctx context.Context) ([]entity.Client, error) {
	var out []entity.Client
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(sqlSelectAPIKeyClients)); err != nil {
		return nil, apperr.Storage("select api key clients", err)
	}
	return out, nil
}

// UpdateResourceIDs replaces the resource ids of a client.
func (r *ClientRepo) UpdateResourceIDs(ctx context.Context, clientID string, ids []string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpdateResourceIDs), database.StringList(ids), clientID)
	if err != nil {
		return apperr.Storage("update client resource ids", err)
	}
	return requireRow(res, apperr.ErrClientNotFound)
}

// SetAPIKeyToken records the token value issued for an API-key client.
func (r *ClientRepo) SetAPIKeyToken(ctx context.Context, clientID, token string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(sqlUpdateAPIKeyToken), token, clientID)
	if err != nil {
		return apperr.Storage("update api key token", err)
	}
	return requireRow(res, apperr.ErrClientNotFound)
}

func clientArgs(c *entity.Client) []any {
	return []any{
		c.ClientID, c.SecretHash, c.ResourceIDs, c.Scopes, c.GrantTypes, c.Authorities,
		c.AccessValidity, c.RefreshValidity, c.Trusted, c.ServiceAccountRef, c.APIKeyToken, c.CreatedAt,
	}
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
