package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// APIKeyManager creates and revokes API keys: trusted client-credentials
// clients whose single non-expiring token is handed out as the key.
type APIKeyManager struct {
	cfg     APIKeyConfig
	issuer  *Issuer
	store   TokenStore
	clients ClientStore
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewAPIKeyManager(cfg APIKeyConfig, issuer *Issuer, store TokenStore, clients ClientStore,
	m *metrics.Metrics, logger *zap.SugaredLogger) *APIKeyManager {
	return &APIKeyManager{cfg: cfg, issuer: issuer, store: store, clients: clients, metrics: m, logger: logger}
}

// Create registers a new API-key client and returns its token.
func (m *APIKeyManager) Create(ctx context.Context) (*entity.APIKey, error) {
	now := m.issuer.Now()
	secret, err := utilities.NewSecret(32)
	if err != nil {
		return nil, fmt.Errorf("generate api key secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key secret: %w", err)
	}
	ref := uuid.NewString()
	never := int64(0)
	client := &entity.Client{
		ClientID:          m.cfg.ClientPrefix + strconv.FormatInt(now.UnixNano(), 10),
		SecretHash:        string(hash),
		Scopes:            database.StringList(m.cfg.Scope),
		GrantTypes:        database.StringList{entity.GrantClientCredentials},
		Authorities:       database.StringList(m.cfg.Authorities),
		AccessValidity:    &never,
		Trusted:           true,
		ServiceAccountRef: &ref,
		CreatedAt:         now.UTC(),
	}
	if err := m.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("%w: persist api key client: %w", apperr.ErrClientNotFound, err)
	}

	tok, err := m.issuer.Grant(ctx, TokenRequest{
		GrantType:    entity.GrantClientCredentials,
		ClientID:     client.ClientID,
		ClientSecret: secret,
	})
	if err != nil {
		return nil, err
	}
	if err := m.clients.SetAPIKeyToken(ctx, client.ClientID, tok.Value); err != nil {
		return nil, err
	}
	m.logger.Infow("api key created", "client_id", client.ClientID, "service_account_ref", ref)
	return &entity.APIKey{
		ClientID:          client.ClientID,
		ServiceAccountRef: ref,
		Token:             tok.Value,
		Scope:             tok.Scope,
		CreatedAt:         client.CreatedAt,
	}, nil
}

// Revoke deletes the API-key client owning token and then the token.
func (m *APIKeyManager) Revoke(ctx context.Context, token string) error {
	auth, err := m.store.ReadAuthentication(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenNotFound) {
			return fmt.Errorf("%w: unknown api key", apperr.ErrTokenInvalid)
		}
		return err
	}
	client, err := m.clients.Get(ctx, auth.ClientID)
	if err != nil {
		return err
	}
	if !client.IsAPIKey() {
		return fmt.Errorf("%w: token does not belong to an api key", apperr.ErrInvalidRequest)
	}
	if err := m.clients.Delete(ctx, client.ClientID); err != nil {
		return err
	}
	if err := m.store.RemoveAccessToken(ctx, token); err != nil {
		return err
	}
	m.metrics.TokenRevoked()
	m.logger.Infow("api key revoked", "client_id", client.ClientID)
	return nil
}

// List returns every API key without its token.
func (m *APIKeyManager) List(ctx context.Context) ([]entity.APIKey, error) {
	clients, err := m.clients.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.APIKey, 0, len(clients))
	for _, c := range clients {
		out = append(out, entity.APIKey{
			ClientID:          c.ClientID,
			ServiceAccountRef: *c.ServiceAccountRef,
			Scope:             c.Scopes.Sorted(),
			CreatedAt:         c.CreatedAt,
		})
	}
	return out, nil
}

// Recover re-inserts the token of every API key whose token is missing
// from the token store and returns how many were restored.
func (m *APIKeyManager) Recover(ctx context.Context) (int, error) {
	clients, err := m.clients.ListAPIKeys(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for idx := range clients {
		c := &clients[idx]
		if c.APIKeyToken == nil || *c.APIKeyToken == "" {
			m.logger.Warnw("api key client without token", "client_id", c.ClientID)
			continue
		}
		_, err := m.store.ReadAccessToken(ctx, *c.APIKeyToken)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrTokenNotFound) {
			return restored, err
		}
		var scope []string
		if len(c.Scopes) > 0 {
			scope = c.Scopes.Sorted()
		}
		auth := &entity.Authentication{
			ClientID:    c.ClientID,
			GrantType:   entity.GrantClientCredentials,
			Scope:       scope,
			ResourceIDs: c.ResourceIDs,
			Authorities: c.Authorities,
		}
		tok := &entity.AccessToken{
			Value:     *c.APIKeyToken,
			TokenType: entity.TokenTypeBearer,
			Scope:     scope,
		}
		if err := m.store.StoreAccessToken(ctx, tok, auth); err != nil {
			return restored, err
		}
		restored++
	}
	if restored > 0 {
		m.logger.Infow("api key tokens recovered", "count", restored)
	}
	return restored, nil
}
