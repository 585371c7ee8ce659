// Package oauth issues, validates and revokes OAuth2 tokens for the
// password, client_credentials and refresh_token grants, and manages API
// keys layered on client credentials.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// Additional info keys attached to user-bound tokens.
const (
	InfoUserUUID = "user_uuid"
	InfoUserID   = "user_id"
)

// PasswordAuthenticator checks resource-owner credentials; the lockout
// tracker implements it.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*userentity.User, error)
}

// UserLookup resolves the user behind a stored authentication.
type UserLookup interface {
	FindByID(ctx context.Context, id int64) (*userentity.User, error)
}

// TokenRequest is a parsed token endpoint request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RefreshToken string
	Scope        []string
	// Parameters holds the remaining request parameters; they become part
	// of the authentication fingerprint.
	Parameters map[string]string
}

// parameters consumed by the grant itself
var reservedParameters = map[string]struct{}{
	"grant_type":    {},
	"client_id":     {},
	"client_secret": {},
	"username":      {},
	"password":      {},
	"refresh_token": {},
	"scope":         {},
}

type Issuer struct {
	cfg     TokenConfig
	store   TokenStore
	clients ClientStore
	authn   PasswordAuthenticator
	users   UserLookup
	values  ValueGenerator
	clock   clockwork.Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.SugaredLogger
}

func NewIssuer(cfg TokenConfig, store TokenStore, clients ClientStore, authn PasswordAuthenticator, users UserLookup,
	values ValueGenerator, clock clockwork.Clock, m *metrics.Metrics, logger *zap.SugaredLogger) *Issuer {
	if values == nil {
		values = OpaqueValues{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{
		cfg:     cfg,
		store:   store,
		clients: clients,
		authn:   authn,
		users:   users,
		values:  values,
		clock:   clock,
		metrics: m,
		tracer:  otel.Tracer("github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth"),
		logger:  logger,
	}
}

// Grant evaluates a token request and returns the issued access token.
func (i *Issuer) Grant(ctx context.Context, req TokenRequest) (tok *entity.AccessToken, err error) {
	ctx, span := i.tracer.Start(ctx, "oauth.Grant", trace.WithAttributes(
		attribute.String("oauth.grant_type", req.GrantType),
		attribute.String("oauth.client_id", req.ClientID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	client, err := i.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	switch req.GrantType {
	case entity.GrantPassword, entity.GrantClientCredentials, entity.GrantRefreshToken:
	case "":
		return nil, fmt.Errorf("%w: grant_type required", apperr.ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedGrantType, req.GrantType)
	}
	if !client.GrantTypes.Contains(req.GrantType) {
		return nil, fmt.Errorf("%w: grant %s not allowed for client", apperr.ErrUnauthorizedClient, req.GrantType)
	}

	switch req.GrantType {
	case entity.GrantPassword:
		tok, err = i.passwordGrant(ctx, client, req)
	case entity.GrantClientCredentials:
		tok, err = i.clientCredentialsGrant(ctx, client, req)
	default:
		tok, err = i.refreshGrant(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}
	i.metrics.TokenIssued(req.GrantType)
	return tok, nil
}

// AuthenticateClient checks the client secret against its bcrypt hash.
func (i *Issuer) AuthenticateClient(ctx context.Context, clientID, secret string) (*entity.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client authentication required", apperr.ErrInvalidClient)
	}
	c, err := i.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, apperr.ErrClientNotFound) {
			return nil, fmt.Errorf("%w: unknown client", apperr.ErrInvalidClient)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) != nil {
		return nil, fmt.Errorf("%w: bad client credentials", apperr.ErrInvalidClient)
	}
	return c, nil
}

func (i *Issuer) passwordGrant(ctx context.Context, client *entity.Client, req TokenRequest) (*entity.AccessToken, error) {
	if req.Username == "" {
		return nil, fmt.Errorf("%w: username required", apperr.ErrInvalidRequest)
	}
	scope, err := resolveScope(client.Scopes, req.Scope)
	if err != nil {
		return nil, err
	}
	u, err := i.authn.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	auth := &entity.Authentication{
		ClientID:          client.ClientID,
		Username:          u.Username,
		UserID:            u.ID,
		GrantType:         entity.GrantPassword,
		Scope:             scope,
		ResourceIDs:       client.ResourceIDs,
		Authorities:       u.Authorities,
		RequestParameters: extraParameters(req.Parameters),
	}
	return i.CreateAccessToken(ctx, client, auth)
}

func (i *Issuer) clientCredentialsGrant(ctx context.Context, client *entity.Client, req TokenRequest) (*entity.AccessToken, error) {
	scope, err := resolveScope(client.Scopes, req.Scope)
	if err != nil {
		return nil, err
	}
	auth := &entity.Authentication{
		ClientID:          client.ClientID,
		GrantType:         entity.GrantClientCredentials,
		Scope:             scope,
		ResourceIDs:       client.ResourceIDs,
		Authorities:       client.Authorities,
		RequestParameters: extraParameters(req.Parameters),
	}
	return i.CreateAccessToken(ctx, client, auth)
}

// CreateAccessToken returns the live token already issued for an
// equivalent authentication, or issues a new one. An expired predecessor
// is removed; its refresh token value is carried over while still valid.
func (i *Issuer) CreateAccessToken(ctx context.Context, client *entity.Client, auth *entity.Authentication) (*entity.AccessToken, error) {
	now := i.clock.Now()
	var refresh *entity.RefreshToken

	existing, err := i.store.GetAccessToken(ctx, auth)
	switch {
	case err == nil:
		if !existing.Expired(now) {
			// re-store in case the authentication details changed
			if err := i.store.StoreAccessToken(ctx, existing, auth); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if existing.RefreshToken != nil {
			refresh = existing.RefreshToken
			if err := i.store.RemoveRefreshToken(ctx, refresh.Value); err != nil {
				return nil, err
			}
		}
		if err := i.store.RemoveAccessToken(ctx, existing.Value); err != nil {
			return nil, err
		}
	case !errors.Is(err, apperr.ErrTokenNotFound):
		return nil, err
	}

	if !client.GrantTypes.Contains(entity.GrantRefreshToken) {
		refresh = nil
	} else if refresh == nil || refresh.Expired(now) {
		refresh = i.newRefreshToken(client, now)
	}

	tok, err := i.newAccessToken(ctx, client, auth, refresh, now)
	if err != nil {
		return nil, err
	}
	if err := i.store.StoreAccessToken(ctx, tok, auth); err != nil {
		return nil, err
	}
	if refresh != nil {
		if err := i.store.StoreRefreshToken(ctx, refresh, auth); err != nil {
			return nil, err
		}
	}
	i.logger.Debugw("access token issued", "client_id", auth.ClientID, "principal", auth.Principal(), "grant_type", auth.GrantType)
	return tok, nil
}

func (i *Issuer) refreshGrant(ctx context.Context, client *entity.Client, req TokenRequest) (*entity.AccessToken, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token required", apperr.ErrInvalidRequest)
	}
	refresh, err := i.store.ReadRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: invalid refresh token", apperr.ErrInvalidGrant)
		}
		return nil, err
	}
	auth, err := i.store.ReadAuthenticationForRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: invalid refresh token", apperr.ErrInvalidGrant)
		}
		return nil, err
	}
	if auth.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: refresh token issued to another client", apperr.ErrInvalidGrant)
	}
	if !auth.ClientOnly() {
		u, err := i.users.FindByID(ctx, auth.UserID)
		if err != nil {
			if errors.Is(err, apperr.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: user no longer exists", apperr.ErrInvalidGrant)
			}
			return nil, err
		}
		if !u.Enabled || u.LockedOut {
			return nil, fmt.Errorf("%w: user account is not usable", apperr.ErrInvalidGrant)
		}
	}

	if err := i.store.RemoveAccessTokensByRefreshToken(ctx, refresh.Value); err != nil {
		return nil, err
	}
	now := i.clock.Now()
	if refresh.Expired(now) {
		if err := i.store.RemoveRefreshToken(ctx, refresh.Value); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: refresh token expired", apperr.ErrInvalidGrant)
	}

	if len(req.Scope) > 0 {
		narrowed, err := resolveScope(auth.Scope, req.Scope)
		if err != nil {
			return nil, err
		}
		auth.Scope = narrowed
	}

	if !i.cfg.ReuseRefresh {
		if err := i.store.RemoveRefreshToken(ctx, refresh.Value); err != nil {
			return nil, err
		}
		refresh = i.newRefreshToken(client, now)
	}
	tok, err := i.newAccessToken(ctx, client, auth, refresh, now)
	if err != nil {
		return nil, err
	}
	if err := i.store.StoreAccessToken(ctx, tok, auth); err != nil {
		return nil, err
	}
	if !i.cfg.ReuseRefresh {
		if err := i.store.StoreRefreshToken(ctx, refresh, auth); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

func (i *Issuer) newRefreshToken(client *entity.Client, now time.Time) *entity.RefreshToken {
	rt := &entity.RefreshToken{Value: uuid.NewString()}
	if d := validity(client.RefreshValidity, i.cfg.RefreshValidity); d > 0 {
		exp := now.Add(d)
		rt.ExpiresAt = &exp
	}
	return rt
}

func (i *Issuer) newAccessToken(ctx context.Context, client *entity.Client, auth *entity.Authentication,
	refresh *entity.RefreshToken, now time.Time) (*entity.AccessToken, error) {
	value, err := i.values.NewValue(auth, now)
	if err != nil {
		return nil, fmt.Errorf("generate token value: %w", err)
	}
	tok := &entity.AccessToken{
		Value:        value,
		TokenType:    entity.TokenTypeBearer,
		Scope:        auth.Scope,
		RefreshToken: refresh,
	}
	if d := validity(client.AccessValidity, i.cfg.AccessValidity); d > 0 {
		exp := now.Add(d)
		tok.ExpiresAt = &exp
	}
	if err := i.enhance(ctx, tok, auth); err != nil {
		return nil, err
	}
	return tok, nil
}

// enhance attaches the stable identity of the user to user-bound tokens.
func (i *Issuer) enhance(ctx context.Context, tok *entity.AccessToken, auth *entity.Authentication) error {
	if auth.ClientOnly() {
		return nil
	}
	u, err := i.users.FindByID(ctx, auth.UserID)
	if err != nil {
		return err
	}
	tok.AdditionalInfo = map[string]any{
		InfoUserUUID: u.ExternalID,
		InfoUserID:   u.ID,
	}
	return nil
}

// ReadAccessToken returns the stored token. A token that has not expired
// has its expiration moved to now plus the access validity of its client;
// expired tokens are returned untouched.
func (i *Issuer) ReadAccessToken(ctx context.Context, value string) (*entity.AccessToken, error) {
	tok, _, err := i.readSliding(ctx, value)
	return tok, err
}

// boundToken is what a live token resolves to. client is nil when the owning
// client has been deleted.
type boundToken struct {
	auth   *entity.Authentication
	client *entity.Client
}

// readSliding applies sliding expiration and returns the authentication and
// client it had to load for it. bound is nil for expired and non-expiring
// tokens.
func (i *Issuer) readSliding(ctx context.Context, value string) (*entity.AccessToken, *boundToken, error) {
	tok, err := i.store.ReadAccessToken(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	now := i.clock.Now()
	if tok.ExpiresAt == nil || tok.Expired(now) {
		return tok, nil, nil
	}
	bound, err := i.bind(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	d := i.cfg.AccessValidity
	if bound.client != nil {
		d = validity(bound.client.AccessValidity, i.cfg.AccessValidity)
	}
	if d <= 0 {
		return tok, bound, nil
	}
	exp := now.Add(d)
	tok.ExpiresAt = &exp
	if err := i.store.UpdateAccessToken(ctx, tok); err != nil {
		return nil, nil, err
	}
	return tok, bound, nil
}

func (i *Issuer) bind(ctx context.Context, value string) (*boundToken, error) {
	auth, err := i.store.ReadAuthentication(ctx, value)
	if err != nil {
		return nil, err
	}
	c, err := i.clients.Get(ctx, auth.ClientID)
	if errors.Is(err, apperr.ErrClientNotFound) {
		return &boundToken{auth: auth}, nil
	}
	if err != nil {
		return nil, err
	}
	return &boundToken{auth: auth, client: c}, nil
}

// LoadAuthentication validates a bearer token value and returns the
// authentication it was issued for. Expired tokens are removed.
func (i *Issuer) LoadAuthentication(ctx context.Context, value string) (*entity.Authentication, *entity.AccessToken, error) {
	tok, bound, err := i.readSliding(ctx, value)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown access token", apperr.ErrTokenInvalid)
		}
		return nil, nil, err
	}
	if tok.Expired(i.clock.Now()) {
		if err := i.store.RemoveAccessToken(ctx, value); err != nil {
			return nil, nil, err
		}
		return nil, nil, apperr.ErrTokenExpired
	}
	if bound == nil {
		if bound, err = i.bind(ctx, value); err != nil {
			if errors.Is(err, apperr.ErrTokenNotFound) {
				return nil, nil, fmt.Errorf("%w: unknown access token", apperr.ErrTokenInvalid)
			}
			return nil, nil, err
		}
	}
	if bound.client == nil {
		return nil, nil, fmt.Errorf("%w: client %s no longer exists", apperr.ErrTokenInvalid, bound.auth.ClientID)
	}
	return bound.auth, tok, nil
}

// Revoke removes an access token together with its refresh token.
func (i *Issuer) Revoke(ctx context.Context, value string) error {
	tok, err := i.store.ReadAccessToken(ctx, value)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenNotFound) {
			return fmt.Errorf("%w: unknown access token", apperr.ErrTokenInvalid)
		}
		return err
	}
	if tok.RefreshToken != nil {
		if err := i.store.RemoveByRefreshToken(ctx, tok.RefreshToken.Value); err != nil {
			return err
		}
	}
	if err := i.store.RemoveAccessToken(ctx, value); err != nil {
		return err
	}
	i.metrics.TokenRevoked()
	return nil
}

// RevokeAllForUser revokes every access token bound to username and returns
// how many were removed.
func (i *Issuer) RevokeAllForUser(ctx context.Context, username string) (int, error) {
	tokens, err := i.store.FindTokensByUserName(ctx, username)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tokens {
		if err := i.Revoke(ctx, t.Value); err != nil {
			if errors.Is(err, apperr.ErrTokenInvalid) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// FindTokens lists tokens by user, client or both.
func (i *Issuer) FindTokens(ctx context.Context, username, clientID string) ([]*entity.AccessToken, error) {
	switch {
	case username != "" && clientID != "":
		return i.store.FindTokensByClientIDAndUserName(ctx, clientID, username)
	case username != "":
		return i.store.FindTokensByUserName(ctx, username)
	case clientID != "":
		return i.store.FindTokensByClientID(ctx, clientID)
	default:
		return nil, fmt.Errorf("%w: username or client_id required", apperr.ErrInvalidRequest)
	}
}

// Now is the issuer's clock reading.
func (i *Issuer) Now() time.Time { return i.clock.Now() }

// validity resolves a client override: nil uses the default, 0 or less
// means the token never expires.
func validity(override *int64, def time.Duration) time.Duration {
	if override == nil {
		return def
	}
	if *override <= 0 {
		return 0
	}
	return time.Duration(*override) * time.Second
}

// resolveScope returns the granted scope: everything allowed when nothing
// was requested, otherwise the requested scope which must be allowed.
func resolveScope(allowed database.StringList, requested []string) ([]string, error) {
	if len(requested) == 0 {
		if len(allowed) == 0 {
			return nil, nil
		}
		return allowed.Sorted(), nil
	}
	if len(allowed) > 0 && !allowed.ContainsAll(requested) {
		return nil, fmt.Errorf("%w: requested scope exceeds the allowed scope", apperr.ErrInvalidScope)
	}
	return database.StringList(requested).Sorted(), nil
}

func extraParameters(params map[string]string) map[string]string {
	var out map[string]string
	for k, v := range params {
		if _, reserved := reservedParameters[k]; reserved {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}
