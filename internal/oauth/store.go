package oauth

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/repo"
)

// TokenStore persists access and refresh tokens keyed by the digest of
// their value.
type TokenStore interface {
	StoreAccessToken(ctx context.Context, token *entity.AccessToken, auth *entity.Authentication) error
	Read(ctx context.Context, value string) (*entity.StoredToken, error)
	ReadAccessToken(ctx context.Context, value string) (*entity.AccessToken, error)
	ReadAuthentication(ctx context.Context, value string) (*entity.Authentication, error)
	GetAccessToken(ctx context.Context, auth *entity.Authentication) (*entity.AccessToken, error)
	FindTokensByClientIDAndUserName(ctx context.Context, clientID, username string) ([]*entity.AccessToken, error)
	FindTokensByUserName(ctx context.Context, username string) ([]*entity.AccessToken, error)
	FindTokensByClientID(ctx context.Context, clientID string) ([]*entity.AccessToken, error)
	UpdateAccessToken(ctx context.Context, token *entity.AccessToken) error
	RemoveAccessToken(ctx context.Context, value string) error

	StoreRefreshToken(ctx context.Context, token *entity.RefreshToken, auth *entity.Authentication) error
	ReadRefreshToken(ctx context.Context, value string) (*entity.RefreshToken, error)
	ReadAuthenticationForRefreshToken(ctx context.Context, value string) (*entity.Authentication, error)
	RemoveRefreshToken(ctx context.Context, value string) error
	RemoveAccessTokensByRefreshToken(ctx context.Context, value string) error
	RemoveByRefreshToken(ctx context.Context, value string) error
}

// ClientStore persists OAuth clients.
type ClientStore interface {
	Get(ctx context.Context, clientID string) (*entity.Client, error)
	Create(ctx context.Context, c *entity.Client) error
	Delete(ctx context.Context, clientID string) error
	ListAPIKeys(ctx context.Context) ([]entity.Client, error)
	SetAPIKeyToken(ctx context.Context, clientID, token string) error
}

var (
	_ TokenStore  = (*repo.TokenRepo)(nil)
	_ ClientStore = (*repo.ClientRepo)(nil)
)
