package oauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout"
	lockoutrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

const (
	webSecret   = "web-secret"
	svcSecret   = "svc-secret"
	alicePasswd = "alice-password"
)

type fixture struct {
	issuer  *oauth.Issuer
	apiKeys *oauth.APIKeyManager
	tokens  *repo.TokenRepo
	clients *repo.ClientRepo
	users   *user.Service
	userDB  *userrepo.UserRepo
	clock   *clockwork.FakeClock
	alice   *userentity.User
}

func defaultTokenConfig() oauth.TokenConfig {
	return oauth.TokenConfig{
		Issuer:          "http://auth.test",
		AccessValidity:  time.Hour,
		RefreshValidity: 24 * time.Hour,
		ReuseRefresh:    true,
		Format:          oauth.FormatOpaque,
	}
}

func newFixture(t *testing.T, cfg oauth.TokenConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	userDB := userrepo.NewUserRepo(db)
	users := user.NewService(userDB, user.BcryptHasher{Cost: bcrypt.MinCost}, testutil.Logger())
	alice, err := users.Signup(ctx, user.SignupInput{
		Username:    "alice",
		Email:       "alice@example.com",
		Password:    alicePasswd,
		Authorities: []string{"ROLE_USER"},
	})
	require.NoError(t, err)

	tracker := lockout.NewTracker(lockout.Config{MaxAttempts: 3, Duration: time.Minute}, users, users,
		lockoutrepo.NewCounterRepo(db), clock, nil, testutil.Logger())

	tokens, err := repo.NewTokenRepo(db, cfg.Tables)
	require.NoError(t, err)
	clients := repo.NewClientRepo(db)

	values, _, err := oauth.NewValueGenerator(cfg)
	require.NoError(t, err)
	issuer := oauth.NewIssuer(cfg, tokens, clients, tracker, users, values, clock, nil, testutil.Logger())
	apiKeys := oauth.NewAPIKeyManager(oauth.APIKeyConfig{
		ClientPrefix: "apikey-",
		Authorities:  []string{"ROLE_ADMIN"},
		Scope:        []string{"read", "write"},
	}, issuer, tokens, clients, nil, testutil.Logger())

	f := &fixture{issuer: issuer, apiKeys: apiKeys, tokens: tokens, clients: clients, users: users, userDB: userDB, clock: clock, alice: alice}
	f.addClient(t, "web", webSecret, nil, entity.GrantPassword, entity.GrantRefreshToken)
	f.addClient(t, "svc", svcSecret, nil, entity.GrantClientCredentials)
	return f
}

func (f *fixture) addClient(t *testing.T, id, secret string, accessValidity *int64, grants ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.clients.Create(context.Background(), &entity.Client{
		ClientID:       id,
		SecretHash:     string(hash),
		Scopes:         database.StringList{"read", "write"},
		GrantTypes:     database.StringList(grants),
		Authorities:    database.StringList{"ROLE_CLIENT"},
		AccessValidity: accessValidity,
		CreatedAt:      f.clock.Now(),
	}))
}

func (f *fixture) passwordGrant(t *testing.T, scope ...string) *entity.AccessToken {
	t.Helper()
	tok, err := f.issuer.Grant(context.Background(), oauth.TokenRequest{
		GrantType:    entity.GrantPassword,
		ClientID:     "web",
		ClientSecret: webSecret,
		Username:     "alice",
		Password:     alicePasswd,
		Scope:        scope,
	})
	require.NoError(t, err)
	return tok
}
