package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
)

func newTokenRepo(t *testing.T) *repo.TokenRepo {
	t.Helper()
	r, err := repo.NewTokenRepo(testutil.NewDB(t), repo.Tables{})
	require.NoError(t, err)
	return r
}

func userAuth(client, user string) *entity.Authentication {
	return &entity.Authentication{
		ClientID:  client,
		Username:  user,
		UserID:    7,
		GrantType: entity.GrantPassword,
		Scope:     []string{"read", "write"},
	}
}

func accessToken(value string, refresh *entity.RefreshToken) *entity.AccessToken {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	return &entity.AccessToken{
		Value:        value,
		TokenType:    entity.TokenTypeBearer,
		ExpiresAt:    &exp,
		Scope:        []string{"read", "write"},
		RefreshToken: refresh,
	}
}

func TestNewTokenRepo_RejectsBadTableNames(t *testing.T) {
	db := testutil.NewDB(t)
	for _, name := range []string{"tokens; DROP TABLE users", "a.b.c", "1abc", ""} {
		_, err := repo.NewTokenRepo(db, repo.Tables{Access: name, Refresh: "oauth_refresh_token"})
		assert.Error(t, err, name)
	}
	_, err := repo.NewTokenRepo(db, repo.Tables{Access: "oauth_access_token", Refresh: "oauth_refresh_token"})
	assert.NoError(t, err)
}

func TestStoreAccessToken_ReadBack(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	auth := userAuth("web", "alice")
	tok := accessToken("tok-1", nil)

	require.NoError(t, r.StoreAccessToken(ctx, tok, auth))

	got, err := r.ReadAccessToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Value)
	assert.Equal(t, tok.Scope, got.Scope)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, tok.ExpiresAt.Equal(*got.ExpiresAt))

	gotAuth, err := r.ReadAuthentication(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, auth, gotAuth)

	row, err := r.Read(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, entity.TokenKey("tok-1"), row.TokenID)
	assert.Equal(t, auth.Fingerprint(), row.AuthenticationFingerprint)
	require.NotNil(t, row.OwnerUsername)
	assert.Equal(t, "alice", *row.OwnerUsername)
	assert.Nil(t, row.LinkedRefreshTokenID)
}

func TestStoreAccessToken_ReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)

	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", nil), userAuth("web", "alice")))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", nil), userAuth("web", "bob")))

	byAlice, err := r.FindTokensByUserName(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, byAlice)

	byBob, err := r.FindTokensByUserName(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, byBob, 1)
	assert.Equal(t, "tok-1", byBob[0].Value)
}

func TestClientOnlyToken_HasNoOwner(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	auth := &entity.Authentication{ClientID: "svc", GrantType: entity.GrantClientCredentials}

	require.NoError(t, r.StoreAccessToken(ctx, accessToken("svc-tok", nil), auth))

	row, err := r.Read(ctx, "svc-tok")
	require.NoError(t, err)
	assert.Nil(t, row.OwnerUsername)

	byClient, err := r.FindTokensByClientID(ctx, "svc")
	require.NoError(t, err)
	assert.Len(t, byClient, 1)
}

func TestGetAccessToken_ByEquivalentAuthentication(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", nil), userAuth("web", "alice")))

	same := userAuth("web", "alice")
	same.Scope = []string{"write", "read"}
	got, err := r.GetAccessToken(ctx, same)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Value)

	_, err = r.GetAccessToken(ctx, userAuth("web", "bob"))
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
}

func TestSecondaryLookups(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("a1", nil), userAuth("web", "alice")))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("a2", nil), userAuth("cli", "alice")))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("b1", nil), userAuth("web", "bob")))

	both, err := r.FindTokensByUserName(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, both, 2)

	one, err := r.FindTokensByClientIDAndUserName(ctx, "cli", "alice")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "a2", one[0].Value)

	web, err := r.FindTokensByClientID(ctx, "web")
	require.NoError(t, err)
	assert.Len(t, web, 2)

	none, err := r.FindTokensByUserName(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateAccessToken_MovesExpiration(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	tok := accessToken("tok-1", nil)
	require.NoError(t, r.StoreAccessToken(ctx, tok, userAuth("web", "alice")))

	later := tok.ExpiresAt.Add(2 * time.Hour)
	tok.ExpiresAt = &later
	require.NoError(t, r.UpdateAccessToken(ctx, tok))

	got, err := r.ReadAccessToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, later.Equal(*got.ExpiresAt))

	err = r.UpdateAccessToken(ctx, accessToken("missing", nil))
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
}

func TestRemoveAccessToken_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", nil), userAuth("web", "alice")))

	require.NoError(t, r.RemoveAccessToken(ctx, "tok-1"))
	require.NoError(t, r.RemoveAccessToken(ctx, "tok-1"))

	_, err := r.ReadAccessToken(ctx, "tok-1")
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
	_, err = r.ReadAuthentication(ctx, "tok-1")
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
}

func TestRefreshToken_StoreReadRemove(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	rt := &entity.RefreshToken{Value: "rt-1", ExpiresAt: &exp}
	auth := userAuth("web", "alice")

	require.NoError(t, r.StoreRefreshToken(ctx, rt, auth))

	got, err := r.ReadRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", got.Value)

	gotAuth, err := r.ReadAuthenticationForRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, auth, gotAuth)

	require.NoError(t, r.RemoveRefreshToken(ctx, "rt-1"))
	_, err = r.ReadRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
}

func TestRemoveByRefreshToken_CascadesToAccessTokens(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	rt := &entity.RefreshToken{Value: "rt-1"}
	auth := userAuth("web", "alice")
	require.NoError(t, r.StoreRefreshToken(ctx, rt, auth))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", rt), auth))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-2", rt), userAuth("cli", "alice")))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("other", nil), userAuth("web", "bob")))

	row, err := r.Read(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, row.LinkedRefreshTokenID)
	assert.Equal(t, entity.TokenKey("rt-1"), *row.LinkedRefreshTokenID)

	require.NoError(t, r.RemoveByRefreshToken(ctx, "rt-1"))

	for _, v := range []string{"tok-1", "tok-2"} {
		_, err := r.ReadAccessToken(ctx, v)
		assert.ErrorIs(t, err, apperr.ErrTokenNotFound, v)
	}
	_, err = r.ReadRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)

	_, err = r.ReadAccessToken(ctx, "other")
	assert.NoError(t, err)

	require.NoError(t, r.RemoveByRefreshToken(ctx, "rt-1"))
}

func TestRemoveAccessTokensByRefreshToken_KeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	r := newTokenRepo(t)
	rt := &entity.RefreshToken{Value: "rt-1"}
	auth := userAuth("web", "alice")
	require.NoError(t, r.StoreRefreshToken(ctx, rt, auth))
	require.NoError(t, r.StoreAccessToken(ctx, accessToken("tok-1", rt), auth))

	require.NoError(t, r.RemoveAccessTokensByRefreshToken(ctx, "rt-1"))

	_, err := r.ReadAccessToken(ctx, "tok-1")
	assert.ErrorIs(t, err, apperr.ErrTokenNotFound)
	_, err = r.ReadRefreshToken(ctx, "rt-1")
	assert.NoError(t, err)
}
