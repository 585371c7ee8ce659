package passwordreset_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/mocks"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

type revokerStub struct {
	usernames []string
}

func (r *revokerStub) RevokeAllForUser(_ context.Context, username string) (int, error) {
	r.usernames = append(r.usernames, username)
	return 2, nil
}

type serviceFixture struct {
	svc      *passwordreset.Service
	users    *user.Service
	notifier *mocks.MockGateway
	revoker  *revokerStub
	clock    *clockwork.FakeClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := passwordreset.Config{
		MaxAttempts: 3,
		Window:      time.Hour,
		Lockout:     15 * time.Minute,
		TokenTTL:    30 * time.Minute,
		LinkBaseURL: "https://auth.example.com/reset",
	}
	clock := clockwork.NewFakeClockAt(epoch)
	users := user.NewService(userrepo.NewUserRepo(db), user.BcryptHasher{Cost: bcrypt.MinCost}, testutil.Logger())
	resets := repo.NewResetRepo(db)
	notifier := mocks.NewMockGateway(gomock.NewController(t))
	revoker := &revokerStub{}
	svc := passwordreset.NewService(cfg, passwordreset.NewThrottle(cfg, resets, clock, nil), resets, users, notifier, revoker, clock, testutil.Logger())
	return &serviceFixture{svc: svc, users: users, notifier: notifier, revoker: revoker, clock: clock}
}

func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "https://")
	require.GreaterOrEqual(t, idx, 0)
	u, err := url.Parse(strings.TrimSpace(body[idx:]))
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func TestRequestAndConfirmReset(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "erin", Email: "erin@example.com", Password: "old-password"})
	require.NoError(t, err)

	var body string
	f.notifier.EXPECT().
		Send(gomock.Any(), "erin@example.com", "Password reset", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, b string) error {
			body = b
			return nil
		})

	require.NoError(t, f.svc.RequestReset(ctx, "erin@example.com"))
	token := tokenFromBody(t, body)

	require.NoError(t, f.svc.ConfirmReset(ctx, token, "new-password"))
	assert.Equal(t, []string{"erin"}, f.revoker.usernames)

	u, err := f.users.FindByUsername(ctx, "erin")
	require.NoError(t, err)
	assert.True(t, f.users.VerifyPassword(ctx, u, "new-password"))

	err = f.svc.ConfirmReset(ctx, token, "another-password")
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)
}

func TestRequestReset_UnknownUser(t *testing.T) {
	f := newServiceFixture(t)
	err := f.svc.RequestReset(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestRequestReset_Throttled(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "frank", Email: "frank@example.com", Password: "frank-password"})
	require.NoError(t, err)
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RequestReset(ctx, "frank"))
	}
	assert.ErrorIs(t, f.svc.RequestReset(ctx, "frank"), apperr.ErrRateLimited)
}

func TestRequestReset_NotificationFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "gina", Email: "gina@example.com", Password: "gina-password"})
	require.NoError(t, err)
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	assert.NoError(t, f.svc.RequestReset(ctx, "gina"))
}

func TestRequestReset_UserWithoutEmailSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "hank", Password: "hank-password"})
	require.NoError(t, err)

	assert.NoError(t, f.svc.RequestReset(ctx, "hank"))
}

func TestConfirmReset_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "ivan", Email: "ivan@example.com", Password: "ivan-password"})
	require.NoError(t, err)

	var body string
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, b string) error {
			body = b
			return nil
		})
	require.NoError(t, f.svc.RequestReset(ctx, "ivan"))
	token := tokenFromBody(t, body)

	f.clock.Advance(31 * time.Minute)
	assert.ErrorIs(t, f.svc.ConfirmReset(ctx, token, "new-password"), apperr.ErrTokenExpired)
	assert.ErrorIs(t, f.svc.ConfirmReset(ctx, token, "new-password"), apperr.ErrTokenInvalid)
	assert.Empty(t, f.revoker.usernames)
}

func TestConfirmReset_WeakPasswordKeepsToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.users.Signup(ctx, user.SignupInput{Username: "judy", Email: "judy@example.com", Password: "judy-password"})
	require.NoError(t, err)

	var body string
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, b string) error {
			body = b
			return nil
		})
	require.NoError(t, f.svc.RequestReset(ctx, "judy"))
	token := tokenFromBody(t, body)

	assert.ErrorIs(t, f.svc.ConfirmReset(ctx, token, "short"), apperr.ErrInvalidRequest)
	assert.NoError(t, f.svc.ConfirmReset(ctx, token, "long-enough-now"))
}
