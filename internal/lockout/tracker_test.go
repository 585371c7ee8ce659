package lockout_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout"
	lockoutrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

const password = "admin-password"

type fixture struct {
	tracker *lockout.Tracker
	users   *user.Service
	clock   *clockwork.FakeClock
	admin   *userentity.User
}

func newFixture(t *testing.T, cfg lockout.Config) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	users := user.NewService(userrepo.NewUserRepo(db), user.BcryptHasher{Cost: bcrypt.MinCost}, testutil.Logger())
	admin, err := users.Signup(context.Background(), user.SignupInput{Username: "admin", Password: password})
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	tr := lockout.NewTracker(cfg, users, users, lockoutrepo.NewCounterRepo(db), clock, nil, testutil.Logger())
	return &fixture{tracker: tr, users: users, clock: clock, admin: admin}
}

func TestAuthenticate_Success(t *testing.T) {
	f := newFixture(t, lockout.Config{MaxAttempts: 3, Duration: time.Minute})
	u, err := f.tracker.Authenticate(context.Background(), "admin", password)
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, u.ID)
}

func TestAuthenticate_UnknownUserIsBadCredentials(t *testing.T) {
	f := newFixture(t, lockout.Config{MaxAttempts: 3, Duration: time.Minute})
	_, err := f.tracker.Authenticate(context.Background(), "ghost", password)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestAuthenticate_DisabledUserNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockout.Config{MaxAttempts: 3, Duration: time.Minute})
	f.admin.Enabled = false
	require.NoError(t, f.users.Save(ctx, f.admin))

	_, err := f.tracker.Authenticate(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, apperr.ErrAccountDisabled)
	n, err := f.tracker.FailedAttempts(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// 3 failures at t=0,1,2s lock the account; a correct attempt at t=3s is
// rejected as locked, the same attempt at t=65s succeeds and resets the count.
func TestAuthenticate_LockoutScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockout.Config{MaxAttempts: 3, Duration: 60 * time.Second})

	for i := 0; i < 3; i++ {
		_, err := f.tracker.Authenticate(ctx, "admin", "wrong")
		require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
		if i < 2 {
			f.clock.Advance(time.Second)
		}
	}

	f.clock.Advance(time.Second)
	_, err := f.tracker.Authenticate(ctx, "admin", password)
	require.ErrorIs(t, err, apperr.ErrAccountLocked)
	assert.NotErrorIs(t, err, apperr.ErrInvalidCredentials)

	locked, err := f.users.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, locked.LockedOut)
	n, err := f.tracker.FailedAttempts(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f.clock.Advance(62 * time.Second)
	u, err := f.tracker.Authenticate(ctx, "admin", password)
	require.NoError(t, err)
	assert.False(t, u.LockedOut)
	n, err = f.tracker.FailedAttempts(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuthenticate_LockedRejectsWithoutCounting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockout.Config{MaxAttempts: 2, Duration: time.Minute})
	for i := 0; i < 2; i++ {
		_, _ = f.tracker.Authenticate(ctx, "admin", "wrong")
	}
	_, err := f.tracker.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, apperr.ErrAccountLocked)

	n, err := f.tracker.FailedAttempts(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAuthenticate_SuccessDoesNotResetCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockout.Config{MaxAttempts: 3, Duration: time.Minute})

	_, err := f.tracker.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.tracker.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.tracker.Authenticate(ctx, "admin", password)
	require.NoError(t, err)

	n, err := f.tracker.FailedAttempts(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.tracker.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, err = f.tracker.Authenticate(ctx, "admin", password)
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockout.Config{MaxAttempts: 1, Duration: time.Hour})
	_, _ = f.tracker.Authenticate(ctx, "admin", "wrong")
	_, err := f.tracker.Authenticate(ctx, "admin", password)
	require.ErrorIs(t, err, apperr.ErrAccountLocked)

	require.NoError(t, f.tracker.Unlock(ctx, "admin"))
	_, err = f.tracker.Authenticate(ctx, "admin", password)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.tracker.Unlock(ctx, "ghost"), apperr.ErrUserNotFound)
}
