package passwordreset_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newThrottle(t *testing.T, cfg passwordreset.Config) (*passwordreset.Throttle, *repo.ResetRepo, *clockwork.FakeClock) {
	t.Helper()
	r := repo.NewResetRepo(testutil.NewDB(t))
	clock := clockwork.NewFakeClockAt(epoch)
	return passwordreset.NewThrottle(cfg, r, clock, nil), r, clock
}

func TestRegisterAttempt_CreatesRegistryLazily(t *testing.T) {
	ctx := context.Background()
	th, r, _ := newThrottle(t, passwordreset.Config{MaxAttempts: 3, Window: time.Minute, Lockout: time.Minute})

	reg, err := r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, reg)

	require.NoError(t, th.RegisterAttempt(ctx, 1))
	reg, err = r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, 1, reg.AttemptCount)
	assert.False(t, reg.Blocked)
	assert.True(t, epoch.Equal(reg.WindowStartedAt))
}

func TestRegisterAttempt_WindowReset(t *testing.T) {
	ctx := context.Background()
	th, r, clock := newThrottle(t, passwordreset.Config{MaxAttempts: 5, Window: 60 * time.Second, Lockout: time.Minute})

	require.NoError(t, th.RegisterAttempt(ctx, 1))
	clock.Advance(10 * time.Second)
	require.NoError(t, th.RegisterAttempt(ctx, 1))

	clock.Advance(80 * time.Second)
	require.NoError(t, th.RegisterAttempt(ctx, 1))

	reg, err := r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.AttemptCount)
	assert.True(t, epoch.Add(90*time.Second).Equal(reg.WindowStartedAt))
}

func TestRegisterAttempt_BlockAndUnblock(t *testing.T) {
	ctx := context.Background()
	th, r, clock := newThrottle(t, passwordreset.Config{MaxAttempts: 3, Window: time.Hour, Lockout: 5 * time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, th.RegisterAttempt(ctx, 1))
		clock.Advance(time.Second)
	}
	reg, err := r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	assert.True(t, reg.Blocked)
	assert.Equal(t, 3, reg.AttemptCount)

	clock.Advance(time.Minute)
	err = th.RegisterAttempt(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	reg, err = r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.AttemptCount)

	clock.Advance(5 * time.Minute)
	require.NoError(t, th.RegisterAttempt(ctx, 1))
	reg, err = r.GetRegistry(ctx, 1)
	require.NoError(t, err)
	assert.False(t, reg.Blocked)
	assert.Equal(t, 1, reg.AttemptCount)
}

func TestRegisterAttempt_PerUser(t *testing.T) {
	ctx := context.Background()
	th, _, _ := newThrottle(t, passwordreset.Config{MaxAttempts: 1, Window: time.Hour, Lockout: time.Hour})

	require.NoError(t, th.RegisterAttempt(ctx, 1))
	assert.ErrorIs(t, th.RegisterAttempt(ctx, 1), apperr.ErrRateLimited)
	assert.NoError(t, th.RegisterAttempt(ctx, 2))
}
