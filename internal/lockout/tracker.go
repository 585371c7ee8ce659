// Package lockout locks accounts after repeated failed authentications and
// unlocks them once the lockout window has passed.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

type Config struct {
	MaxAttempts int           `env:"LOCKOUT_MAX_ATTEMPTS" envDefault:"5"`
	Duration    time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
}

// Directory is the subset of the user directory the tracker needs.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*userentity.User, error)
	SetLockedOut(ctx context.Context, id int64, locked bool) error
}

// CredentialVerifier checks a presented password.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, u *userentity.User, password string) bool
}

type Tracker struct {
	cfg      Config
	users    Directory
	verifier CredentialVerifier
	counters *repo.CounterRepo
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func NewTracker(cfg Config, users Directory, verifier CredentialVerifier, counters *repo.CounterRepo,
	clock clockwork.Clock, m *metrics.Metrics, logger *zap.SugaredLogger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{cfg: cfg, users: users, verifier: verifier, counters: counters, clock: clock, metrics: m, logger: logger}
}

// Authenticate checks the password of username while enforcing the
// lockout. A successful attempt does not reset a failure count that has
// not reached the threshold; only an expired lockout resets it.
func (t *Tracker) Authenticate(ctx context.Context, username, password string) (*userentity.User, error) {
	u, err := t.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			t.metrics.AuthFailure("bad_credentials")
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Enabled {
		t.metrics.AuthFailure("disabled")
		return nil, apperr.ErrAccountDisabled
	}

	counter, err := t.counters.Get(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()

	if u.LockedOut {
		if elapsed := now.Sub(counter.LastFailedAt); elapsed < t.cfg.Duration {
			t.metrics.AuthFailure("locked")
			retry := (t.cfg.Duration - elapsed).Round(time.Second)
			return nil, fmt.Errorf("%w: try again in %s", apperr.ErrAccountLocked, retry)
		}
		if err := t.users.SetLockedOut(ctx, u.ID, false); err != nil {
			return nil, err
		}
		if err := t.counters.Reset(ctx, u.ID); err != nil {
			return nil, err
		}
		u.LockedOut = false
		counter.FailedAttempts = 0
		t.logger.Infow("account lockout expired", "user_id", u.ID)
	}

	if !t.verifier.VerifyPassword(ctx, u, password) {
		counter.FailedAttempts++
		counter.LastFailedAt = now
		if err := t.counters.Save(ctx, counter); err != nil {
			return nil, err
		}
		if counter.FailedAttempts >= t.cfg.MaxAttempts {
			if err := t.users.SetLockedOut(ctx, u.ID, true); err != nil {
				return nil, err
			}
			t.metrics.Lockout()
			t.logger.Warnw("account locked", "user_id", u.ID, "failed_attempts", counter.FailedAttempts)
		}
		t.metrics.AuthFailure("bad_credentials")
		return nil, apperr.ErrInvalidCredentials
	}
	return u, nil
}

// Unlock clears the lockout flag and the failure counter.
func (t *Tracker) Unlock(ctx context.Context, username string) error {
	u, err := t.users.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := t.users.SetLockedOut(ctx, u.ID, false); err != nil {
		return err
	}
	if err := t.counters.Reset(ctx, u.ID); err != nil {
		return err
	}
	t.logger.Infow("account unlocked", "user_id", u.ID)
	return nil
}

// FailedAttempts returns the current failure count of a user.
func (t *Tracker) FailedAttempts(ctx context.Context, userID int64) (int, error) {
	c, err := t.counters.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return c.FailedAttempts, nil
}
