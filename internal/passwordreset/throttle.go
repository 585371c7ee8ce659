package passwordreset

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/repo"
)

// Throttle limits password reset requests per user over a rolling window.
type Throttle struct {
	cfg     Config
	repo    *repo.ResetRepo
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

func NewThrottle(cfg Config, r *repo.ResetRepo, clock clockwork.Clock, m *metrics.Metrics) *Throttle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Throttle{cfg: cfg, repo: r, clock: clock, metrics: m}
}

// RegisterAttempt records a reset request for userID or fails with
// apperr.ErrRateLimited while the user is blocked.
func (t *Throttle) RegisterAttempt(ctx context.Context, userID int64) error {
	now := t.clock.Now()
	reg, err := t.repo.GetRegistry(ctx, userID)
	if err != nil {
		return err
	}
	if reg == nil {
		reg = &entity.Registry{UserID: userID, WindowStartedAt: now, LastAttemptAt: now}
	}

	if reg.Blocked {
		if elapsed := now.Sub(reg.LastAttemptAt); elapsed < t.cfg.Lockout {
			t.metrics.ResetThrottled()
			retry := (t.cfg.Lockout - elapsed).Round(time.Second)
			return fmt.Errorf("%w: too many password reset requests, try again in %s", apperr.ErrRateLimited, retry)
		}
		reg.AttemptCount = 0
		reg.WindowStartedAt = now
		reg.Blocked = false
	}
	if now.Sub(reg.WindowStartedAt) > t.cfg.Window {
		reg.AttemptCount = 0
		reg.WindowStartedAt = now
	}

	reg.AttemptCount++
	reg.LastAttemptAt = now
	if reg.AttemptCount >= t.cfg.MaxAttempts {
		reg.Blocked = true
	}
	return t.repo.SaveRegistry(ctx, reg)
}
