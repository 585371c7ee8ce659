// Package passwordreset throttles "forgot password" requests and completes
// resets with a single-use token.
package passwordreset

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	oauthentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/repo"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type Config struct {
	MaxAttempts int           `env:"RESET_MAX_ATTEMPTS" envDefault:"3"`
	Window      time.Duration `env:"RESET_WINDOW" envDefault:"1h"`
	Lockout     time.Duration `env:"RESET_LOCKOUT" envDefault:"15m"`
	TokenTTL    time.Duration `env:"RESET_TOKEN_TTL" envDefault:"30m"`
	LinkBaseURL string        `env:"RESET_LINK_BASE_URL" envDefault:"http://localhost:8080/reset-password"`
}

// Users is the part of the user directory the reset flow touches.
type Users interface {
	FindByIdentifier(ctx context.Context, identifier string) (*userentity.User, error)
	FindByID(ctx context.Context, id int64) (*userentity.User, error)
	SetPassword(ctx context.Context, id int64, pw string) error
}

// TokenRevoker drops every access token of a user.
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, username string) (int, error)
}

const resetSubject = "Password reset"

type Service struct {
	cfg      Config
	throttle *Throttle
	repo     *repo.ResetRepo
	users    Users
	notifier notification.Gateway
	tokens   TokenRevoker
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

func NewService(cfg Config, throttle *Throttle, r *repo.ResetRepo, users Users, notifier notification.Gateway,
	tokens TokenRevoker, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{cfg: cfg, throttle: throttle, repo: r, users: users, notifier: notifier, tokens: tokens, clock: clock, logger: logger}
}

// RequestReset issues a reset token for the user named by identifier
// (username or email) and queues the reset link. Notification failures are
// logged, not returned.
func (s *Service) RequestReset(ctx context.Context, identifier string) error {
	u, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	if err := s.throttle.RegisterAttempt(ctx, u.ID); err != nil {
		return err
	}

	token := utilities.NewKSUID()
	now := s.clock.Now()
	if err := s.repo.SaveToken(ctx, &entity.ResetToken{
		UserID:    u.ID,
		TokenID:   oauthentity.TokenKey(token),
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if u.Email == nil || *u.Email == "" {
		s.logger.Warnw("password reset requested for user without email", "user_id", u.ID)
		return nil
	}
	body := fmt.Sprintf("Use the link below to choose a new password. It expires in %s.\n\n%s",
		s.cfg.TokenTTL, s.link(token))
	if err := s.notifier.Send(ctx, *u.Email, resetSubject, body); err != nil {
		s.logger.Warnw("password reset notification failed", "user_id", u.ID, "err", err)
	}
	return nil
}

func (s *Service) link(token string) string {
	u, err := url.Parse(s.cfg.LinkBaseURL)
	if err != nil {
		return s.cfg.LinkBaseURL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConfirmReset sets a new password using a reset token. The token is
// consumed and the user's access tokens are revoked.
func (s *Service) ConfirmReset(ctx context.Context, token, newPassword string) error {
	rec, err := s.repo.FindToken(ctx, oauthentity.TokenKey(token))
	if err != nil {
		return err
	}
	if !s.clock.Now().Before(rec.ExpiresAt) {
		if err := s.repo.DeleteToken(ctx, rec.UserID); err != nil {
			return err
		}
		return apperr.ErrTokenExpired
	}
	if err := s.users.SetPassword(ctx, rec.UserID, newPassword); err != nil {
		return err
	}
	if err := s.repo.DeleteToken(ctx, rec.UserID); err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		return err
	}
	n, err := s.tokens.RevokeAllForUser(ctx, u.Username)
	if err != nil {
		return err
	}
	s.logger.Infow("password reset completed", "user_id", u.ID, "revoked_tokens", n)
	return nil
}
