package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	TokenRateLimit  float64       `env:"HTTP_TOKEN_RATE_LIMIT" envDefault:"5"`
	TokenRateBurst  int           `env:"HTTP_TOKEN_RATE_BURST" envDefault:"10"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// AdminAuthority guards the administrative routes.
const AdminAuthority = "ROLE_ADMIN"

// Deps are the handlers and services mounted by New.
type Deps struct {
	Config        Config
	Logger        *zap.SugaredLogger
	Metrics       *metrics.Metrics
	Authenticator Authenticator
	OAuth         *oauth.Handler
	Users         *user.Handler
	PasswordReset *passwordreset.Handler
	Lockout       *lockout.Handler
	// Health checks a dependency, typically a database ping. Optional.
	Health func(ctx context.Context) error
}

// New builds the HTTP handler of the service.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				d.Logger.Warnw("health check failed", "err", err)
				apperr.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	bearer := BearerAuth(d.Authenticator, d.Logger)

	r.Get("/.well-known/oauth-authorization-server", d.OAuth.Discovery)
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/jwks.json", d.OAuth.JWKS)
		r.Post("/check_token", d.OAuth.CheckToken)
		r.With(NewIPRateLimiter(d.Config.TokenRateLimit, d.Config.TokenRateBurst).Middleware).
			Post("/token", d.OAuth.Token)
		r.With(bearer).Delete("/token", d.OAuth.Logout)
		r.With(bearer).Get("/me", d.OAuth.Me)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", d.Users.Signup)
		r.Post("/password-reset", d.PasswordReset.Request)
		r.Post("/password-reset/confirm", d.PasswordReset.Confirm)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(bearer, RequireAuthority(AdminAuthority, d.Logger))
		r.Post("/api-keys", d.OAuth.CreateAPIKey)
		r.Get("/api-keys", d.OAuth.ListAPIKeys)
		r.Delete("/api-keys/{token}", d.OAuth.RevokeAPIKey)
		r.Get("/tokens", d.OAuth.ListTokens)
		r.Post("/users/{username}/unlock", d.Lockout.Unlock)
	})

	return r
}
