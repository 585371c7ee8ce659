package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout"
	lockoutrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	notificationrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth"
	oauthrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset"
	resetrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/registry"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/seed"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the registry sync loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			return serve(cmd.Context(), cfg, lg.Sugar())
		},
	}
}

// app holds the wired services of a running instance.
type app struct {
	handler  http.Handler
	apiKeys  *oauth.APIKeyManager
	seeder   *seed.Seeder
	registry *registry.Sync
}

func wire(cfg *config.Config, db *sqlx.DB, logger *zap.SugaredLogger) (*app, error) {
	m := metrics.New()

	users := user.NewService(userrepo.NewUserRepo(db), user.BcryptHasher{}, logger)
	tracker := lockout.NewTracker(cfg.Lockout, users, users, lockoutrepo.NewCounterRepo(db), nil, m, logger)

	tokens, err := oauthrepo.NewTokenRepo(db, cfg.Token.Tables)
	if err != nil {
		return nil, err
	}
	clients := oauthrepo.NewClientRepo(db)
	values, signer, err := oauth.NewValueGenerator(cfg.Token)
	if err != nil {
		return nil, err
	}
	issuer := oauth.NewIssuer(cfg.Token, tokens, clients, tracker, users, values, nil, m, logger)
	apiKeys := oauth.NewAPIKeyManager(cfg.APIKey, issuer, tokens, clients, m, logger)

	resets := resetrepo.NewResetRepo(db)
	outbox := notification.NewOutboxGateway(notificationrepo.NewOutboxRepo(db), logger)
	resetSvc := passwordreset.NewService(cfg.PasswordReset, passwordreset.NewThrottle(cfg.PasswordReset, resets, nil, m),
		resets, users, outbox, issuer, nil, logger)

	a := &app{
		handler: router.New(router.Deps{
			Config:        cfg.HTTP,
			Logger:        logger,
			Metrics:       m,
			Authenticator: issuer,
			OAuth:         oauth.NewHandler(cfg.Token, issuer, apiKeys, users, signer, logger),
			Users:         user.NewHandler(users, logger),
			PasswordReset: passwordreset.NewHandler(resetSvc, logger),
			Lockout:       lockout.NewHandler(tracker, logger),
			Health:        func(ctx context.Context) error { return db.PingContext(ctx) },
		}),
		apiKeys: apiKeys,
		seeder:  seed.NewSeeder(clients, users, logger),
	}
	if cfg.Registry.Enabled() {
		consul := registry.NewConsul(cfg.Registry.URL, cfg.Registry.Token, nil)
		a.registry = registry.NewSync(cfg.Registry, consul, clients, nil, m, logger)
	}
	return a, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting service-auth-go", "addr", cfg.HTTP.Addr, "db_driver", cfg.Database.Driver, "token_format", cfg.Token.Format)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	a, err := wire(cfg, db, logger)
	if err != nil {
		return err
	}
	if res, err := a.seeder.ApplyFile(ctx, cfg.SeedFile); err != nil {
		return err
	} else if res.Clients > 0 || res.Users > 0 {
		logger.Infow("seed applied", "clients", res.Clients, "users", res.Users)
	}
	if _, err := a.apiKeys.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.registry != nil {
		g.Go(func() error { return a.registry.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("http server shutdown failed", "err", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("goodbye")
	return err
}
