// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/lockout"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/passwordreset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/registry"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Config is the whole service configuration. Each domain package owns its
// section; sections are handed to constructors by value.
type Config struct {
	Database      database.Config
	Log           utilities.Config
	Token         oauth.TokenConfig
	APIKey        oauth.APIKeyConfig
	Lockout       lockout.Config
	PasswordReset passwordreset.Config
	Registry      registry.Config
	HTTP          router.Config

	// SeedFile is an optional YAML file of clients and users created at startup.
	SeedFile string `env:"SEED_FILE"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q", database.DriverPostgres, database.DriverSQLite)
	}

	switch c.Token.Format {
	case oauth.FormatOpaque, oauth.FormatJWT:
	default:
		return fmt.Errorf("TOKEN_FORMAT must be %q or %q", oauth.FormatOpaque, oauth.FormatJWT)
	}
	if c.Token.AccessValidity < 0 || c.Token.RefreshValidity < 0 {
		return fmt.Errorf("TOKEN_ACCESS_VALIDITY and TOKEN_REFRESH_VALIDITY must not be negative")
	}
	if err := c.Token.Tables.Validate(); err != nil {
		return err
	}
	if c.APIKey.ClientPrefix == "" {
		return fmt.Errorf("APIKEY_CLIENT_PREFIX is required")
	}

	if c.Lockout.MaxAttempts <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS and LOCKOUT_DURATION must be positive")
	}
	r := c.PasswordReset
	if r.MaxAttempts <= 0 || r.Window <= 0 || r.Lockout <= 0 || r.TokenTTL <= 0 {
		return fmt.Errorf("RESET_MAX_ATTEMPTS, RESET_WINDOW, RESET_LOCKOUT and RESET_TOKEN_TTL must be positive")
	}

	if c.Registry.URL != "" {
		u, err := url.Parse(c.Registry.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("REGISTRY_URL %q is not an absolute URL", c.Registry.URL)
		}
		if c.Registry.Interval <= 0 {
			return fmt.Errorf("REGISTRY_SYNC_INTERVAL must be positive")
		}
	}

	if c.HTTP.TokenRateLimit < 0 {
		return fmt.Errorf("HTTP_TOKEN_RATE_LIMIT must not be negative")
	}
	return nil
}
