package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets the variables the tests touch so they start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"DATABASE_DRIVER",
		"TOKEN_FORMAT",
		"TOKEN_ACCESS_VALIDITY",
		"TOKEN_ACCESS_TABLE",
		"TOKEN_REFRESH_TABLE",
		"LOCKOUT_MAX_ATTEMPTS",
		"RESET_WINDOW",
		"REGISTRY_URL",
		"REGISTRY_SYNC_CLIENTS",
		"APIKEY_AUTHORITIES",
		"SEED_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 12*time.Hour, cfg.Token.AccessValidity)
	assert.Equal(t, 720*time.Hour, cfg.Token.RefreshValidity)
	assert.True(t, cfg.Token.ReuseRefresh)
	assert.Equal(t, "opaque", cfg.Token.Format)
	assert.Equal(t, "oauth_access_token", cfg.Token.Tables.Access)
	assert.Equal(t, "oauth_refresh_token", cfg.Token.Tables.Refresh)
	assert.Equal(t, []string{"ROLE_ADMIN"}, cfg.APIKey.Authorities)
	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, 3, cfg.PasswordReset.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.PasswordReset.Window)
	assert.Equal(t, time.Minute, cfg.Registry.Interval)
	assert.False(t, cfg.Registry.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("TOKEN_FORMAT", "jwt")
	t.Setenv("TOKEN_ACCESS_TABLE", "auth.access_tokens")
	t.Setenv("REGISTRY_URL", "http://consul:8500")
	t.Setenv("REGISTRY_SYNC_CLIENTS", "gateway,reports")
	t.Setenv("SEED_FILE", "/etc/auth/seed.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "jwt", cfg.Token.Format)
	assert.Equal(t, "auth.access_tokens", cfg.Token.Tables.Access)
	assert.Equal(t, []string{"gateway", "reports"}, cfg.Registry.Clients)
	assert.True(t, cfg.Registry.Enabled())
	assert.Equal(t, "/etc/auth/seed.yaml", cfg.SeedFile)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"DATABASE_DRIVER", "mysql", "DATABASE_DRIVER"},
		{"TOKEN_FORMAT", "paseto", "TOKEN_FORMAT"},
		{"TOKEN_REFRESH_TABLE", "tokens; DROP TABLE users", "invalid token table name"},
		{"LOCKOUT_MAX_ATTEMPTS", "0", "LOCKOUT_MAX_ATTEMPTS"},
		{"RESET_WINDOW", "0s", "RESET_WINDOW"},
		{"REGISTRY_URL", "consul:8500", "REGISTRY_URL"},
		{"TOKEN_ACCESS_VALIDITY", "-1h", "TOKEN_ACCESS_VALIDITY"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
