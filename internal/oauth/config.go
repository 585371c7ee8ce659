package oauth

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/repo"
)

// Token value formats.
const (
	FormatOpaque = "opaque"
	FormatJWT    = "jwt"
)

type TokenConfig struct {
	Issuer          string        `env:"TOKEN_ISSUER" envDefault:"http://localhost:8080"`
	AccessValidity  time.Duration `env:"TOKEN_ACCESS_VALIDITY" envDefault:"12h"`
	RefreshValidity time.Duration `env:"TOKEN_REFRESH_VALIDITY" envDefault:"720h"`
	ReuseRefresh    bool          `env:"TOKEN_REUSE_REFRESH" envDefault:"true"`
	Format          string        `env:"TOKEN_FORMAT" envDefault:"opaque"`
	SigningKeyFile  string        `env:"TOKEN_SIGNING_KEY_FILE"`
	Tables          repo.Tables   `envPrefix:"TOKEN_"`
}

type APIKeyConfig struct {
	ClientPrefix string   `env:"APIKEY_CLIENT_PREFIX" envDefault:"apikey-"`
	Authorities  []string `env:"APIKEY_AUTHORITIES" envSeparator:"," envDefault:"ROLE_ADMIN"`
	Scope        []string `env:"APIKEY_SCOPE" envSeparator:"," envDefault:"read,write"`
}
