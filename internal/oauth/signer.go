package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
)

// ValueGenerator produces access token values.
type ValueGenerator interface {
	NewValue(auth *entity.Authentication, now time.Time) (string, error)
}

// OpaqueValues generates random UUID token values.
type OpaqueValues struct{}

func (OpaqueValues) NewValue(*entity.Authentication, time.Time) (string, error) {
	return uuid.NewString(), nil
}

// Signer issues RS256 JWT token values. The JWT carries no exp claim: the
// stored token is authoritative for expiry, which slides on every read.
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
}

// NewSigner loads a PEM encoded RSA private key from keyFile, or generates
// an ephemeral 2048 bit key when keyFile is empty.
func NewSigner(issuer, keyFile string) (*Signer, error) {
	var k *rsa.PrivateKey
	if keyFile != "" {
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		k, err = jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
	} else {
		var err error
		k, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	// kid: base64 of the first 8 bytes of SHA256 over the DER public key
	der, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(der)
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	return &Signer{key: k, kid: kid, issuer: issuer}, nil
}

func (s *Signer) NewValue(auth *entity.Authentication, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       auth.Principal(),
		"client_id": auth.ClientID,
		"iat":       now.Unix(),
		"jti":       uuid.NewString(),
	}
	if len(auth.Scope) > 0 {
		claims["scope"] = strings.Join(auth.Scope, " ")
	}
	if len(auth.Authorities) > 0 {
		claims["authorities"] = auth.Authorities
	}
	if !auth.ClientOnly() {
		claims["user_id"] = auth.UserID
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}

// JWKS returns a minimal JWKS containing the public key.
func (s *Signer) JWKS() map[string]any {
	pub := s.key.PublicKey
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	// encode exponent using big.Int to get minimal big-endian bytes
	e := base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(pub.E)).Bytes())
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": s.kid,
		"n":   n,
		"e":   e,
	}
	return map[string]any{"keys": []any{jwk}}
}

// PublicKey returns the RSA public key for verification.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// NewValueGenerator picks the generator for format.
func NewValueGenerator(cfg TokenConfig) (ValueGenerator, *Signer, error) {
	switch cfg.Format {
	case "", FormatOpaque:
		return OpaqueValues{}, nil, nil
	case FormatJWT:
		s, err := NewSigner(cfg.Issuer, cfg.SigningKeyFile)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown token format %q", cfg.Format)
	}
}
