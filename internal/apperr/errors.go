// Package apperr holds the error taxonomy shared by the token and
// account-protection services and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
)

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("bad credentials")
	ErrAccountLocked      = errors.New("account is locked after too many failed attempts, retry later")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserNotFound       = errors.New("user not found")
	ErrRateLimited        = errors.New("too many password reset requests, retry later")
)

// Token and client errors.
var (
	ErrTokenInvalid         = errors.New("invalid token")
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExpired         = errors.New("token expired")
	ErrClientNotFound       = errors.New("client not found")
	ErrInvalidClient        = errors.New("client authentication failed")
	ErrUnauthorizedClient   = errors.New("client is not authorized for this grant type")
	ErrInvalidGrant         = errors.New("invalid grant")
	ErrInvalidScope         = errors.New("invalid scope")
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAccessDenied         = errors.New("access denied")
	ErrAlreadyExists        = errors.New("already exists")
)

// ErrStorageFailure marks unexpected persistence errors. They are never
// retried locally.
var ErrStorageFailure = errors.New("storage failure")

// Storage wraps a driver error so that it matches ErrStorageFailure while
// keeping the original error in the chain.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
