package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Payload is the structured error body returned by every endpoint.
type Payload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type mapping struct {
	err    error
	status int
	code   string
}

// order matters: the first sentinel found in the chain wins
var mappings = []mapping{
	{ErrAccountLocked, http.StatusLocked, "account_locked"},
	{ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{ErrInvalidCredentials, http.StatusBadRequest, "invalid_grant"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{ErrTokenExpired, http.StatusUnauthorized, "invalid_token"},
	{ErrTokenInvalid, http.StatusUnauthorized, "invalid_token"},
	{ErrTokenNotFound, http.StatusUnauthorized, "invalid_token"},
	{ErrClientNotFound, http.StatusNotFound, "client_not_found"},
	{ErrInvalidClient, http.StatusUnauthorized, "invalid_client"},
	{ErrUnauthorizedClient, http.StatusBadRequest, "unauthorized_client"},
	{ErrInvalidGrant, http.StatusBadRequest, "invalid_grant"},
	{ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
	{ErrUnsupportedGrantType, http.StatusBadRequest, "unsupported_grant_type"},
	{ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{ErrAccessDenied, http.StatusForbidden, "access_denied"},
	{ErrAlreadyExists, http.StatusConflict, "already_exists"},
}

// Status maps err to an HTTP status and an OAuth-style error code.
// Anything outside the taxonomy, storage failures included, is a 500.
func Status(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "server_error"
}

// WriteError renders err as a Payload. Descriptions of server errors are
// not exposed to the caller.
func WriteError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status, code := Status(err)
	desc := err.Error()
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Errorw("request failed", "err", err)
		}
		desc = "internal server error"
	} else if logger != nil {
		logger.Debugw("request rejected", "code", code, "err", err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	WriteJSON(w, status, Payload{Error: code, ErrorDescription: desc})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
