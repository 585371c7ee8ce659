package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

type Handler struct {
	issuer  *Issuer
	apiKeys *APIKeyManager
	users   UserLookup
	signer  *Signer
	cfg     TokenConfig
	logger  *zap.SugaredLogger
}

// NewHandler wires the token endpoints. signer is nil for opaque tokens.
func NewHandler(cfg TokenConfig, issuer *Issuer, apiKeys *APIKeyManager, users UserLookup, signer *Signer,
	logger *zap.SugaredLogger) *Handler {
	return &Handler{issuer: issuer, apiKeys: apiKeys, users: users, signer: signer, cfg: cfg, logger: logger}
}

func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"issuer":                                h.cfg.Issuer,
		"token_endpoint":                        h.cfg.Issuer + "/oauth/token",
		"introspection_endpoint":                h.cfg.Issuer + "/oauth/check_token",
		"jwks_uri":                              h.cfg.Issuer + "/oauth/jwks.json",
		"grant_types_supported":                 []string{entity.GrantPassword, entity.GrantClientCredentials, entity.GrantRefreshToken},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		apperr.WriteJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
		return
	}
	apperr.WriteJSON(w, http.StatusOK, h.signer.JWKS())
}

// clientCredentials reads client credentials from Basic auth, falling back
// to the form.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

// Token handles POST /oauth/token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: malformed form body", apperr.ErrInvalidRequest))
		return
	}
	clientID, secret := clientCredentials(r)
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	req := TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: secret,
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        database.ParseStringList(r.PostForm.Get("scope")),
		Parameters:   params,
	}
	tok, err := h.issuer.Grant(r.Context(), req)
	if err != nil {
		h.logger.Debugw("token request rejected", "grant_type", req.GrantType, "client_id", clientID, "err", err)
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, TokenResponse(tok, h.issuer.Now()))
}

// TokenResponse renders tok in the token endpoint format with the
// additional info flattened into the top level.
func TokenResponse(tok *entity.AccessToken, now time.Time) map[string]any {
	out := make(map[string]any, 6+len(tok.AdditionalInfo))
	for k, v := range tok.AdditionalInfo {
		out[k] = v
	}
	out["access_token"] = tok.Value
	out["token_type"] = tok.TokenType
	if tok.ExpiresAt != nil {
		out["expires_in"] = tok.ExpiresIn(now)
	}
	if len(tok.Scope) > 0 {
		out["scope"] = strings.Join(tok.Scope, " ")
	}
	if tok.RefreshToken != nil {
		out["refresh_token"] = tok.RefreshToken.Value
	}
	return out
}

// Logout handles DELETE /oauth/token for the presented bearer token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, apperr.ErrTokenInvalid)
		return
	}
	if err := h.issuer.Revoke(r.Context(), p.Token); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// CheckToken handles POST /oauth/check_token. The caller authenticates as a
// client; unknown or expired tokens are reported as inactive.
func (h *Handler) CheckToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: malformed form body", apperr.ErrInvalidRequest))
		return
	}
	clientID, secret := clientCredentials(r)
	if _, err := h.issuer.AuthenticateClient(r.Context(), clientID, secret); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: token required", apperr.ErrInvalidRequest))
		return
	}
	auth, tok, err := h.issuer.LoadAuthentication(r.Context(), token)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenInvalid) || errors.Is(err, apperr.ErrTokenExpired) {
			apperr.WriteJSON(w, http.StatusOK, map[string]any{"active": false})
			return
		}
		apperr.WriteError(w, h.logger, err)
		return
	}
	out := map[string]any{
		"active":    true,
		"client_id": auth.ClientID,
		"scope":     strings.Join(auth.Scope, " "),
	}
	for k, v := range tok.AdditionalInfo {
		out[k] = v
	}
	if !auth.ClientOnly() {
		out["user_name"] = auth.Username
	}
	if len(auth.Authorities) > 0 {
		out["authorities"] = auth.Authorities
	}
	if len(auth.ResourceIDs) > 0 {
		out["aud"] = auth.ResourceIDs
	}
	if tok.ExpiresAt != nil {
		out["exp"] = tok.ExpiresAt.Unix()
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// Me handles GET /oauth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		apperr.WriteError(w, h.logger, apperr.ErrTokenInvalid)
		return
	}
	auth := p.Authentication
	out := map[string]any{
		"client_id":   auth.ClientID,
		"scope":       auth.Scope,
		"authorities": auth.Authorities,
	}
	if !auth.ClientOnly() {
		u, err := h.users.FindByID(r.Context(), auth.UserID)
		if err != nil {
			apperr.WriteError(w, h.logger, err)
			return
		}
		out["user"] = u.Profile()
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// CreateAPIKey handles POST /admin/api-keys.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.apiKeys.Create(r.Context())
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, key)
}

// ListAPIKeys handles GET /admin/api-keys.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.List(r.Context())
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, keys)
}

// RevokeAPIKey handles DELETE /admin/api-keys/{token}.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.apiKeys.Revoke(r.Context(), chi.URLParam(r, "token")); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTokens handles GET /admin/tokens?username=&client_id=.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokens, err := h.issuer.FindTokens(r.Context(), q.Get("username"), q.Get("client_id"))
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	now := h.issuer.Now()
	out := make([]map[string]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, TokenResponse(t, now))
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}
