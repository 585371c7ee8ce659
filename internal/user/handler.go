package user

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

// Handler exposes HTTP endpoints for user operations.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: invalid payload", apperr.ErrInvalidRequest))
		return
	}
	u, err := h.svc.Signup(r.Context(), SignupInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		h.logger.Debugw("signup failed", "username", req.Username, "err", err)
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, u.Profile())
}
