package passwordreset

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type RequestBody struct {
	Identifier string `json:"identifier"`
}

type ConfirmBody struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Request handles POST /users/password-reset.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: identifier required", apperr.ErrInvalidRequest))
		return
	}
	if err := h.svc.RequestReset(r.Context(), req.Identifier); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "password reset instructions sent"})
}

// Confirm handles POST /users/password-reset/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		apperr.WriteError(w, h.logger, fmt.Errorf("%w: token required", apperr.ErrInvalidRequest))
		return
	}
	if err := h.svc.ConfirmReset(r.Context(), req.Token, req.Password); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
