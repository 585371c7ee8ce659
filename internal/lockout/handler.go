package lockout

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

type Handler struct {
	tracker *Tracker
	logger  *zap.SugaredLogger
}

func NewHandler(tracker *Tracker, logger *zap.SugaredLogger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

// Unlock handles POST /admin/users/{username}/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.tracker.Unlock(r.Context(), username); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
