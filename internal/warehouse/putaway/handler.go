package putaway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
)

// Handler exposes put-away endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers put-away routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/containers/{containerID}/put-away", h.putAway)
	r.Post("/containers/{containerID}/reconcile", h.reconcile)
}

func (h *Handler) putAway(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.PutAway(r.Context(), actor, chi.URLParam(r, "containerID"), req)
	if err != nil {
		h.logger.Warn("put-away failed", slog.String("tenant_id", actor.TenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "put_away", res, "")
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	containerID := chi.URLParam(r, "containerID")
	if r.URL.Query().Get("async") == "true" {
		queued, res, err := h.service.ScheduleReconcile(r.Context(), actor.TenantID, containerID)
		if err != nil {
			h.logger.Warn("schedule reconcile", slog.String("container_id", containerID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if queued {
			httpx.Success(w, http.StatusAccepted, "reconcile", res, "reconciliation queued")
			return
		}
		httpx.Success(w, http.StatusOK, "reconcile", res, "")
		return
	}
	res, err := h.service.Reconcile(r.Context(), actor.TenantID, containerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "reconcile", res, "")
}
