package availability

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
)

// Handler exposes availability over HTTP.
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

// MountRoutes registers availability routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders/{orderID}/availability", h.orderAvailability)
}

func (h *Handler) orderAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	results, err := h.service.ResolveOrder(r.Context(), actor.TenantID, orderID)
	if err != nil {
		h.logger.Warn("resolve availability", slog.String("order_id", orderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "results", results, "")
}
