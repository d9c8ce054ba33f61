package aggregation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
)

// Handler exposes the stock summary.
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

// MountRoutes registers summary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/summary", h.summary)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	q := r.URL.Query()
	filter := Filter{
		SKUID:             q.Get("sku_id"),
		BatchNumber:       q.Get("batch_number"),
		WarehouseID:       q.Get("warehouse_id"),
		ContainerDetailID: q.Get("container_detail_id"),
	}
	summary, err := h.service.Summary(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.logger.Error("stock summary", slog.String("tenant_id", actor.TenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "summary", summary, "")
}
