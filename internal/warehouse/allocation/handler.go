package allocation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// maxBulkItems bounds one bulk request.
const maxBulkItems = 1000

// Handler exposes allocation endpoints.
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

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations", h.allocate)
	r.Post("/stock/status", h.bulkTransition)
	r.Post("/stock/location", h.bulkLocation)
	r.Post("/stock/{id}/status", h.transition)
	r.Post("/orders/{orderID}/dispatch", h.dispatch)
}

type transitionRequest struct {
	Status stock.Status     `json:"status"`
	Demand *stock.DemandRef `json:"demand,omitempty"`
}

type bulkTransitionRequest struct {
	Items []StatusChange `json:"items" validate:"required,min=1"`
}

type bulkLocationRequest struct {
	Items []LocationChange `json:"items" validate:"required,min=1"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Allocate(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "allocate", err)
		return
	}
	message := ""
	if len(res.Warnings) > 0 {
		message = res.Warnings[0]
	}
	httpx.Success(w, http.StatusOK, "allocation", res, message)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.Transition(r.Context(), actor, StatusChange{
		RecordID: chi.URLParam(r, "id"),
		To:       req.Status,
		Demand:   req.Demand,
	})
	if err != nil {
		h.fail(w, "transition", err)
		return
	}
	httpx.Success(w, http.StatusOK, "record", record, "")
}

func (h *Handler) bulkTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req bulkTransitionRequest
	if !h.decodeBulk(w, r, &req, func() int { return len(req.Items) }) {
		return
	}
	httpx.Success(w, http.StatusOK, "result", h.service.BulkTransition(r.Context(), actor, req.Items), "")
}

func (h *Handler) bulkLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req bulkLocationRequest
	if !h.decodeBulk(w, r, &req, func() int { return len(req.Items) }) {
		return
	}
	httpx.Success(w, http.StatusOK, "result", h.service.BulkUpdateLocation(r.Context(), actor, req.Items), "")
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	res, err := h.service.DispatchOrder(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, "dispatch", err)
		return
	}
	httpx.Success(w, http.StatusOK, "result", res, "")
}

func (h *Handler) decodeBulk(w http.ResponseWriter, r *http.Request, req any, size func() int) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if size() > maxBulkItems {
		httpx.Fail(w, http.StatusBadRequest, "validation", "too many items in one request")
		return false
	}
	return true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
	}
	return actor, ok
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.Classify(err); status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
