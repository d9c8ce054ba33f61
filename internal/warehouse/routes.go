// Package warehouse mounts the stock allocation endpoints.
package warehouse

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/aggregation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/allocation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/availability"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/putaway"
)

// Handlers groups the warehouse HTTP handlers. Nil handlers are not mounted.
type Handlers struct {
	Availability *availability.Handler
	Allocation   *allocation.Handler
	PutAway      *putaway.Handler
	Aggregation  *aggregation.Handler
}

// MountRoutes registers every warehouse route behind RequireActor.
func (h Handlers) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)
		if h.Availability != nil {
			h.Availability.MountRoutes(r)
		}
		if h.Allocation != nil {
			h.Allocation.MountRoutes(r)
		}
		if h.PutAway != nil {
			h.PutAway.MountRoutes(r)
		}
		if h.Aggregation != nil {
			h.Aggregation.MountRoutes(r)
		}
	})
}

// RequireActor rejects requests that carry no tenant.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
