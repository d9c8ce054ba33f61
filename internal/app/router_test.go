package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-freight/odyssey-freight/internal/observability"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/aggregation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/availability"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
	"github.com/odyssey-freight/odyssey-freight/jobs"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	store := stock.NewMemoryStore()
	store.PutDemandLine(stock.DemandLine{ID: "line-1", TenantID: "t1", OrderID: "o1", SKUID: "sku-A", ExpectedQty: 5})
	cfg := &Config{RateLimitPerMinute: 1000}
	return NewRouter(RouterParams{
		Config: cfg,
		Warehouse: warehouse.Handlers{
			Availability: availability.NewHandler(nil, availability.NewService(store, nil)),
			Aggregation:  aggregation.NewHandler(nil, aggregation.NewService(store, nil, nil, nil)),
		},
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    observability.NewMetrics(),
	})
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterWarehouseRequiresTenant(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/warehouse/orders/o1/availability", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/warehouse/orders/o1/availability", nil)
	req.Header.Set(HeaderTenantID, "t1")
	req.Header.Set(HeaderUserID, "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sku_id":"sku-A"`)

	req = httptest.NewRequest(http.MethodGet, "/warehouse/stock/summary", nil)
	req.Header.Set(HeaderTenantID, "t1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorMiddleware(t *testing.T) {
	var got []string
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := shared.ActorFromContext(r.Context()); ok {
			got = append(got, actor.TenantID+"/"+actor.UserID)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, " t1 ")
	req.Header.Set(HeaderUserID, "u1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"t1/u1"}, got)
}
