package availability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

const tenant = "tenant-1"

func lpn(id, batch string, qty float64, status stock.Status) stock.StockRecord {
	r := stock.StockRecord{
		ID:          id,
		TenantID:    tenant,
		LPNNumber:   "LPN-" + id,
		SKU:         stock.SKURef{ID: "sku-A"},
		Provenance:  stock.FromInboundLine(stock.InboundProductLine{ID: "in-" + batch, SKUID: "sku-A", BatchNumber: batch, ReceivedQty: 100}),
		WarehouseID: "wh-1",
		Location:    "A-01-" + id,
		HUQty:       qty,
		Status:      status,
	}
	if status != stock.StatusAvailable {
		r.OutboundInventoryID = "order-x"
		r.OutboundProductLineID = "line-x"
	}
	return r
}

func demand() stock.DemandLine {
	return stock.DemandLine{
		ID:           "line-1",
		TenantID:     tenant,
		OrderID:      "order-1",
		SKUID:        "sku-A",
		BatchNumber:  "B1",
		WarehouseID:  "wh-1",
		ExpectedQty:  50,
		AllocatedQty: 10,
	}
}

func TestResolveSumsAvailableAndFlagsCommitments(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutRecord(lpn("r1", "B1", 20, stock.StatusAvailable))
	store.PutRecord(lpn("r2", "B1", 40, stock.StatusAvailable))
	mine := lpn("r3", "B1", 10, stock.StatusAllocated)
	mine.OutboundInventoryID, mine.OutboundProductLineID = "order-1", "line-1"
	store.PutRecord(mine)
	store.PutRecord(lpn("r4", "B1", 5, stock.StatusPicked))
	store.PutRecord(lpn("r5", "B2", 99, stock.StatusAvailable))

	svc := NewService(store, nil)
	results, err := svc.Resolve(context.Background(), tenant, []stock.DemandLine{demand()})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.InDelta(t, 40, res.RequiredQty, 0.0001)
	assert.InDelta(t, 60, res.AvailableQty, 0.0001)
	require.Len(t, res.Candidates, 4)
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, candidateIDs(res))
	assert.Equal(t, CommitmentNone, res.Candidates[0].Commitment)
	assert.Equal(t, CommitmentThisLine, res.Candidates[2].Commitment)
	assert.Equal(t, CommitmentOtherLine, res.Candidates[3].Commitment)
	require.NotNil(t, res.Candidates[3].CommittedTo)
	assert.Equal(t, "line-x", res.Candidates[3].CommittedTo.LineID)
}

func TestResolveIsIdempotent(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutRecord(lpn("r1", "B1", 20, stock.StatusAvailable))
	store.PutRecord(lpn("r2", "B1", 40, stock.StatusAllocated))
	svc := NewService(store, nil)

	first, err := svc.Resolve(context.Background(), tenant, []stock.DemandLine{demand()})
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), tenant, []stock.DemandLine{demand()})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveExcludesDeletedRecords(t *testing.T) {
	store := stock.NewMemoryStore()
	deleted := lpn("r1", "B1", 20, stock.StatusAvailable)
	deleted.IsDeleted = true
	store.PutRecord(deleted)

	res, err := NewService(store, nil).ResolveLine(context.Background(), tenant, demand())
	require.NoError(t, err)
	assert.Zero(t, res.AvailableQty)
	assert.Empty(t, res.Candidates)
}

func TestResolveMissingProvenanceYieldsZeroResult(t *testing.T) {
	svc := NewService(stock.NewMemoryStore(), nil)
	noBatch := demand()
	noBatch.BatchNumber = ""
	noSKU := demand()
	noSKU.SKUID = ""

	results, err := svc.Resolve(context.Background(), tenant, []stock.DemandLine{noBatch, noSKU})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ReasonMissingBatch, results[0].Reason)
	assert.Equal(t, ReasonMissingSKU, results[1].Reason)
	assert.Zero(t, results[0].AvailableQty)
	assert.NotNil(t, results[0].Candidates)
}

func TestResolveFallsBackToContainerScope(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutContainer(stock.Container{ID: "cont-1", TenantID: tenant})
	inContainer := lpn("r1", "B1", 20, stock.StatusAvailable)
	inContainer.WarehouseID = ""
	inContainer.ContainerDetailID = "cont-1"
	store.PutRecord(inContainer)
	elsewhere := lpn("r2", "B1", 30, stock.StatusAvailable)
	elsewhere.WarehouseID = ""
	elsewhere.ContainerDetailID = "cont-2"
	store.PutRecord(elsewhere)

	line := demand()
	line.WarehouseID = ""
	line.ContainerDetailID = "cont-1"
	res, err := NewService(store, nil).ResolveLine(context.Background(), tenant, line)
	require.NoError(t, err)
	assert.InDelta(t, 20, res.AvailableQty, 0.0001)

	line.ContainerDetailID = ""
	res, err = NewService(store, nil).ResolveLine(context.Background(), tenant, line)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoScope, res.Reason)
}

func TestResolveUsesContainerWarehouse(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutContainer(stock.Container{ID: "cont-1", TenantID: tenant, WarehouseID: "wh-1"})
	store.PutRecord(lpn("r1", "B1", 20, stock.StatusAvailable))

	line := demand()
	line.WarehouseID = ""
	line.ContainerDetailID = "cont-1"
	res, err := NewService(store, nil).ResolveLine(context.Background(), tenant, line)
	require.NoError(t, err)
	assert.Equal(t, "wh-1", res.WarehouseID)
	assert.InDelta(t, 20, res.AvailableQty, 0.0001)
}

func TestResolveNeverCrossesTenants(t *testing.T) {
	store := stock.NewMemoryStore()
	foreign := lpn("r1", "B1", 20, stock.StatusAvailable)
	foreign.TenantID = "tenant-2"
	store.PutRecord(foreign)

	res, err := NewService(store, nil).ResolveLine(context.Background(), tenant, demand())
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestOrderAvailabilityHandler(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutDemandLine(demand())
	store.PutRecord(lpn("r1", "B1", 20, stock.StatusAvailable))
	handler := NewHandler(nil, NewService(store, nil))

	router := chi.NewRouter()
	handler.MountRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/availability", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{TenantID: tenant, UserID: "u1"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available_qty":20`)

	req = httptest.NewRequest(http.MethodGet, "/orders/missing/availability", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{TenantID: tenant}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/order-1/availability", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func candidateIDs(res Result) []string {
	ids := make([]string, len(res.Candidates))
	for i, c := range res.Candidates {
		ids[i] = c.RecordID
	}
	return ids
}
