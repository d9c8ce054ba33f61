package aggregation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/cache"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/allocation"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/availability"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

const tenant = "tenant-1"

var inbound = stock.InboundProductLine{
	ID:          "in-1",
	SKUID:       "sku-A",
	BatchNumber: "B1",
	ReceivedQty: 100,
	Attribute1:  "chilled",
	Origin:      stock.Origin{OrderCode: "IN-100", CustomerReference: "PO-9", CustomerName: "Acme"},
}

func record(id string, qty float64, status stock.Status) stock.StockRecord {
	r := stock.StockRecord{
		ID:          id,
		TenantID:    tenant,
		LPNNumber:   "LPN-" + id,
		SKU:         stock.SKURef{ID: "sku-A", Code: "A-001"},
		Provenance:  stock.FromInboundLine(inbound),
		WarehouseID: "wh-1",
		Location:    "A-" + id,
		HUQty:       qty,
		Status:      status,
	}
	if status != stock.StatusAvailable {
		r.OutboundInventoryID, r.OutboundProductLineID = "order-1", "line-1"
	}
	return r
}

func TestAggregateBucketsAndReceivedOnce(t *testing.T) {
	items := Aggregate([]stock.StockRecord{
		record("r1", 10, stock.StatusAvailable),
		record("r2", 20, stock.StatusAllocated),
		record("r3", 30, stock.StatusPicked),
		record("r4", 15, stock.StatusDispatched),
		record("r5", 5, stock.StatusReserved),
	})
	require.Len(t, items, 1)
	it := items[KeyFor("sku-A", "B1")]
	require.NotNil(t, it)

	assert.Equal(t, Key("sku-A_B1"), it.Key)
	assert.InDelta(t, 10, it.QtyAvailable, 0.0001)
	assert.InDelta(t, 20, it.QtyAllocated, 0.0001)
	assert.InDelta(t, 30, it.QtyPicked, 0.0001)
	assert.InDelta(t, 15, it.QtyDispatched, 0.0001)
	assert.InDelta(t, 5, it.QtyHold, 0.0001)
	assert.InDelta(t, 80, it.Total(), 0.0001)
	assert.InDelta(t, 100, it.QtyReceived, 0.0001, "received counted once per product line")
	assert.Equal(t, 5, it.LPNCount)
	assert.ElementsMatch(t, []string{"available", "allocated", "picked", "dispatched", "reserved"}, it.Statuses)
	assert.Equal(t, []string{"IN-100"}, it.OrderCodes)
	assert.Equal(t, []string{"PO-9"}, it.CustomerReferences)
	assert.Equal(t, "Acme", it.CustomerName)
	assert.Equal(t, "chilled", it.Attribute1)
	assert.Equal(t, "A-001", it.SKUCode)
}

func TestAggregateCountsEachAllocationSKUOnce(t *testing.T) {
	alloc := stock.StockAllocation{
		ID: "alloc-1",
		ProductLines: []stock.ProductLine{
			{SKUID: "sku-A", BatchNumber: "B1", ReceivedQty: 40},
			{SKUID: "sku-B", BatchNumber: "B2", ReceivedQty: 25},
		},
		Origin: stock.Origin{ContainerNumber: "MSCU1234567"},
	}
	mk := func(id, sku string, qty float64) stock.StockRecord {
		return stock.StockRecord{ID: id, TenantID: tenant, SKU: stock.SKURef{ID: sku}, Provenance: stock.FromAllocation(alloc), HUQty: qty, Status: stock.StatusAvailable}
	}
	items := Aggregate([]stock.StockRecord{
		mk("r1", "sku-A", 20), mk("r2", "sku-A", 20), mk("r3", "sku-B", 25),
		record("r4", 100, stock.StatusAvailable),
	})
	require.Len(t, items, 2)

	a := items[KeyFor("sku-A", "B1")]
	assert.InDelta(t, 140, a.QtyReceived, 0.0001)
	assert.InDelta(t, 140, a.QtyAvailable, 0.0001)
	assert.Equal(t, []string{"MSCU1234567"}, a.ContainerNumbers)

	b := items[KeyFor("sku-B", "B2")]
	assert.InDelta(t, 25, b.QtyReceived, 0.0001)
}

func TestAggregateSkipsDeletedAndBucketsMissingBatch(t *testing.T) {
	deleted := record("r1", 50, stock.StatusAvailable)
	deleted.IsDeleted = true
	orphan := stock.StockRecord{ID: "r2", TenantID: tenant, SKU: stock.SKURef{ID: "sku-A"}, HUQty: 3, Status: stock.StatusAvailable}

	items := Aggregate([]stock.StockRecord{deleted, orphan})
	require.Len(t, items, 1)
	it := items[Key("sku-A_null")]
	require.NotNil(t, it)
	assert.InDelta(t, 3, it.QtyAvailable, 0.0001)
	assert.InDelta(t, 0, it.QtyReceived, 0.0001)
	assert.Empty(t, it.BatchNumbers)
	assert.Empty(t, it.LPNNumbers)
}

func TestAggregateFirstScalarWins(t *testing.T) {
	first := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2028, 3, 1, 0, 0, 0, 0, time.UTC)
	a := inbound
	a.ID, a.ExpiryDate, a.Attribute2 = "in-a", &first, ""
	b := inbound
	b.ID, b.ExpiryDate, b.Attribute1, b.Attribute2 = "in-b", &later, "frozen", "pallet"
	b.Origin.CustomerName = "Other"

	r1 := record("r1", 1, stock.StatusAvailable)
	r1.Provenance = stock.FromInboundLine(a)
	r2 := record("r2", 1, stock.StatusAvailable)
	r2.Provenance = stock.FromInboundLine(b)

	it := Aggregate([]stock.StockRecord{r1, r2})[KeyFor("sku-A", "B1")]
	require.NotNil(t, it)
	assert.True(t, first.Equal(*it.ExpiryDate))
	assert.Equal(t, "chilled", it.Attribute1)
	assert.Equal(t, "pallet", it.Attribute2)
	assert.Equal(t, "Acme", it.CustomerName)
	assert.InDelta(t, 200, it.QtyReceived, 0.0001)
}

func TestAggregateCallsDoNotShareState(t *testing.T) {
	records := []stock.StockRecord{record("r1", 10, stock.StatusAvailable), record("r2", 10, stock.StatusAvailable)}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := Aggregate(records)[KeyFor("sku-A", "B1")]
			assert.InDelta(t, 100, it.QtyReceived, 0.0001)
		}()
	}
	wg.Wait()
}

func TestConservationAcrossAllocationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := stock.NewMemoryStore()
	for id, qty := range map[string]float64{"r1": 30, "r2": 30, "r3": 40} {
		store.PutRecord(record(id, qty, stock.StatusAvailable))
	}
	for _, id := range []string{"line-1", "line-2"} {
		store.PutDemandLine(stock.DemandLine{ID: id, TenantID: tenant, OrderID: "order-1", SKUID: "sku-A", BatchNumber: "B1", WarehouseID: "wh-1", ExpectedQty: 50})
	}
	actor := shared.Actor{TenantID: tenant, UserID: "u1"}
	svc := allocation.NewService(store, availability.NewService(store, nil), allocation.Config{}, allocation.Deps{})
	line1 := stock.DemandRef{OrderID: "order-1", LineID: "line-1"}
	line2 := stock.DemandRef{OrderID: "order-1", LineID: "line-2"}

	check := func(step string) {
		t.Helper()
		records, err := store.ListRecords(ctx, stock.RecordFilter{TenantID: tenant})
		require.NoError(t, err)
		it := Aggregate(records)[KeyFor("sku-A", "B1")]
		require.NotNil(t, it, step)
		assert.LessOrEqual(t, it.Total(), it.QtyReceived, step)
		assert.InDelta(t, 100, it.Total(), 0.0001, step)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"auto allocate", func() error {
			_, err := svc.Allocate(ctx, actor, allocation.Request{Demand: line1, Quantity: 50})
			return err
		}},
		{"manual allocate", func() error {
			_, err := svc.Allocate(ctx, actor, allocation.Request{Demand: line2, LPNIDs: []string{"r1", "r3"}})
			return err
		}},
		{"pick", func() error {
			_, err := svc.Transition(ctx, actor, allocation.StatusChange{RecordID: "r1", To: stock.StatusPicked})
			return err
		}},
		{"unpick", func() error {
			_, err := svc.Transition(ctx, actor, allocation.StatusChange{RecordID: "r1", To: stock.StatusAllocated})
			return err
		}},
		{"release", func() error {
			_, err := svc.Transition(ctx, actor, allocation.StatusChange{RecordID: "r2", To: stock.StatusAvailable})
			return err
		}},
		{"reallocate", func() error {
			_, err := svc.Allocate(ctx, actor, allocation.Request{Demand: line2, LPNIDs: []string{"r2", "r3"}})
			return err
		}},
		{"pick and dispatch", func() error {
			if _, err := svc.Transition(ctx, actor, allocation.StatusChange{RecordID: "r2", To: stock.StatusPicked}); err != nil {
				return err
			}
			_, err := svc.DispatchOrder(ctx, actor, "order-1")
			return err
		}},
	}
	check("initial")
	for _, step := range steps {
		require.NoError(t, step.run(), step.name)
		check(step.name)
	}
}

func TestSummaryCachesPerTenantVersion(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := stock.NewMemoryStore()
	store.PutRecord(record("r1", 10, stock.StatusAvailable))
	other := record("r9", 99, stock.StatusAvailable)
	other.TenantID = "tenant-2"
	store.PutRecord(other)

	svc := NewService(store, cache.NewVersioned(client, time.Minute, shared.SummaryVersionKey), nil, nil)

	first, err := svc.Summary(ctx, tenant, Filter{})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.InDelta(t, 10, first.Items[0].QtyAvailable, 0.0001)

	store.PutRecord(record("r2", 5, stock.StatusAvailable))
	cached, err := svc.Summary(ctx, tenant, Filter{})
	require.NoError(t, err)
	assert.InDelta(t, 10, cached.Items[0].QtyAvailable, 0.0001, "served from cache")

	require.NoError(t, svc.Invalidate(ctx, tenant))
	fresh, err := svc.Summary(ctx, tenant, Filter{})
	require.NoError(t, err)
	assert.InDelta(t, 15, fresh.Items[0].QtyAvailable, 0.0001)

	theirs, err := svc.Summary(ctx, "tenant-2", Filter{})
	require.NoError(t, err)
	require.Len(t, theirs.Items, 1)
	assert.InDelta(t, 99, theirs.Items[0].QtyAvailable, 0.0001)
}

func TestSummaryWithoutRedis(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutRecord(record("r1", 10, stock.StatusAvailable))
	svc := NewService(store, nil, nil, nil)

	out, err := svc.Summary(context.Background(), tenant, Filter{SKUID: "sku-A"})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	require.NoError(t, svc.Invalidate(context.Background(), tenant))
}

func TestSummaryHandler(t *testing.T) {
	store := stock.NewMemoryStore()
	store.PutRecord(record("r1", 10, stock.StatusAvailable))
	router := chi.NewRouter()
	NewHandler(nil, NewService(store, nil, nil, nil)).MountRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/stock/summary?sku_id=sku-A", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{TenantID: tenant}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"sku-A_B1"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock/summary", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
