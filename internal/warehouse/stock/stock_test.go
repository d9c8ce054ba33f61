package stock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvenanceResolveInboundLine(t *testing.T) {
	expiry := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	p := FromInboundLine(InboundProductLine{
		ID:          "line-1",
		SKUID:       "sku-1",
		BatchNumber: "B1",
		ExpiryDate:  &expiry,
		Attribute1:  "red",
		ReceivedQty: 120,
		Origin:      Origin{OrderCode: "IN-001", CustomerName: "Acme"},
	})

	info := p.Resolve("sku-1")
	require.True(t, info.Resolved)
	assert.Equal(t, "B1", info.BatchNumber)
	assert.Equal(t, &expiry, info.ExpiryDate)
	assert.Equal(t, "red", info.Attribute1)
	assert.InDelta(t, 120, info.ReceivedQty, 0.0001)
	assert.Equal(t, "inbound:line-1", info.ReceivedKey)
	assert.Equal(t, "IN-001", info.Origin.OrderCode)
}

func TestProvenanceResolveAllocationBySKU(t *testing.T) {
	p := FromAllocation(StockAllocation{
		ID: "alloc-1",
		ProductLines: []ProductLine{
			{SKUID: "sku-1", BatchNumber: "B1", ReceivedQty: 10},
			{SKUID: "sku-2", BatchNumber: "B2", ReceivedQty: 20},
		},
		Origin: Origin{ContainerNumber: "MSCU1234567"},
	})

	info := p.Resolve("sku-2")
	require.True(t, info.Resolved)
	assert.Equal(t, "B2", info.BatchNumber)
	assert.InDelta(t, 20, info.ReceivedQty, 0.0001)
	assert.Equal(t, "allocation:alloc-1:sku-2", info.ReceivedKey)
	assert.Equal(t, "MSCU1234567", info.Origin.ContainerNumber)

	missing := p.Resolve("sku-9")
	assert.False(t, missing.Resolved)
	assert.Empty(t, missing.BatchNumber)

	assert.False(t, Provenance{}.Resolve("sku-1").Resolved)
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusAvailable, StatusAllocated},
		{StatusAllocated, StatusPicked},
		{StatusAllocated, StatusAvailable},
		{StatusPicked, StatusAvailable},
		{StatusPicked, StatusAllocated},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	rejected := [][2]Status{
		{StatusAvailable, StatusPicked},
		{StatusAvailable, StatusDispatched},
		{StatusPicked, StatusDispatched},
		{StatusDispatched, StatusAvailable},
		{StatusReserved, StatusAllocated},
		{StatusAllocated, StatusAllocated},
	}
	for _, pair := range rejected {
		err := CheckTransition(pair[0], pair[1])
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, pair[0], invalid.From)
		assert.Equal(t, pair[1], invalid.To)
		assert.Equal(t, "invalid_transition", ErrorCode(err))
	}
}

func TestCommitmentValidate(t *testing.T) {
	require.NoError(t, Release().Validate())
	require.NoError(t, Commitment{Status: StatusAllocated, OutboundProductLineID: "l1"}.Validate())
	require.ErrorIs(t, Commitment{Status: StatusAllocated}.Validate(), ErrValidation)
	require.ErrorIs(t, Commitment{Status: StatusAvailable, OutboundProductLineID: "l1"}.Validate(), ErrValidation)
	require.ErrorIs(t, Commitment{Status: "lost"}.Validate(), ErrValidation)
}

func seedRecord(id, tenant string) StockRecord {
	return StockRecord{
		ID:         id,
		TenantID:   tenant,
		LPNNumber:  "LPN-" + id,
		SKU:        SKURef{ID: "sku-1"},
		Provenance: FromInboundLine(InboundProductLine{ID: "line-1", SKUID: "sku-1", BatchNumber: "B1"}),
		HUQty:      10,
		Status:     StatusAvailable,
	}
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutRecord(seedRecord("r1", "tenant-a"))

	_, err := store.GetRecord(ctx, "tenant-b", "r1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpdateIfStatus(ctx, "tenant-b", "r1", StatusAvailable,
		Commitment{Status: StatusAllocated, OutboundProductLineID: "l1"})
	require.ErrorIs(t, err, ErrNotFound)

	records, err := store.ListRecords(ctx, RecordFilter{TenantID: "tenant-b"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryStoreListFiltersBatchAndDeleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutRecord(seedRecord("r1", "t"))
	deleted := seedRecord("r2", "t")
	deleted.IsDeleted = true
	store.PutRecord(deleted)
	other := seedRecord("r3", "t")
	other.Provenance = FromInboundLine(InboundProductLine{ID: "line-2", SKUID: "sku-1", BatchNumber: "B2"})
	store.PutRecord(other)

	records, err := store.ListRecords(ctx, RecordFilter{TenantID: "t", SKUID: "sku-1", BatchNumber: "B1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)

	records, err = store.ListRecords(ctx, RecordFilter{TenantID: "t", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestMemoryStoreUpdateIfStatusSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutRecord(seedRecord("r1", "t"))

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateIfStatus(ctx, "t", "r1", StatusAvailable, Commitment{
				Status:                StatusAllocated,
				OutboundInventoryID:   "order-1",
				OutboundProductLineID: "line-" + string(rune('a'+i)),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}

func TestMemoryStoreAdjustDemandLineClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutDemandLine(DemandLine{ID: "l1", TenantID: "t", OrderID: "o1", ExpectedQty: 50, AllocatedQty: 10})

	line, err := store.AdjustDemandLine(ctx, "t", DemandRef{OrderID: "o1", LineID: "l1"}, -30, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0, line.AllocatedQty, 0.0001)
	assert.InDelta(t, 5, line.PickedQty, 0.0001)
	assert.InDelta(t, 50, line.RemainingQty(), 0.0001)
}

func TestPGStoreMalformedIDsAnswerBeforeQuerying(t *testing.T) {
	// A zero PGStore has no pool; any query would panic.
	s := &PGStore{}
	ctx := context.Background()
	tenant := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	valid := "0f8fad5b-d9cb-469f-a165-70867728950e"

	_, err := s.GetDemandLine(ctx, tenant, DemandRef{OrderID: "x", LineID: "y"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.AdjustDemandLine(ctx, tenant, DemandRef{OrderID: valid, LineID: "y"}, 1, 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateLocation(ctx, tenant, "lpn-1", "A-01")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetContainer(ctx, "not-a-tenant", valid)
	require.ErrorIs(t, err, ErrNotFound)

	lines, err := s.ListDemandLines(ctx, tenant, "order-1")
	require.NoError(t, err)
	assert.Empty(t, lines)

	records, err := s.ListRecords(ctx, RecordFilter{TenantID: tenant, SKUID: "sku-1"})
	require.NoError(t, err)
	assert.Empty(t, records)

	_, found, err := s.FindPickup(ctx, tenant, DemandRef{OrderID: valid, LineID: valid}, "lpn-1")
	require.NoError(t, err)
	assert.False(t, found)
}
