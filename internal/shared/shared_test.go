package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
)

func TestActorContextRoundTrip(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithActor(context.Background(), Actor{TenantID: "t1", UserID: "u1"})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "u1", actor.UserID)

	_, ok = ActorFromContext(ContextWithActor(context.Background(), Actor{UserID: "u1"}))
	require.False(t, ok, "an actor without tenant is not usable")
}

func TestValidateStructNamesJSONFields(t *testing.T) {
	type item struct {
		SKUID string  `json:"sku_id" validate:"required"`
		Qty   float64 `json:"hu_qty" validate:"gt=0"`
	}
	err := ValidateStruct(item{Qty: -1})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.ErrorContains(t, err, "sku_id failed required")
	require.ErrorContains(t, err, "hu_qty failed gt")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "validation", verr.ErrorCode())

	require.NoError(t, ValidateStruct(item{SKUID: "s", Qty: 1}))
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotency()
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "putaway"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "putaway"), ErrIdempotencyConflict)
	require.Error(t, store.CheckAndInsert(ctx, "", "putaway"))

	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "putaway"))
}

func TestMemoryAuditLog(t *testing.T) {
	var log MemoryAuditLog
	require.Error(t, log.Record(context.Background(), AuditLog{Action: "allocate"}))
	require.NoError(t, log.Record(context.Background(), AuditLog{Action: "allocate", Entity: "demand_line", EntityID: "l1"}))
	entries := log.Entries()
	require.Len(t, entries, 1)
	require.False(t, entries[0].At.IsZero())
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "warehouse:alloc:t1:sku:B1:lock", AllocationLockKey("t1", "sku", "B1"))
	require.Equal(t, "warehouse:summary:t1:version", SummaryVersionKey("t1"))
}
