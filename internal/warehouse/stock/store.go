package stock

import "context"

// RecordFilter narrows ListRecords. Empty fields do not filter.
type RecordFilter struct {
	TenantID              string
	IDs                   []string
	SKUID                 string
	BatchNumber           string
	WarehouseID           string
	ContainerDetailID     string
	StockAllocationID     string
	OutboundInventoryID   string
	OutboundProductLineID string
	Statuses              []Status
	IncludeDeleted        bool
}

// Store is the persistence port for stock records and the entities the
// warehouse engines read alongside them. Every method is tenant scoped; an
// entity that exists under another tenant is reported as ErrNotFound.
type Store interface {
	ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, error)
	GetRecord(ctx context.Context, tenantID, id string) (StockRecord, error)
	CreateRecord(ctx context.Context, record StockRecord) (StockRecord, error)
	// UpdateIfStatus applies next only while the record still has the
	// expected status, otherwise it returns ErrConflict.
	UpdateIfStatus(ctx context.Context, tenantID, id string, expected Status, next Commitment) (StockRecord, error)
	UpdateLocation(ctx context.Context, tenantID, id, location string) (StockRecord, error)

	GetDemandLine(ctx context.Context, tenantID string, ref DemandRef) (DemandLine, error)
	ListDemandLines(ctx context.Context, tenantID, orderID string) ([]DemandLine, error)
	// AdjustDemandLine adds the deltas to the line counters, clamping at zero.
	AdjustDemandLine(ctx context.Context, tenantID string, ref DemandRef, allocatedDelta, pickedDelta float64) (DemandLine, error)

	FindPickup(ctx context.Context, tenantID string, ref DemandRef, stockRecordID string) (PickupRecord, bool, error)
	CreatePickup(ctx context.Context, pickup PickupRecord) (PickupRecord, error)

	GetContainer(ctx context.Context, tenantID, id string) (Container, error)
	UpdateContainerStatus(ctx context.Context, tenantID, id string, status ContainerStatus) error
	GetAllocation(ctx context.Context, tenantID, id string) (StockAllocation, error)
	ListAllocations(ctx context.Context, tenantID, containerID string, kind AllocationKind) ([]StockAllocation, error)
	UpdateAllocationStage(ctx context.Context, tenantID, id string, stage Stage) error
}

func (f RecordFilter) matches(r StockRecord) bool {
	if r.TenantID != f.TenantID {
		return false
	}
	if r.IsDeleted && !f.IncludeDeleted {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, r.ID) {
		return false
	}
	if f.SKUID != "" && r.SKU.ID != f.SKUID {
		return false
	}
	if f.BatchNumber != "" && r.Batch().BatchNumber != f.BatchNumber {
		return false
	}
	if f.WarehouseID != "" && r.WarehouseID != f.WarehouseID {
		return false
	}
	if f.ContainerDetailID != "" && r.ContainerDetailID != f.ContainerDetailID {
		return false
	}
	if f.StockAllocationID != "" {
		if r.Provenance.Allocation == nil || r.Provenance.Allocation.ID != f.StockAllocationID {
			return false
		}
	}
	if f.OutboundInventoryID != "" && r.OutboundInventoryID != f.OutboundInventoryID {
		return false
	}
	if f.OutboundProductLineID != "" && r.OutboundProductLineID != f.OutboundProductLineID {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, r.Status) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
