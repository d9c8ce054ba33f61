package stock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex guarded Store used by tests and by STORE_DRIVER=memory.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	records     map[string]StockRecord
	lines       map[string]DemandLine
	pickups     []PickupRecord
	containers  map[string]Container
	allocations map[string]StockAllocation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		records:     make(map[string]StockRecord),
		lines:       make(map[string]DemandLine),
		containers:  make(map[string]Container),
		allocations: make(map[string]StockAllocation),
	}
}

func lineKey(tenantID string, ref DemandRef) string {
	return tenantID + "|" + ref.OrderID + "|" + ref.LineID
}

// PutRecord inserts or replaces a record as-is.
func (m *MemoryStore) PutRecord(r StockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

// PutDemandLine inserts or replaces a demand line.
func (m *MemoryStore) PutDemandLine(d DemandLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[lineKey(d.TenantID, d.Ref())] = d
}

// PutContainer inserts or replaces a container.
func (m *MemoryStore) PutContainer(c Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[c.ID] = c
}

// PutAllocation inserts or replaces a stock allocation.
func (m *MemoryStore) PutAllocation(a StockAllocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[a.ID] = a
}

// Pickups returns a copy of every pickup record.
func (m *MemoryStore) Pickups() []PickupRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PickupRecord, len(m.pickups))
	copy(out, m.pickups)
	return out
}

func (m *MemoryStore) ListRecords(_ context.Context, filter RecordFilter) ([]StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StockRecord
	for _, r := range m.records {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, tenantID, id string) (StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.TenantID != tenantID || r.IsDeleted {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) CreateRecord(_ context.Context, r StockRecord) (StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := m.records[r.ID]; exists {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", r.ID, ErrConflict)
	}
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	m.records[r.ID] = r
	return r, nil
}

func (m *MemoryStore) UpdateIfStatus(_ context.Context, tenantID, id string, expected Status, next Commitment) (StockRecord, error) {
	if err := next.Validate(); err != nil {
		return StockRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.TenantID != tenantID || r.IsDeleted {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	if r.Status != expected {
		return StockRecord{}, fmt.Errorf("stock record %s is %s, expected %s: %w", id, r.Status, expected, ErrConflict)
	}
	r.apply(next, m.now())
	m.records[id] = r
	return r, nil
}

func (m *MemoryStore) UpdateLocation(_ context.Context, tenantID, id, location string) (StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.TenantID != tenantID || r.IsDeleted {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	r.Location = location
	r.UpdatedAt = m.now()
	m.records[id] = r
	return r, nil
}

func (m *MemoryStore) GetDemandLine(_ context.Context, tenantID string, ref DemandRef) (DemandLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.lines[lineKey(tenantID, ref)]
	if !ok {
		return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) ListDemandLines(_ context.Context, tenantID, orderID string) ([]DemandLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DemandLine
	for _, d := range m.lines {
		if d.TenantID == tenantID && d.OrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out, nil
}

func (m *MemoryStore) AdjustDemandLine(_ context.Context, tenantID string, ref DemandRef, allocatedDelta, pickedDelta float64) (DemandLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lineKey(tenantID, ref)
	d, ok := m.lines[key]
	if !ok {
		return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
	}
	d.AllocatedQty = clampZero(d.AllocatedQty + allocatedDelta)
	d.PickedQty = clampZero(d.PickedQty + pickedDelta)
	m.lines[key] = d
	return d, nil
}

func (m *MemoryStore) FindPickup(_ context.Context, tenantID string, ref DemandRef, stockRecordID string) (PickupRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pickups {
		if p.TenantID == tenantID && p.OutboundProductLineID == ref.LineID &&
			p.StockRecordID == stockRecordID && p.Status == PickupCompleted {
			return p, true, nil
		}
	}
	return PickupRecord{}, false, nil
}

func (m *MemoryStore) CreatePickup(_ context.Context, p PickupRecord) (PickupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	m.pickups = append(m.pickups, p)
	return p, nil
}

func (m *MemoryStore) GetContainer(_ context.Context, tenantID, id string) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok || c.TenantID != tenantID {
		return Container{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *MemoryStore) UpdateContainerStatus(_ context.Context, tenantID, id string, status ContainerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok || c.TenantID != tenantID {
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	c.Status = status
	m.containers[id] = c
	return nil
}

func (m *MemoryStore) GetAllocation(_ context.Context, tenantID, id string) (StockAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok || a.TenantID != tenantID {
		return StockAllocation{}, fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) ListAllocations(_ context.Context, tenantID, containerID string, kind AllocationKind) ([]StockAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StockAllocation
	for _, a := range m.allocations {
		if a.TenantID != tenantID || a.ContainerDetailID != containerID {
			continue
		}
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateAllocationStage(_ context.Context, tenantID, id string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok || a.TenantID != tenantID {
		return fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
	}
	a.Stage = stage
	m.allocations[id] = a
	return nil
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
