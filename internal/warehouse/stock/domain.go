// Package stock holds the warehouse stock record model and the store port the
// allocation, availability, put-away and aggregation engines share.
package stock

import (
	"fmt"
	"time"
)

// Status is the allocation status of a stock record (one LPN).
type Status string

const (
	StatusAvailable  Status = "available"
	StatusReserved   Status = "reserved"
	StatusAllocated  Status = "allocated"
	StatusPicked     Status = "picked"
	StatusDispatched Status = "dispatched"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusAllocated, StatusPicked, StatusDispatched:
		return true
	default:
		return false
	}
}

// SKURef identifies a product. Code and Description are only populated when the
// store expands the SKU.
type SKURef struct {
	ID          string `json:"id"`
	Code        string `json:"sku_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// StockRecord is one physical unit-load identified by its LPN.
type StockRecord struct {
	ID                    string     `json:"id"`
	TenantID              string     `json:"tenant_id"`
	LPNNumber             string     `json:"lpn_number"`
	SKU                   SKURef     `json:"sku"`
	Provenance            Provenance `json:"provenance"`
	ContainerDetailID     string     `json:"container_detail_id,omitempty"`
	WarehouseID           string     `json:"warehouse_id,omitempty"`
	Location              string     `json:"location"`
	HUQty                 float64    `json:"hu_qty"`
	Status                Status     `json:"allocation_status"`
	OutboundInventoryID   string     `json:"outbound_inventory_id,omitempty"`
	OutboundProductLineID string     `json:"outbound_product_line_id,omitempty"`
	AllocatedAt           *time.Time `json:"allocated_at,omitempty"`
	AllocatedBy           string     `json:"allocated_by,omitempty"`
	IsDeleted             bool       `json:"is_deleted"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Batch resolves the record's batch attributes through its provenance.
func (r StockRecord) Batch() BatchInfo {
	return r.Provenance.Resolve(r.SKU.ID)
}

// CommittedTo returns the demand line the record is tied to, if any.
func (r StockRecord) CommittedTo() (DemandRef, bool) {
	if r.OutboundProductLineID == "" {
		return DemandRef{}, false
	}
	return DemandRef{OrderID: r.OutboundInventoryID, LineID: r.OutboundProductLineID}, true
}

// Commitment is the set of fields that move together on a status transition.
type Commitment struct {
	Status                Status
	OutboundInventoryID   string
	OutboundProductLineID string
	AllocatedAt           *time.Time
	AllocatedBy           string
}

// Release returns a commitment that puts the record back into available stock.
func Release() Commitment {
	return Commitment{Status: StatusAvailable}
}

// Validate enforces that available records carry no demand line and every
// other status carries one.
func (c Commitment) Validate() error {
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, c.Status)
	}
	if c.Status == StatusAvailable && c.OutboundProductLineID != "" {
		return fmt.Errorf("%w: available stock cannot reference a demand line", ErrValidation)
	}
	if c.Status != StatusAvailable && c.OutboundProductLineID == "" {
		return fmt.Errorf("%w: %s stock must reference a demand line", ErrValidation, c.Status)
	}
	return nil
}

// CommitmentOf extracts the commitment fields of r.
func CommitmentOf(r StockRecord) Commitment {
	return Commitment{
		Status:                r.Status,
		OutboundInventoryID:   r.OutboundInventoryID,
		OutboundProductLineID: r.OutboundProductLineID,
		AllocatedAt:           r.AllocatedAt,
		AllocatedBy:           r.AllocatedBy,
	}
}

func (r *StockRecord) apply(c Commitment, now time.Time) {
	r.Status = c.Status
	r.OutboundInventoryID = c.OutboundInventoryID
	r.OutboundProductLineID = c.OutboundProductLineID
	r.AllocatedAt = c.AllocatedAt
	r.AllocatedBy = c.AllocatedBy
	r.UpdatedAt = now
}

// DemandRef identifies one outbound/export product line.
type DemandRef struct {
	OrderID string `json:"order_id" validate:"required"`
	LineID  string `json:"line_id" validate:"required"`
}

func (d DemandRef) String() string {
	return d.OrderID + "/" + d.LineID
}

// DemandLine is an outbound or export product line requiring stock.
type DemandLine struct {
	ID                string  `json:"id"`
	TenantID          string  `json:"tenant_id"`
	OrderID           string  `json:"order_id"`
	LineIndex         int     `json:"line_index"`
	SKUID             string  `json:"sku_id"`
	BatchNumber       string  `json:"batch_number"`
	WarehouseID       string  `json:"warehouse_id,omitempty"`
	ContainerDetailID string  `json:"container_detail_id,omitempty"`
	ExpectedQty       float64 `json:"expected_qty"`
	AllocatedQty      float64 `json:"allocated_qty"`
	PickedQty         float64 `json:"picked_qty"`
}

// Ref returns the line's reference.
func (d DemandLine) Ref() DemandRef {
	return DemandRef{OrderID: d.OrderID, LineID: d.ID}
}

// RemainingQty is the still outstanding demand, never negative.
func (d DemandLine) RemainingQty() float64 {
	if rem := d.ExpectedQty - d.AllocatedQty; rem > 0 {
		return rem
	}
	return 0
}

// AllocationKind separates import (receival) and export (outbound) allocations.
type AllocationKind string

const (
	AllocationImport AllocationKind = "import"
	AllocationExport AllocationKind = "export"
)

// Stage of a container stock allocation.
type Stage string

const (
	StageExpected   Stage = "expected"
	StageReceived   Stage = "received"
	StagePutAway    Stage = "put_away"
	StageAllocated  Stage = "allocated"
	StagePicked     Stage = "picked"
	StageDispatched Stage = "dispatched"
)

// ProductLine is one SKU line inside a container stock allocation.
type ProductLine struct {
	SKUID        string     `json:"sku_id"`
	BatchNumber  string     `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	Attribute1   string     `json:"attribute1,omitempty"`
	Attribute2   string     `json:"attribute2,omitempty"`
	ExpectedQty  float64    `json:"expected_qty"`
	ReceivedQty  float64    `json:"recieved_qty"`
	AllocatedQty float64    `json:"allocated_qty"`
	PickedQty    float64    `json:"picked_qty"`
}

// StockAllocation groups the product lines of one container booking.
type StockAllocation struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	ContainerDetailID string         `json:"container_detail_id"`
	Kind              AllocationKind `json:"kind"`
	Stage             Stage          `json:"stage"`
	ProductLines      []ProductLine  `json:"product_lines"`
	Origin            Origin         `json:"origin"`
}

// LineForSKU returns the first product line for skuID.
func (a StockAllocation) LineForSKU(skuID string) (ProductLine, bool) {
	for _, line := range a.ProductLines {
		if line.SKUID == skuID {
			return line, true
		}
	}
	return ProductLine{}, false
}

// ContainerStatus is the coarse container progress flag.
type ContainerStatus string

const (
	ContainerExpected ContainerStatus = "expected"
	ContainerReceived ContainerStatus = "received"
	ContainerPutAway  ContainerStatus = "put_away"
)

// Container is a container detail on a booking.
type Container struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	BookingID       string          `json:"booking_id"`
	ContainerNumber string          `json:"container_number"`
	WarehouseID     string          `json:"warehouse_id,omitempty"`
	Status          ContainerStatus `json:"status"`
}

// PickupStatus of a pickup record.
type PickupStatus string

const PickupCompleted PickupStatus = "completed"

// PickupRecord captures one LPN physically picked for a demand line.
type PickupRecord struct {
	ID                    string       `json:"id"`
	TenantID              string       `json:"tenant_id"`
	OutboundInventoryID   string       `json:"outbound_inventory_id"`
	OutboundProductLineID string       `json:"outbound_product_line_id"`
	StockRecordID         string       `json:"stock_record_id"`
	LPNNumber             string       `json:"lpn_number"`
	HUQty                 float64      `json:"hu_qty"`
	Location              string       `json:"location"`
	PickedBy              string       `json:"picked_by"`
	Status                PickupStatus `json:"status"`
	CreatedAt             time.Time    `json:"created_at"`
}
