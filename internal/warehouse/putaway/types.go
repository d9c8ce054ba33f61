package putaway

import "github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"

// Item is one LPN placed into the warehouse.
type Item struct {
	StockAllocationID string  `json:"stock_allocation_id" validate:"required"`
	SKUID             string  `json:"sku_id" validate:"required"`
	LPNNumber         string  `json:"lpn_number" validate:"required"`
	Location          string  `json:"location" validate:"required"`
	WarehouseID       string  `json:"warehouse_id"`
	HUQty             float64 `json:"hu_qty" validate:"gt=0"`
}

// Request is a put-away batch for one container.
type Request struct {
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
	Items          []Item `json:"items" validate:"required,min=1,max=1000"`
}

// ItemResult reports one item in input order.
type ItemResult struct {
	Index     int                `json:"index"`
	LPNNumber string             `json:"lpn_number"`
	Success   bool               `json:"success"`
	Skipped   bool               `json:"skipped,omitempty"`
	Record    *stock.StockRecord `json:"record,omitempty"`
	Code      string             `json:"code,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Result of a put-away batch.
type Result struct {
	ContainerID     string                `json:"container_id"`
	Created         int                   `json:"created"`
	Skipped         int                   `json:"skipped"`
	Failed          int                   `json:"failed"`
	Items           []ItemResult          `json:"items"`
	Advanced        []string              `json:"advanced_allocations"`
	ContainerStatus stock.ContainerStatus `json:"container_status"`
}

// ReconcileResult of a standalone reconciliation run.
type ReconcileResult struct {
	ContainerID     string                `json:"container_id"`
	Checked         int                   `json:"checked"`
	Advanced        []string              `json:"advanced_allocations"`
	ContainerStatus stock.ContainerStatus `json:"container_status"`
}
