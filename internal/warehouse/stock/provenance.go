package stock

import "time"

// ProvenanceKind tags which batch source a stock record came from.
type ProvenanceKind string

const (
	ProvenanceInboundLine         ProvenanceKind = "inbound_product_line"
	ProvenanceContainerAllocation ProvenanceKind = "container_stock_allocation"
)

// Origin carries the order/booking identifiers a batch source was received under.
type Origin struct {
	OrderCode         string `json:"order_code,omitempty"`
	CustomerReference string `json:"customer_reference,omitempty"`
	CustomerName      string `json:"customer_name,omitempty"`
	ContainerNumber   string `json:"container_number,omitempty"`
}

// InboundProductLine is a received line on an inbound order.
type InboundProductLine struct {
	ID                 string     `json:"id"`
	InboundInventoryID string     `json:"inbound_inventory_id"`
	SKUID              string     `json:"sku_id"`
	BatchNumber        string     `json:"batch_number,omitempty"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
	Attribute1         string     `json:"attribute1,omitempty"`
	Attribute2         string     `json:"attribute2,omitempty"`
	ReceivedQty        float64    `json:"recieved_qty"`
	Origin             Origin     `json:"origin"`
}

// Provenance is a two-case union: exactly one of InboundLine or Allocation is
// set, matching Kind.
type Provenance struct {
	Kind        ProvenanceKind      `json:"kind"`
	InboundLine *InboundProductLine `json:"inbound_product_line,omitempty"`
	Allocation  *StockAllocation    `json:"container_stock_allocation,omitempty"`
}

// FromInboundLine builds an inbound-line provenance.
func FromInboundLine(line InboundProductLine) Provenance {
	return Provenance{Kind: ProvenanceInboundLine, InboundLine: &line}
}

// FromAllocation builds a container-allocation provenance.
func FromAllocation(alloc StockAllocation) Provenance {
	return Provenance{Kind: ProvenanceContainerAllocation, Allocation: &alloc}
}

// SourceID is the id of the referenced inbound line or allocation.
func (p Provenance) SourceID() string {
	switch {
	case p.InboundLine != nil:
		return p.InboundLine.ID
	case p.Allocation != nil:
		return p.Allocation.ID
	default:
		return ""
	}
}

// BatchInfo is the normalised view of either provenance shape.
type BatchInfo struct {
	// Resolved is false when the record has no provenance or the allocation
	// has no product line for the SKU.
	Resolved    bool
	BatchNumber string
	ExpiryDate  *time.Time
	Attribute1  string
	Attribute2  string
	ReceivedQty float64
	// ReceivedKey identifies the unit received quantity is counted once per.
	ReceivedKey string
	Origin      Origin
}

// Resolve normalises the provenance for skuID. The inbound line wins when
// both are somehow set.
func (p Provenance) Resolve(skuID string) BatchInfo {
	if line := p.InboundLine; line != nil {
		return BatchInfo{
			Resolved:    true,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
			Attribute1:  line.Attribute1,
			Attribute2:  line.Attribute2,
			ReceivedQty: line.ReceivedQty,
			ReceivedKey: "inbound:" + line.ID,
			Origin:      line.Origin,
		}
	}
	if alloc := p.Allocation; alloc != nil {
		line, ok := alloc.LineForSKU(skuID)
		if !ok {
			return BatchInfo{Origin: alloc.Origin}
		}
		return BatchInfo{
			Resolved:    true,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
			Attribute1:  line.Attribute1,
			Attribute2:  line.Attribute2,
			ReceivedQty: line.ReceivedQty,
			// An allocation may carry several SKUs; each SKU's receipt is
			// counted once.
			ReceivedKey: "allocation:" + alloc.ID + ":" + skuID,
			Origin:      alloc.Origin,
		}
	}
	return BatchInfo{}
}
