// Package availability resolves which stock can serve outbound demand lines.
// It never mutates anything.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// Commitment tells the caller whether a candidate can still be selected.
type Commitment string

const (
	CommitmentNone      Commitment = "none"
	CommitmentThisLine  Commitment = "this_line"
	CommitmentOtherLine Commitment = "other_line"
)

// Reasons attached to zero-availability results.
const (
	ReasonMissingSKU   = "missing_sku"
	ReasonMissingBatch = "missing_batch"
	ReasonNoScope      = "no_warehouse_or_container"
)

// Candidate is one matching LPN. Committed candidates are listed so the
// operator sees them disabled rather than missing.
type Candidate struct {
	RecordID    string           `json:"record_id"`
	LPNNumber   string           `json:"lpn_number"`
	Location    string           `json:"location"`
	HUQty       float64          `json:"hu_qty"`
	Status      stock.Status     `json:"allocation_status"`
	Commitment  Commitment       `json:"commitment"`
	CommittedTo *stock.DemandRef `json:"committed_to,omitempty"`
}

// Result is the availability of one demand line.
type Result struct {
	Line         stock.DemandRef `json:"line"`
	LineIndex    int             `json:"line_index"`
	SKUID        string          `json:"sku_id"`
	BatchNumber  string          `json:"batch_number"`
	WarehouseID  string          `json:"warehouse_id,omitempty"`
	RequiredQty  float64         `json:"required_qty"`
	AvailableQty float64         `json:"available_qty"`
	Candidates   []Candidate     `json:"candidates"`
	Reason       string          `json:"reason,omitempty"`
}

// Store is the subset of stock.Store the resolver reads.
type Store interface {
	ListRecords(ctx context.Context, filter stock.RecordFilter) ([]stock.StockRecord, error)
	ListDemandLines(ctx context.Context, tenantID, orderID string) ([]stock.DemandLine, error)
	GetContainer(ctx context.Context, tenantID, id string) (stock.Container, error)
}

// Service resolves availability.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds Service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Resolve returns one result per input line, in input order.
func (s *Service) Resolve(ctx context.Context, tenantID string, lines []stock.DemandLine) ([]Result, error) {
	results := make([]Result, 0, len(lines))
	for _, line := range lines {
		res, err := s.ResolveLine(ctx, tenantID, line)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ResolveOrder loads an order's demand lines and resolves them.
func (s *Service) ResolveOrder(ctx context.Context, tenantID, orderID string) ([]Result, error) {
	lines, err := s.store.ListDemandLines(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("availability: list demand lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, stock.ErrNotFound)
	}
	return s.Resolve(ctx, tenantID, lines)
}

// ResolveLine computes availability for a single demand line.
func (s *Service) ResolveLine(ctx context.Context, tenantID string, line stock.DemandLine) (Result, error) {
	res := Result{
		Line:        line.Ref(),
		LineIndex:   line.LineIndex,
		SKUID:       line.SKUID,
		BatchNumber: line.BatchNumber,
		RequiredQty: line.RemainingQty(),
		Candidates:  []Candidate{},
	}
	switch {
	case line.SKUID == "":
		res.Reason = ReasonMissingSKU
		return res, nil
	case line.BatchNumber == "":
		res.Reason = ReasonMissingBatch
		return res, nil
	}

	filter, err := s.scope(ctx, tenantID, line)
	if err != nil {
		return Result{}, err
	}
	if filter.WarehouseID == "" && filter.ContainerDetailID == "" {
		res.Reason = ReasonNoScope
		return res, nil
	}
	res.WarehouseID = filter.WarehouseID

	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("availability: list records: %w", err)
	}

	available := decimal.Zero
	for _, r := range records {
		if r.IsDeleted {
			continue
		}
		c := Candidate{
			RecordID:   r.ID,
			LPNNumber:  r.LPNNumber,
			Location:   r.Location,
			HUQty:      r.HUQty,
			Status:     r.Status,
			Commitment: CommitmentNone,
		}
		if r.Status == stock.StatusAvailable {
			available = available.Add(decimal.NewFromFloat(r.HUQty))
		} else if ref, ok := r.CommittedTo(); ok {
			c.CommittedTo = &ref
			c.Commitment = CommitmentOtherLine
			if ref.LineID == line.ID && ref.OrderID == line.OrderID {
				c.Commitment = CommitmentThisLine
			}
		}
		res.Candidates = append(res.Candidates, c)
	}
	res.AvailableQty = available.InexactFloat64()

	s.logger.DebugContext(ctx, "availability resolved",
		slog.String("tenant_id", tenantID),
		slog.String("line", line.Ref().String()),
		slog.Float64("available_qty", res.AvailableQty),
		slog.Int("candidates", len(res.Candidates)))
	return res, nil
}

// scope builds the record filter for line: its warehouse, else its
// container's warehouse, else the container itself.
func (s *Service) scope(ctx context.Context, tenantID string, line stock.DemandLine) (stock.RecordFilter, error) {
	filter := stock.RecordFilter{
		TenantID:    tenantID,
		SKUID:       line.SKUID,
		BatchNumber: line.BatchNumber,
		WarehouseID: line.WarehouseID,
	}
	if filter.WarehouseID != "" || line.ContainerDetailID == "" {
		return filter, nil
	}
	container, err := s.store.GetContainer(ctx, tenantID, line.ContainerDetailID)
	switch {
	case err == nil && container.WarehouseID != "":
		filter.WarehouseID = container.WarehouseID
	case err == nil || errors.Is(err, stock.ErrNotFound):
		filter.ContainerDetailID = line.ContainerDetailID
	default:
		return stock.RecordFilter{}, fmt.Errorf("availability: load container: %w", err)
	}
	return filter, nil
}
