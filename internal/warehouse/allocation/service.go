// Package allocation commits warehouse stock to outbound demand lines and
// drives the per-LPN status machine.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-freight/odyssey-freight/internal/observability"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/lock"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/availability"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// Store is the subset of stock.Store the engine uses.
type Store interface {
	ListRecords(ctx context.Context, filter stock.RecordFilter) ([]stock.StockRecord, error)
	GetRecord(ctx context.Context, tenantID, id string) (stock.StockRecord, error)
	UpdateIfStatus(ctx context.Context, tenantID, id string, expected stock.Status, next stock.Commitment) (stock.StockRecord, error)
	UpdateLocation(ctx context.Context, tenantID, id, location string) (stock.StockRecord, error)
	GetDemandLine(ctx context.Context, tenantID string, ref stock.DemandRef) (stock.DemandLine, error)
	ListDemandLines(ctx context.Context, tenantID, orderID string) ([]stock.DemandLine, error)
	AdjustDemandLine(ctx context.Context, tenantID string, ref stock.DemandRef, allocatedDelta, pickedDelta float64) (stock.DemandLine, error)
	FindPickup(ctx context.Context, tenantID string, ref stock.DemandRef, stockRecordID string) (stock.PickupRecord, bool, error)
	CreatePickup(ctx context.Context, pickup stock.PickupRecord) (stock.PickupRecord, error)
}

// Resolver supplies auto-mode candidates.
type Resolver interface {
	ResolveLine(ctx context.Context, tenantID string, line stock.DemandLine) (availability.Result, error)
}

// Locker serialises auto allocation per tenant, SKU and batch.
type Locker interface {
	Acquire(ctx context.Context, key string) (lock.Release, error)
}

// Invalidator drops cached stock summaries of a tenant.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups optional settings.
type Config struct {
	BulkConcurrency int
}

// Deps bundles the optional collaborators; nil members are skipped.
type Deps struct {
	Locker      Locker
	Invalidator Invalidator
	Audit       AuditPort
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Service coordinates allocation operations.
type Service struct {
	store    Store
	resolver Resolver
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(store Store, resolver Resolver, cfg Config, deps Deps) *Service {
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 8
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Allocate commits stock to req.Demand. Insufficient stock is reported as a
// shortfall warning; per-LPN failures are collected without aborting.
func (s *Service) Allocate(ctx context.Context, actor shared.Actor, req Request) (Result, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return Result{}, err
	}
	mode := req.Mode()
	if mode == ModeAuto && req.Quantity <= 0 {
		return Result{}, fmt.Errorf("%w: quantity must be positive in auto mode", stock.ErrValidation)
	}

	line, err := s.store.GetDemandLine(ctx, actor.TenantID, req.Demand)
	if err != nil {
		return Result{}, err
	}
	batch := req.BatchNumber
	if batch == "" {
		batch = line.BatchNumber
	}
	if batch == "" {
		return Result{}, fmt.Errorf("%w: batch number required", stock.ErrValidation)
	}
	if line.BatchNumber != "" && line.BatchNumber != batch {
		return Result{}, fmt.Errorf("%w: batch %s does not match demand line batch %s", stock.ErrValidation, batch, line.BatchNumber)
	}
	line.BatchNumber = batch

	res := Result{
		Mode:         mode,
		Demand:       req.Demand,
		BatchNumber:  batch,
		RequestedQty: req.Quantity,
		Committed:    []Committed{},
		Errors:       []ItemError{},
	}

	var committed decimal.Decimal
	if mode == ModeAuto {
		committed, err = s.allocateAuto(ctx, actor, line, req.Quantity, &res)
	} else {
		committed, err = s.allocateManual(ctx, actor, line, req.LPNIDs, &res)
	}
	if err != nil {
		s.releaseCommitted(ctx, actor, res.Committed)
		s.deps.Metrics.ObserveAllocation(string(mode), "error", 0)
		return Result{}, err
	}
	res.CommittedQty = committed.InexactFloat64()

	if mode == ModeAuto {
		shortfall := decimal.NewFromFloat(req.Quantity).Sub(committed)
		if shortfall.IsPositive() {
			res.ShortfallQty = shortfall.InexactFloat64()
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"insufficient stock: requested %s, committed %s, short %s",
				decimal.NewFromFloat(req.Quantity), committed, shortfall))
		}
	} else {
		res.RequestedQty = res.CommittedQty
	}

	if committed.IsPositive() {
		updated, err := s.store.AdjustDemandLine(ctx, actor.TenantID, req.Demand, res.CommittedQty, 0)
		if err != nil {
			s.logger.Error("adjust demand line after allocation",
				slog.String("tenant_id", actor.TenantID),
				slog.String("line", req.Demand.String()),
				slog.Any("error", err))
			s.releaseCommitted(ctx, actor, res.Committed)
			s.deps.Metrics.ObserveAllocation(string(mode), "error", 0)
			return Result{}, fmt.Errorf("allocation: adjust demand line: %w", err)
		}
		res.DemandLine = updated
		s.afterMutation(ctx, actor, "stock.allocate", "demand_line", req.Demand.LineID, map[string]any{
			"mode":          mode,
			"batch_number":  batch,
			"committed_qty": res.CommittedQty,
			"lpns":          len(res.Committed),
		})
	} else {
		res.DemandLine = line
	}

	s.deps.Metrics.ObserveAllocation(string(mode), allocationOutcome(res), res.CommittedQty)
	s.logger.Info("stock allocated",
		slog.String("tenant_id", actor.TenantID),
		slog.String("line", req.Demand.String()),
		slog.String("mode", string(mode)),
		slog.Float64("committed_qty", res.CommittedQty),
		slog.Float64("shortfall_qty", res.ShortfallQty),
		slog.Int("errors", len(res.Errors)))
	return res, nil
}

// allocateAuto takes available LPNs in ascending record id order while the
// committed total is below min(quantity, available). LPNs are never split, so
// the last one may overshoot.
func (s *Service) allocateAuto(ctx context.Context, actor shared.Actor, line stock.DemandLine, quantity float64, res *Result) (decimal.Decimal, error) {
	release, err := s.acquire(ctx, shared.AllocationLockKey(actor.TenantID, line.SKUID, line.BatchNumber))
	if err != nil {
		return decimal.Zero, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release allocation lock", slog.Any("error", err))
		}
	}()

	avail, err := s.resolver.ResolveLine(ctx, actor.TenantID, line)
	if err != nil {
		return decimal.Zero, err
	}
	if avail.Reason != "" {
		return decimal.Zero, fmt.Errorf("%w: demand line %s cannot be resolved: %s", stock.ErrValidation, line.Ref(), avail.Reason)
	}

	target := decimal.Min(decimal.NewFromFloat(quantity), decimal.NewFromFloat(avail.AvailableQty))
	committed := decimal.Zero
	for _, c := range avail.Candidates {
		if committed.GreaterThanOrEqual(target) {
			break
		}
		if c.Status != stock.StatusAvailable {
			continue
		}
		record, err := s.commit(ctx, actor, c.RecordID, line.Ref())
		if err != nil {
			if !errors.Is(err, stock.ErrConflict) && !errors.Is(err, stock.ErrNotFound) {
				return decimal.Zero, err
			}
			// Lost to a concurrent request; try the next LPN.
			res.Errors = append(res.Errors, itemError(c.RecordID, err))
			continue
		}
		committed = committed.Add(decimal.NewFromFloat(record.HUQty))
		res.Committed = append(res.Committed, committedOf(record))
	}
	return committed, nil
}

func (s *Service) allocateManual(ctx context.Context, actor shared.Actor, line stock.DemandLine, ids []string, res *Result) (decimal.Decimal, error) {
	committed := decimal.Zero
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		record, err := s.store.GetRecord(ctx, actor.TenantID, id)
		if err != nil {
			if !errors.Is(err, stock.ErrNotFound) {
				s.logger.Error("load stock record", slog.String("record_id", id), slog.Any("error", err))
			}
			res.Errors = append(res.Errors, itemError(id, err))
			continue
		}
		if err := matchesLine(record, line); err != nil {
			res.Errors = append(res.Errors, itemError(id, err))
			continue
		}
		if ref, ok := record.CommittedTo(); ok {
			if ref == line.Ref() {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			res.Errors = append(res.Errors, itemError(id, fmt.Errorf(
				"stock record %s is %s for %s: %w", id, record.Status, ref, stock.ErrNotAvailable)))
			continue
		}
		if record.Status != stock.StatusAvailable {
			res.Errors = append(res.Errors, itemError(id, fmt.Errorf(
				"stock record %s is %s: %w", id, record.Status, stock.ErrNotAvailable)))
			continue
		}
		updated, err := s.commit(ctx, actor, id, line.Ref())
		if err != nil {
			if code := stock.ErrorCode(err); code == "internal" {
				s.logger.Error("commit stock record", slog.String("record_id", id), slog.Any("error", err))
			}
			res.Errors = append(res.Errors, itemError(id, err))
			continue
		}
		committed = committed.Add(decimal.NewFromFloat(updated.HUQty))
		res.Committed = append(res.Committed, committedOf(updated))
	}
	return committed, nil
}

// releaseCommitted returns the LPNs of a failed allocation to available so no
// record stays allocated without a matching demand line counter.
func (s *Service) releaseCommitted(ctx context.Context, actor shared.Actor, committed []Committed) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range committed {
		if _, err := s.store.UpdateIfStatus(ctx, actor.TenantID, c.RecordID, stock.StatusAllocated, stock.Release()); err != nil {
			s.logger.Error("roll back allocated stock record",
				slog.String("tenant_id", actor.TenantID),
				slog.String("record_id", c.RecordID),
				slog.Any("error", err))
		}
	}
}

// commit moves one available record to allocated for ref.
func (s *Service) commit(ctx context.Context, actor shared.Actor, id string, ref stock.DemandRef) (stock.StockRecord, error) {
	now := s.now()
	return s.store.UpdateIfStatus(ctx, actor.TenantID, id, stock.StatusAvailable, stock.Commitment{
		Status:                stock.StatusAllocated,
		OutboundInventoryID:   ref.OrderID,
		OutboundProductLineID: ref.LineID,
		AllocatedAt:           &now,
		AllocatedBy:           actor.UserID,
	})
}

func (s *Service) acquire(ctx context.Context, key string) (lock.Release, error) {
	if s.deps.Locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	release, err := s.deps.Locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrLockBusy) {
			return nil, fmt.Errorf("allocation in progress for the same batch: %w", stock.ErrConflict)
		}
		return nil, fmt.Errorf("allocation: acquire lock: %w", err)
	}
	return release, nil
}

// afterMutation invalidates cached summaries and writes the audit entry.
// Neither failure undoes the mutation.
func (s *Service) afterMutation(ctx context.Context, actor shared.Actor, action, entity, entityID string, meta map[string]any) {
	if s.deps.Invalidator != nil {
		if err := s.deps.Invalidator.Invalidate(ctx, actor.TenantID); err != nil {
			s.logger.Warn("invalidate stock summary", slog.String("tenant_id", actor.TenantID), slog.Any("error", err))
		}
	}
	if s.deps.Audit != nil {
		err := s.deps.Audit.Record(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.UserID,
			Action:   action,
			Entity:   entity,
			EntityID: entityID,
			Meta:     meta,
			At:       s.now(),
		})
		if err != nil {
			s.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func matchesLine(record stock.StockRecord, line stock.DemandLine) error {
	if record.SKU.ID != line.SKUID {
		return fmt.Errorf("%w: stock record %s holds sku %s, demand line wants %s",
			stock.ErrValidation, record.ID, record.SKU.ID, line.SKUID)
	}
	if batch := record.Batch().BatchNumber; batch != line.BatchNumber {
		return fmt.Errorf("%w: stock record %s is batch %q, demand line wants %q",
			stock.ErrValidation, record.ID, batch, line.BatchNumber)
	}
	return nil
}

func committedOf(r stock.StockRecord) Committed {
	return Committed{RecordID: r.ID, LPNNumber: r.LPNNumber, Location: r.Location, HUQty: r.HUQty}
}

func allocationOutcome(res Result) string {
	switch {
	case len(res.Committed) == 0:
		return "none"
	case len(res.Errors) > 0 || res.ShortfallQty > 0:
		return "partial"
	default:
		return "success"
	}
}
