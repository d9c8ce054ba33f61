// Package putaway turns received container stock into stock records and
// advances allocations whose received lines are fully warehoused.
package putaway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-freight/odyssey-freight/internal/observability"
	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// DefaultQtyTolerance absorbs rounding noise when comparing fractional
// put-away totals against received quantities.
const DefaultQtyTolerance = 0.01

const idempotencyModule = "warehouse.putaway"

// Store is the subset of stock.Store put-away uses.
type Store interface {
	ListRecords(ctx context.Context, filter stock.RecordFilter) ([]stock.StockRecord, error)
	CreateRecord(ctx context.Context, record stock.StockRecord) (stock.StockRecord, error)
	GetContainer(ctx context.Context, tenantID, id string) (stock.Container, error)
	UpdateContainerStatus(ctx context.Context, tenantID, id string, status stock.ContainerStatus) error
	ListAllocations(ctx context.Context, tenantID, containerID string, kind stock.AllocationKind) ([]stock.StockAllocation, error)
	UpdateAllocationStage(ctx context.Context, tenantID, id string, stage stock.Stage) error
}

// IdempotencyPort guards retried put-away batches.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached stock summaries of a tenant.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Enqueuer schedules a background reconciliation.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, tenantID, containerID string) error
}

// Config groups tunables.
type Config struct {
	QtyTolerance float64
	Concurrency  int
}

// Deps bundles the optional collaborators; nil members are skipped.
type Deps struct {
	Idempotency IdempotencyPort
	Enqueuer    Enqueuer
	Invalidator Invalidator
	Audit       AuditPort
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Service runs put-away batches and reconciliation.
type Service struct {
	store     Store
	deps      Deps
	cfg       Config
	tolerance decimal.Decimal
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. A non-positive tolerance falls back to
// DefaultQtyTolerance.
func NewService(store Store, cfg Config, deps Deps) *Service {
	if cfg.QtyTolerance <= 0 {
		cfg.QtyTolerance = DefaultQtyTolerance
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		deps:      deps,
		cfg:       cfg,
		tolerance: decimal.NewFromFloat(cfg.QtyTolerance),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PutAway creates a stock record per matched item, then re-evaluates the
// allocations that received records in this call.
func (s *Service) PutAway(ctx context.Context, actor shared.Actor, containerID string, req Request) (Result, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return Result{}, err
	}
	container, err := s.store.GetContainer(ctx, actor.TenantID, containerID)
	if err != nil {
		return Result{}, err
	}
	allocations, err := s.store.ListAllocations(ctx, actor.TenantID, containerID, stock.AllocationImport)
	if err != nil {
		return Result{}, fmt.Errorf("putaway: list allocations: %w", err)
	}
	byID := make(map[string]stock.StockAllocation, len(allocations))
	for _, a := range allocations {
		byID[a.ID] = a
	}

	insertedKey := false
	if req.IdempotencyKey != "" && s.deps.Idempotency != nil {
		key := s.idempotencyKey(actor.TenantID, containerID, req.IdempotencyKey)
		if err := s.deps.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Result{}, fmt.Errorf("put-away batch %s already processed: %w", req.IdempotencyKey, stock.ErrConflict)
			}
			return Result{}, fmt.Errorf("putaway: idempotency: %w", err)
		}
		insertedKey = true
	}

	res := Result{
		ContainerID: containerID,
		Items:       make([]ItemResult, len(req.Items)),
		Advanced:    []string{},
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, item := range req.Items {
		if err := shared.ValidateStruct(item); err != nil {
			res.Items[i] = ItemResult{Index: i, LPNNumber: item.LPNNumber, Code: "validation", Error: err.Error()}
			continue
		}
		alloc, ok := byID[item.StockAllocationID]
		if !ok {
			res.Items[i] = skipped(i, item, "stock allocation not found on container")
			continue
		}
		if _, ok := alloc.LineForSKU(item.SKUID); !ok {
			res.Items[i] = skipped(i, item, "sku not on stock allocation")
			continue
		}
		record := s.newRecord(actor, container, alloc, item, req.IdempotencyKey, i)
		g.Go(func() error {
			created, err := s.store.CreateRecord(ctx, record)
			if err != nil {
				s.logger.Error("create put-away record",
					slog.String("tenant_id", actor.TenantID),
					slog.String("container_id", containerID),
					slog.String("lpn_number", item.LPNNumber),
					slog.Any("error", err))
				code, msg := stock.ErrorCode(err), err.Error()
				if code == "internal" {
					msg = "internal error"
				}
				res.Items[i] = ItemResult{Index: i, LPNNumber: item.LPNNumber, Code: code, Error: msg}
				return nil
			}
			res.Items[i] = ItemResult{Index: i, LPNNumber: item.LPNNumber, Success: true, Record: &created}
			return nil
		})
	}
	_ = g.Wait()

	touched := make(map[string]struct{})
	for _, item := range res.Items {
		switch {
		case item.Success:
			res.Created++
			touched[item.Record.Provenance.Allocation.ID] = struct{}{}
		case item.Skipped:
			res.Skipped++
			s.logger.Warn("put-away item skipped",
				slog.String("tenant_id", actor.TenantID),
				slog.String("container_id", containerID),
				slog.String("lpn_number", item.LPNNumber),
				slog.String("reason", item.Error))
		default:
			res.Failed++
		}
	}
	if res.Created == 0 && insertedKey {
		// Nothing persisted; let the client retry with the same key.
		if err := s.deps.Idempotency.Delete(ctx, s.idempotencyKey(actor.TenantID, containerID, req.IdempotencyKey)); err != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", err))
		}
	}
	s.deps.Metrics.ObservePutAway(res.Created, res.Skipped)

	if res.Created > 0 {
		var targets []stock.StockAllocation
		for _, a := range allocations {
			if _, ok := touched[a.ID]; ok {
				targets = append(targets, a)
			}
		}
		advanced, err := s.reconcile(ctx, actor.TenantID, targets)
		if err != nil {
			return res, err
		}
		res.Advanced = advanced
		if err := s.markContainer(ctx, actor.TenantID, container); err != nil {
			return res, err
		}
		res.ContainerStatus = stock.ContainerPutAway
		s.afterMutation(ctx, actor, containerID, map[string]any{
			"created":  res.Created,
			"skipped":  res.Skipped,
			"advanced": advanced,
		})
	} else {
		res.ContainerStatus = container.Status
	}

	s.logger.Info("put-away processed",
		slog.String("tenant_id", actor.TenantID),
		slog.String("container_id", containerID),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Int("advanced", len(res.Advanced)))
	return res, nil
}

// Reconcile re-runs the completion check for every import allocation of the
// container and re-syncs the container status.
func (s *Service) Reconcile(ctx context.Context, tenantID, containerID string) (ReconcileResult, error) {
	container, err := s.store.GetContainer(ctx, tenantID, containerID)
	if err != nil {
		return ReconcileResult{}, err
	}
	allocations, err := s.store.ListAllocations(ctx, tenantID, containerID, stock.AllocationImport)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("putaway: list allocations: %w", err)
	}
	advanced, err := s.reconcile(ctx, tenantID, allocations)
	if err != nil {
		return ReconcileResult{}, err
	}
	out := ReconcileResult{ContainerID: containerID, Checked: len(allocations), Advanced: advanced, ContainerStatus: container.Status}

	records, err := s.store.ListRecords(ctx, stock.RecordFilter{TenantID: tenantID, ContainerDetailID: containerID})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("putaway: list container records: %w", err)
	}
	if len(records) > 0 {
		if err := s.markContainer(ctx, tenantID, container); err != nil {
			return ReconcileResult{}, err
		}
		out.ContainerStatus = stock.ContainerPutAway
	}
	if len(advanced) > 0 && s.deps.Invalidator != nil {
		if err := s.deps.Invalidator.Invalidate(ctx, tenantID); err != nil {
			s.logger.Warn("invalidate stock summary", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return out, nil
}

// ScheduleReconcile hands reconciliation to the background worker. Without
// a worker it reconciles inline.
func (s *Service) ScheduleReconcile(ctx context.Context, tenantID, containerID string) (queued bool, res ReconcileResult, err error) {
	if s.deps.Enqueuer == nil {
		res, err = s.Reconcile(ctx, tenantID, containerID)
		return false, res, err
	}
	if _, err := s.store.GetContainer(ctx, tenantID, containerID); err != nil {
		return false, ReconcileResult{}, err
	}
	if err := s.deps.Enqueuer.EnqueueReconcile(ctx, tenantID, containerID); err != nil {
		return false, ReconcileResult{}, fmt.Errorf("putaway: enqueue reconcile: %w", err)
	}
	return true, ReconcileResult{ContainerID: containerID, Advanced: []string{}}, nil
}

// reconcile advances each allocation whose received lines are covered and
// returns the ids that moved to put_away.
func (s *Service) reconcile(ctx context.Context, tenantID string, allocations []stock.StockAllocation) ([]string, error) {
	advanced := []string{}
	for _, alloc := range allocations {
		if alloc.Stage == stock.StagePutAway {
			continue
		}
		records, err := s.store.ListRecords(ctx, stock.RecordFilter{TenantID: tenantID, StockAllocationID: alloc.ID})
		if err != nil {
			return advanced, fmt.Errorf("putaway: list allocation records: %w", err)
		}
		if !s.Covered(alloc, records) {
			continue
		}
		if err := s.store.UpdateAllocationStage(ctx, tenantID, alloc.ID, stock.StagePutAway); err != nil {
			return advanced, fmt.Errorf("putaway: advance allocation %s: %w", alloc.ID, err)
		}
		advanced = append(advanced, alloc.ID)
	}
	return advanced, nil
}

// Covered reports whether every received line of alloc is matched by
// put-away quantity within tolerance. An allocation without received lines is
// never covered.
func (s *Service) Covered(alloc stock.StockAllocation, records []stock.StockRecord) bool {
	placed := make(map[string]decimal.Decimal)
	for _, r := range records {
		if r.IsDeleted || r.Provenance.Allocation == nil || r.Provenance.Allocation.ID != alloc.ID {
			continue
		}
		placed[r.SKU.ID] = placed[r.SKU.ID].Add(decimal.NewFromFloat(r.HUQty))
	}
	received := 0
	for _, line := range alloc.ProductLines {
		if line.ReceivedQty <= 0 {
			continue
		}
		received++
		need := decimal.NewFromFloat(line.ReceivedQty).Sub(s.tolerance)
		if placed[line.SKUID].LessThan(need) {
			return false
		}
	}
	return received > 0
}

func (s *Service) markContainer(ctx context.Context, tenantID string, container stock.Container) error {
	if container.Status == stock.ContainerPutAway {
		return nil
	}
	if err := s.store.UpdateContainerStatus(ctx, tenantID, container.ID, stock.ContainerPutAway); err != nil {
		return fmt.Errorf("putaway: update container status: %w", err)
	}
	return nil
}

func (s *Service) newRecord(actor shared.Actor, container stock.Container, alloc stock.StockAllocation, item Item, batchKey string, index int) stock.StockRecord {
	record := stock.StockRecord{
		TenantID:          actor.TenantID,
		LPNNumber:         item.LPNNumber,
		SKU:               stock.SKURef{ID: item.SKUID},
		Provenance:        stock.FromAllocation(alloc),
		ContainerDetailID: container.ID,
		WarehouseID:       item.WarehouseID,
		Location:          item.Location,
		HUQty:             item.HUQty,
		Status:            stock.StatusAvailable,
	}
	if record.WarehouseID == "" {
		record.WarehouseID = container.WarehouseID
	}
	if batchKey != "" {
		// Stable ids make a replayed batch collide instead of duplicating stock.
		record.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%s:%s:%d", actor.TenantID, container.ID, batchKey, index))).String()
	}
	return record
}

func (s *Service) idempotencyKey(tenantID, containerID, key string) string {
	return fmt.Sprintf("putaway:%s:%s:%s", tenantID, containerID, key)
}

func (s *Service) afterMutation(ctx context.Context, actor shared.Actor, containerID string, meta map[string]any) {
	if s.deps.Invalidator != nil {
		if err := s.deps.Invalidator.Invalidate(ctx, actor.TenantID); err != nil {
			s.logger.Warn("invalidate stock summary", slog.String("tenant_id", actor.TenantID), slog.Any("error", err))
		}
	}
	if s.deps.Audit != nil {
		err := s.deps.Audit.Record(ctx, shared.AuditLog{
			TenantID: actor.TenantID,
			ActorID:  actor.UserID,
			Action:   "stock.put_away",
			Entity:   "container",
			EntityID: containerID,
			Meta:     meta,
			At:       s.now(),
		})
		if err != nil {
			s.logger.Warn("record audit log", slog.String("container_id", containerID), slog.Any("error", err))
		}
	}
}

func skipped(i int, item Item, reason string) ItemResult {
	return ItemResult{Index: i, LPNNumber: item.LPNNumber, Skipped: true, Error: reason}
}
