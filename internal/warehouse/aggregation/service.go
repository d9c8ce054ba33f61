package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-freight/odyssey-freight/internal/observability"
	"github.com/odyssey-freight/odyssey-freight/internal/platform/cache"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// Store lists stock records.
type Store interface {
	ListRecords(ctx context.Context, filter stock.RecordFilter) ([]stock.StockRecord, error)
}

// Filter narrows a summary. Empty fields do not filter.
type Filter struct {
	SKUID             string `json:"sku_id,omitempty"`
	BatchNumber       string `json:"batch_number,omitempty"`
	WarehouseID       string `json:"warehouse_id,omitempty"`
	ContainerDetailID string `json:"container_detail_id,omitempty"`
}

func (f Filter) cacheParts() []string {
	return []string{"summary", f.SKUID, f.BatchNumber, f.WarehouseID, f.ContainerDetailID}
}

// Summary is the aggregated stock view of a tenant.
type Summary struct {
	Filter      Filter    `json:"filter"`
	Items       []Item    `json:"items"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service serves cached stock summaries.
type Service struct {
	store   Store
	cache   *cache.Versioned
	metrics *observability.Metrics
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService builds Service. A nil or disabled cache loads on every call.
func NewService(store Store, c *cache.Versioned, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		cache:   c,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Summary aggregates the tenant's stock matching filter. Concurrent misses
// for the same key share one load.
func (s *Service) Summary(ctx context.Context, tenantID string, filter Filter) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, tenantID, filter.cacheParts()...)
	if err != nil {
		s.logger.Warn("build summary cache key", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return s.load(ctx, tenantID, filter)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		var out Summary
		// The shared load must not die with whichever caller started it.
		hit, err := s.cache.FetchJSON(context.WithoutCancel(ctx), key, &out, func(ctx context.Context) (any, error) {
			return s.load(ctx, tenantID, filter)
		})
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveSummaryCache(hit)
		return out, nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

// Invalidate drops every cached summary of tenantID.
func (s *Service) Invalidate(ctx context.Context, tenantID string) error {
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		return fmt.Errorf("aggregation: bump summary version: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, tenantID string, filter Filter) (Summary, error) {
	records, err := s.store.ListRecords(ctx, stock.RecordFilter{
		TenantID:          tenantID,
		SKUID:             filter.SKUID,
		BatchNumber:       filter.BatchNumber,
		WarehouseID:       filter.WarehouseID,
		ContainerDetailID: filter.ContainerDetailID,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("aggregation: list records: %w", err)
	}
	return Summary{
		Filter:      filter,
		Items:       Sorted(Aggregate(records)),
		GeneratedAt: s.now(),
	}, nil
}
