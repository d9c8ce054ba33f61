package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists warehouse stock in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore constructs the store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const recordColumns = `
	sr.id::text, sr.tenant_id::text, sr.lpn_number, sr.sku_id::text,
	COALESCE(s.sku_code, ''), COALESCE(s.description, ''),
	COALESCE(sr.inbound_product_line_id::text, ''), COALESCE(sr.stock_allocation_id::text, ''),
	COALESCE(sr.container_detail_id::text, ''), COALESCE(sr.warehouse_id::text, ''),
	sr.location, sr.hu_qty::float8, sr.allocation_status,
	COALESCE(sr.outbound_inventory_id::text, ''), COALESCE(sr.outbound_product_line_id::text, ''),
	sr.allocated_at, COALESCE(sr.allocated_by, ''), sr.is_deleted, sr.created_at, sr.updated_at`

const recordFrom = `
	FROM stock_records sr
	LEFT JOIN skus s ON s.id = sr.sku_id`

// provenance ids are carried alongside a scanned record until hydrate resolves them.
type scannedRecord struct {
	record       StockRecord
	inboundID    string
	allocationID string
}

func scanRecord(row pgx.Row) (scannedRecord, error) {
	var sc scannedRecord
	r := &sc.record
	err := row.Scan(
		&r.ID, &r.TenantID, &r.LPNNumber, &r.SKU.ID,
		&r.SKU.Code, &r.SKU.Description,
		&sc.inboundID, &sc.allocationID,
		&r.ContainerDetailID, &r.WarehouseID,
		&r.Location, &r.HUQty, &r.Status,
		&r.OutboundInventoryID, &r.OutboundProductLineID,
		&r.AllocatedAt, &r.AllocatedBy, &r.IsDeleted, &r.CreatedAt, &r.UpdatedAt,
	)
	return sc, err
}

func (s *PGStore) ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	if !validIDs(filter.TenantID) || !validOptionalIDs(filter.SKUID, filter.WarehouseID, filter.ContainerDetailID,
		filter.StockAllocationID, filter.OutboundInventoryID, filter.OutboundProductLineID) {
		return nil, nil
	}
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	add("sr.tenant_id = $%d", filter.TenantID)
	if !filter.IncludeDeleted {
		where = append(where, "NOT sr.is_deleted")
	}
	if len(filter.IDs) > 0 {
		add("sr.id::text = ANY($%d)", filter.IDs)
	}
	if filter.SKUID != "" {
		add("sr.sku_id = $%d", filter.SKUID)
	}
	if filter.BatchNumber != "" {
		add("sr.batch_number = $%d", filter.BatchNumber)
	}
	if filter.WarehouseID != "" {
		add("sr.warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.ContainerDetailID != "" {
		add("sr.container_detail_id = $%d", filter.ContainerDetailID)
	}
	if filter.StockAllocationID != "" {
		add("sr.stock_allocation_id = $%d", filter.StockAllocationID)
	}
	if filter.OutboundInventoryID != "" {
		add("sr.outbound_inventory_id = $%d", filter.OutboundInventoryID)
	}
	if filter.OutboundProductLineID != "" {
		add("sr.outbound_product_line_id = $%d", filter.OutboundProductLineID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("sr.allocation_status = ANY($%d)", statuses)
	}

	query := "SELECT " + recordColumns + recordFrom +
		" WHERE " + strings.Join(where, " AND ") + " ORDER BY sr.id"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stock: list records: %w", err)
	}
	defer rows.Close()

	var scanned []scannedRecord
	for rows.Next() {
		sc, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("stock: scan record: %w", err)
		}
		scanned = append(scanned, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.hydrate(ctx, filter.TenantID, scanned)
}

func (s *PGStore) GetRecord(ctx context.Context, tenantID, id string) (StockRecord, error) {
	if !validIDs(tenantID, id) {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	query := "SELECT " + recordColumns + recordFrom +
		" WHERE sr.tenant_id = $1 AND sr.id = $2 AND NOT sr.is_deleted"
	sc, err := scanRecord(s.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
		}
		return StockRecord{}, fmt.Errorf("stock: get record: %w", err)
	}
	records, err := s.hydrate(ctx, tenantID, []scannedRecord{sc})
	if err != nil {
		return StockRecord{}, err
	}
	return records[0], nil
}

// hydrate attaches provenance to scanned records, loading each referenced
// inbound line and allocation once.
func (s *PGStore) hydrate(ctx context.Context, tenantID string, scanned []scannedRecord) ([]StockRecord, error) {
	inboundIDs := make(map[string]struct{})
	allocationIDs := make(map[string]struct{})
	for _, sc := range scanned {
		if sc.inboundID != "" {
			inboundIDs[sc.inboundID] = struct{}{}
		}
		if sc.allocationID != "" {
			allocationIDs[sc.allocationID] = struct{}{}
		}
	}
	lines, err := s.loadInboundLines(ctx, tenantID, keys(inboundIDs))
	if err != nil {
		return nil, err
	}
	allocs, err := s.loadAllocations(ctx, tenantID, keys(allocationIDs))
	if err != nil {
		return nil, err
	}

	out := make([]StockRecord, 0, len(scanned))
	for _, sc := range scanned {
		r := sc.record
		if line, ok := lines[sc.inboundID]; ok {
			r.Provenance = FromInboundLine(line)
		} else if alloc, ok := allocs[sc.allocationID]; ok {
			r.Provenance = FromAllocation(alloc)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PGStore) loadInboundLines(ctx context.Context, tenantID string, ids []string) (map[string]InboundProductLine, error) {
	out := make(map[string]InboundProductLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.id::text, l.inbound_inventory_id::text, l.sku_id::text,
		       COALESCE(l.batch_number, ''), l.expiry_date,
		       COALESCE(l.attribute1, ''), COALESCE(l.attribute2, ''), l.recieved_qty::float8,
		       COALESCE(i.order_code, ''), COALESCE(i.customer_reference, ''),
		       COALESCE(i.customer_name, ''), COALESCE(i.container_number, '')
		FROM inbound_product_lines l
		JOIN inbound_inventories i ON i.id = l.inbound_inventory_id
		WHERE l.tenant_id = $1 AND l.id::text = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("stock: load inbound lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l InboundProductLine
		if err := rows.Scan(&l.ID, &l.InboundInventoryID, &l.SKUID,
			&l.BatchNumber, &l.ExpiryDate, &l.Attribute1, &l.Attribute2, &l.ReceivedQty,
			&l.Origin.OrderCode, &l.Origin.CustomerReference,
			&l.Origin.CustomerName, &l.Origin.ContainerNumber); err != nil {
			return nil, fmt.Errorf("stock: scan inbound line: %w", err)
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

const allocationColumns = `
	id::text, tenant_id::text, container_detail_id::text, kind, stage, product_lines,
	COALESCE(order_code, ''), COALESCE(customer_reference, ''),
	COALESCE(customer_name, ''), COALESCE(container_number, '')`

func scanAllocation(row pgx.Row) (StockAllocation, error) {
	var a StockAllocation
	err := row.Scan(&a.ID, &a.TenantID, &a.ContainerDetailID, &a.Kind, &a.Stage, &a.ProductLines,
		&a.Origin.OrderCode, &a.Origin.CustomerReference,
		&a.Origin.CustomerName, &a.Origin.ContainerNumber)
	return a, err
}

func (s *PGStore) loadAllocations(ctx context.Context, tenantID string, ids []string) (map[string]StockAllocation, error) {
	out := make(map[string]StockAllocation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+allocationColumns+
		" FROM stock_allocations WHERE tenant_id = $1 AND id::text = ANY($2)", tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("stock: load allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("stock: scan allocation: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (s *PGStore) CreateRecord(ctx context.Context, r StockRecord) (StockRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var inboundID, allocationID string
	if r.Provenance.InboundLine != nil {
		inboundID = r.Provenance.InboundLine.ID
	}
	if r.Provenance.Allocation != nil {
		allocationID = r.Provenance.Allocation.ID
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stock_records (
			id, tenant_id, lpn_number, sku_id, inbound_product_line_id, stock_allocation_id,
			batch_number, container_detail_id, warehouse_id, location, hu_qty, allocation_status,
			outbound_inventory_id, outbound_product_line_id, allocated_at, allocated_by
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, '')::uuid, NULLIF($6, '')::uuid,
			NULLIF($7, ''), NULLIF($8, '')::uuid, NULLIF($9, '')::uuid, $10, $11, $12,
			NULLIF($13, '')::uuid, NULLIF($14, '')::uuid, $15, NULLIF($16, '')
		)
		RETURNING created_at, updated_at`,
		r.ID, r.TenantID, r.LPNNumber, r.SKU.ID, inboundID, allocationID,
		r.Batch().BatchNumber, r.ContainerDetailID, r.WarehouseID, r.Location, r.HUQty, string(r.Status),
		r.OutboundInventoryID, r.OutboundProductLineID, r.AllocatedAt, r.AllocatedBy,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return StockRecord{}, fmt.Errorf("stock: create record: %w", err)
	}
	return r, nil
}

func (s *PGStore) UpdateIfStatus(ctx context.Context, tenantID, id string, expected Status, next Commitment) (StockRecord, error) {
	if !validIDs(tenantID, id) {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	if err := next.Validate(); err != nil {
		return StockRecord{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_records
		SET allocation_status = $4,
		    outbound_inventory_id = NULLIF($5, '')::uuid,
		    outbound_product_line_id = NULLIF($6, '')::uuid,
		    allocated_at = $7,
		    allocated_by = NULLIF($8, ''),
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND allocation_status = $3 AND NOT is_deleted`,
		tenantID, id, string(expected), string(next.Status),
		next.OutboundInventoryID, next.OutboundProductLineID, next.AllocatedAt, next.AllocatedBy)
	if err != nil {
		return StockRecord{}, fmt.Errorf("stock: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.GetRecord(ctx, tenantID, id)
		if err != nil {
			return StockRecord{}, err
		}
		return StockRecord{}, fmt.Errorf("stock record %s is %s, expected %s: %w", id, current.Status, expected, ErrConflict)
	}
	return s.GetRecord(ctx, tenantID, id)
}

func (s *PGStore) UpdateLocation(ctx context.Context, tenantID, id, location string) (StockRecord, error) {
	if !validIDs(tenantID, id) {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_records SET location = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND NOT is_deleted`, tenantID, id, location)
	if err != nil {
		return StockRecord{}, fmt.Errorf("stock: update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return StockRecord{}, fmt.Errorf("stock record %s: %w", id, ErrNotFound)
	}
	return s.GetRecord(ctx, tenantID, id)
}

const demandColumns = `
	id::text, tenant_id::text, order_id::text, line_index, sku_id::text,
	COALESCE(batch_number, ''), COALESCE(warehouse_id::text, ''), COALESCE(container_detail_id::text, ''),
	expected_qty::float8, allocated_qty::float8, picked_qty::float8`

func scanDemandLine(row pgx.Row) (DemandLine, error) {
	var d DemandLine
	err := row.Scan(&d.ID, &d.TenantID, &d.OrderID, &d.LineIndex, &d.SKUID,
		&d.BatchNumber, &d.WarehouseID, &d.ContainerDetailID,
		&d.ExpectedQty, &d.AllocatedQty, &d.PickedQty)
	return d, err
}

func (s *PGStore) GetDemandLine(ctx context.Context, tenantID string, ref DemandRef) (DemandLine, error) {
	if !validIDs(tenantID, ref.OrderID, ref.LineID) {
		return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
	}
	d, err := scanDemandLine(s.pool.QueryRow(ctx, "SELECT "+demandColumns+
		" FROM demand_lines WHERE tenant_id = $1 AND order_id = $2 AND id = $3", tenantID, ref.OrderID, ref.LineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
		}
		return DemandLine{}, fmt.Errorf("stock: get demand line: %w", err)
	}
	return d, nil
}

func (s *PGStore) ListDemandLines(ctx context.Context, tenantID, orderID string) ([]DemandLine, error) {
	if !validIDs(tenantID, orderID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+demandColumns+
		" FROM demand_lines WHERE tenant_id = $1 AND order_id = $2 ORDER BY line_index", tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("stock: list demand lines: %w", err)
	}
	defer rows.Close()
	var out []DemandLine
	for rows.Next() {
		d, err := scanDemandLine(rows)
		if err != nil {
			return nil, fmt.Errorf("stock: scan demand line: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) AdjustDemandLine(ctx context.Context, tenantID string, ref DemandRef, allocatedDelta, pickedDelta float64) (DemandLine, error) {
	if !validIDs(tenantID, ref.OrderID, ref.LineID) {
		return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
	}
	d, err := scanDemandLine(s.pool.QueryRow(ctx, `
		UPDATE demand_lines
		SET allocated_qty = GREATEST(0, allocated_qty + $4),
		    picked_qty = GREATEST(0, picked_qty + $5)
		WHERE tenant_id = $1 AND order_id = $2 AND id = $3
		RETURNING `+demandColumns, tenantID, ref.OrderID, ref.LineID, allocatedDelta, pickedDelta))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DemandLine{}, fmt.Errorf("demand line %s: %w", ref, ErrNotFound)
		}
		return DemandLine{}, fmt.Errorf("stock: adjust demand line: %w", err)
	}
	return d, nil
}

func (s *PGStore) FindPickup(ctx context.Context, tenantID string, ref DemandRef, stockRecordID string) (PickupRecord, bool, error) {
	if !validIDs(tenantID, ref.LineID, stockRecordID) {
		return PickupRecord{}, false, nil
	}
	var p PickupRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, outbound_inventory_id::text, outbound_product_line_id::text,
		       stock_record_id::text, lpn_number, hu_qty::float8, location, COALESCE(picked_by, ''), status, created_at
		FROM pickup_records
		WHERE tenant_id = $1 AND outbound_product_line_id = $2 AND stock_record_id = $3 AND status = $4
		LIMIT 1`, tenantID, ref.LineID, stockRecordID, string(PickupCompleted)).Scan(
		&p.ID, &p.TenantID, &p.OutboundInventoryID, &p.OutboundProductLineID,
		&p.StockRecordID, &p.LPNNumber, &p.HUQty, &p.Location, &p.PickedBy, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PickupRecord{}, false, nil
		}
		return PickupRecord{}, false, fmt.Errorf("stock: find pickup: %w", err)
	}
	return p, true, nil
}

func (s *PGStore) CreatePickup(ctx context.Context, p PickupRecord) (PickupRecord, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pickup_records (
			id, tenant_id, outbound_inventory_id, outbound_product_line_id, stock_record_id,
			lpn_number, hu_qty, location, picked_by, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		RETURNING created_at`,
		p.ID, p.TenantID, p.OutboundInventoryID, p.OutboundProductLineID, p.StockRecordID,
		p.LPNNumber, p.HUQty, p.Location, p.PickedBy, string(p.Status)).Scan(&p.CreatedAt)
	if err != nil {
		return PickupRecord{}, fmt.Errorf("stock: create pickup: %w", err)
	}
	return p, nil
}

func (s *PGStore) GetContainer(ctx context.Context, tenantID, id string) (Container, error) {
	if !validIDs(tenantID, id) {
		return Container{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	var c Container
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, COALESCE(booking_id::text, ''), container_number,
		       COALESCE(warehouse_id::text, ''), status
		FROM container_details WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(
		&c.ID, &c.TenantID, &c.BookingID, &c.ContainerNumber, &c.WarehouseID, &c.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Container{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
		}
		return Container{}, fmt.Errorf("stock: get container: %w", err)
	}
	return c, nil
}

func (s *PGStore) UpdateContainerStatus(ctx context.Context, tenantID, id string, status ContainerStatus) error {
	if !validIDs(tenantID, id) {
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE container_details SET status = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return fmt.Errorf("stock: update container status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PGStore) GetAllocation(ctx context.Context, tenantID, id string) (StockAllocation, error) {
	if !validIDs(tenantID, id) {
		return StockAllocation{}, fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
	}
	a, err := scanAllocation(s.pool.QueryRow(ctx, "SELECT "+allocationColumns+
		" FROM stock_allocations WHERE tenant_id = $1 AND id = $2", tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockAllocation{}, fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
		}
		return StockAllocation{}, fmt.Errorf("stock: get allocation: %w", err)
	}
	return a, nil
}

func (s *PGStore) ListAllocations(ctx context.Context, tenantID, containerID string, kind AllocationKind) ([]StockAllocation, error) {
	if !validIDs(tenantID, containerID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+allocationColumns+`
		FROM stock_allocations
		WHERE tenant_id = $1 AND container_detail_id = $2 AND ($3 = '' OR kind = $3)
		ORDER BY id`, tenantID, containerID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("stock: list allocations: %w", err)
	}
	defer rows.Close()
	var out []StockAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("stock: scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateAllocationStage(ctx context.Context, tenantID, id string, stage Stage) error {
	if !validIDs(tenantID, id) {
		return fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE stock_allocations SET stage = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(stage))
	if err != nil {
		return fmt.Errorf("stock: update allocation stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock allocation %s: %w", id, ErrNotFound)
	}
	return nil
}

// validIDs reports whether every id is a UUID. A malformed id cannot match a
// row; callers answer as if nothing matched instead of letting Postgres
// reject the cast.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// validOptionalIDs is validIDs with empty ids allowed.
func validOptionalIDs(ids ...string) bool {
	for _, id := range ids {
		if id != "" && !validIDs(id) {
			return false
		}
	}
	return true
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
