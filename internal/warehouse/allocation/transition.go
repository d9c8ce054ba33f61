package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-freight/odyssey-freight/internal/shared"
	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// Transition moves one record along the status machine, applying the demand
// line counter and pickup side effects of the move.
func (s *Service) Transition(ctx context.Context, actor shared.Actor, change StatusChange) (stock.StockRecord, error) {
	record, err := s.transition(ctx, actor, change)
	outcome := "success"
	if err != nil {
		outcome = stock.ErrorCode(err)
	}
	from := string(record.Status)
	if from == "" {
		from = "unknown"
	}
	s.deps.Metrics.ObserveTransition(from, string(change.To), outcome)
	if err != nil {
		return stock.StockRecord{}, err
	}
	s.afterMutation(ctx, actor, "stock.transition", "stock_record", record.ID, map[string]any{
		"status": change.To,
	})
	return record, nil
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, change StatusChange) (stock.StockRecord, error) {
	if err := shared.ValidateStruct(change); err != nil {
		return stock.StockRecord{}, err
	}
	current, err := s.store.GetRecord(ctx, actor.TenantID, change.RecordID)
	if err != nil {
		return stock.StockRecord{}, err
	}
	if current.Status == stock.StatusPicked && change.To == stock.StatusPicked {
		// Picking again is a no-op that only makes sure the pickup exists.
		ref, ok := current.CommittedTo()
		if !ok {
			return current, fmt.Errorf("%w: stock record %s is not tied to a demand line", stock.ErrValidation, current.ID)
		}
		return current, s.ensurePickup(ctx, actor, current, ref)
	}
	if err := stock.CheckTransition(current.Status, change.To); err != nil {
		return current, err
	}
	qty := current.HUQty

	switch {
	case current.Status == stock.StatusAvailable && change.To == stock.StatusAllocated:
		if change.Demand == nil {
			return current, fmt.Errorf("%w: demand line required to allocate", stock.ErrValidation)
		}
		line, err := s.store.GetDemandLine(ctx, actor.TenantID, *change.Demand)
		if err != nil {
			return current, err
		}
		if err := matchesLine(current, line); err != nil {
			return current, err
		}
		updated, err := s.commit(ctx, actor, current.ID, line.Ref())
		if err != nil {
			return current, err
		}
		return updated, s.adjust(ctx, actor, current, updated, line.Ref(), qty, 0)

	case current.Status == stock.StatusAllocated && change.To == stock.StatusPicked:
		ref, ok := current.CommittedTo()
		if !ok {
			return current, fmt.Errorf("%w: stock record %s is not tied to a demand line", stock.ErrValidation, current.ID)
		}
		next := stock.CommitmentOf(current)
		next.Status = stock.StatusPicked
		updated, err := s.store.UpdateIfStatus(ctx, actor.TenantID, current.ID, current.Status, next)
		if err != nil {
			return current, err
		}
		if err := s.adjust(ctx, actor, current, updated, ref, 0, qty); err != nil {
			return current, err
		}
		if err := s.ensurePickup(ctx, actor, updated, ref); err != nil {
			s.undoPick(ctx, actor, current, ref, qty)
			return current, err
		}
		return updated, nil

	case current.Status == stock.StatusAllocated && change.To == stock.StatusAvailable:
		ref, _ := current.CommittedTo()
		updated, err := s.store.UpdateIfStatus(ctx, actor.TenantID, current.ID, current.Status, stock.Release())
		if err != nil {
			return current, err
		}
		return updated, s.adjust(ctx, actor, current, updated, ref, -qty, 0)

	case current.Status == stock.StatusPicked && change.To == stock.StatusAvailable:
		ref, _ := current.CommittedTo()
		updated, err := s.store.UpdateIfStatus(ctx, actor.TenantID, current.ID, current.Status, stock.Release())
		if err != nil {
			return current, err
		}
		return updated, s.adjust(ctx, actor, current, updated, ref, -qty, -qty)

	case current.Status == stock.StatusPicked && change.To == stock.StatusAllocated:
		ref, _ := current.CommittedTo()
		next := stock.CommitmentOf(current)
		next.Status = stock.StatusAllocated
		updated, err := s.store.UpdateIfStatus(ctx, actor.TenantID, current.ID, current.Status, next)
		if err != nil {
			return current, err
		}
		return updated, s.adjust(ctx, actor, current, updated, ref, 0, -qty)
	}
	return current, &stock.InvalidTransitionError{From: current.Status, To: change.To}
}

// adjust applies counter deltas to the demand line. When that fails the
// record is put back to its previous commitment so counters and statuses do
// not drift apart.
func (s *Service) adjust(ctx context.Context, actor shared.Actor, before, after stock.StockRecord, ref stock.DemandRef, allocatedDelta, pickedDelta float64) error {
	if ref.LineID == "" {
		return nil
	}
	_, err := s.store.AdjustDemandLine(ctx, actor.TenantID, ref, allocatedDelta, pickedDelta)
	if err == nil {
		return nil
	}
	s.logger.Error("adjust demand line",
		slog.String("tenant_id", actor.TenantID),
		slog.String("record_id", before.ID),
		slog.String("line", ref.String()),
		slog.Any("error", err))
	if _, rbErr := s.store.UpdateIfStatus(ctx, actor.TenantID, before.ID, after.Status, stock.CommitmentOf(before)); rbErr != nil {
		s.logger.Error("roll back stock record status",
			slog.String("record_id", before.ID), slog.Any("error", rbErr))
	}
	return fmt.Errorf("allocation: adjust demand line %s: %w", ref, err)
}

// undoPick puts a picked record back to allocated and takes its quantity off
// the line's picked counter.
func (s *Service) undoPick(ctx context.Context, actor shared.Actor, before stock.StockRecord, ref stock.DemandRef, qty float64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.store.UpdateIfStatus(ctx, actor.TenantID, before.ID, stock.StatusPicked, stock.CommitmentOf(before)); err != nil {
		s.logger.Error("roll back picked stock record",
			slog.String("record_id", before.ID), slog.Any("error", err))
		return
	}
	if _, err := s.store.AdjustDemandLine(ctx, actor.TenantID, ref, 0, -qty); err != nil {
		s.logger.Error("roll back picked counter",
			slog.String("record_id", before.ID),
			slog.String("line", ref.String()),
			slog.Any("error", err))
	}
}

// ensurePickup creates the pickup record unless a completed one already
// references the LPN for the line.
func (s *Service) ensurePickup(ctx context.Context, actor shared.Actor, record stock.StockRecord, ref stock.DemandRef) error {
	_, found, err := s.store.FindPickup(ctx, actor.TenantID, ref, record.ID)
	if err != nil {
		return fmt.Errorf("allocation: find pickup: %w", err)
	}
	if found {
		return nil
	}
	_, err = s.store.CreatePickup(ctx, stock.PickupRecord{
		TenantID:              actor.TenantID,
		OutboundInventoryID:   ref.OrderID,
		OutboundProductLineID: ref.LineID,
		StockRecordID:         record.ID,
		LPNNumber:             record.LPNNumber,
		HUQty:                 record.HUQty,
		Location:              record.Location,
		PickedBy:              actor.UserID,
		Status:                stock.PickupCompleted,
	})
	if err != nil {
		return fmt.Errorf("allocation: create pickup: %w", err)
	}
	return nil
}

// BulkTransition applies changes strictly in order; each one sees the state
// left by the previous. Failures are reported per item.
func (s *Service) BulkTransition(ctx context.Context, actor shared.Actor, changes []StatusChange) BatchResult {
	results := make([]ItemResult, 0, len(changes))
	for _, change := range changes {
		record, err := s.Transition(ctx, actor, change)
		if err != nil {
			s.logFailure(ctx, "bulk transition", actor, change.RecordID, err)
			results = append(results, itemFailure(change.RecordID, err))
			continue
		}
		results = append(results, itemSuccess(record))
	}
	return newBatchResult(results)
}

// BulkUpdateLocation moves records concurrently. Location changes have no
// side effects, so their order does not matter.
func (s *Service) BulkUpdateLocation(ctx context.Context, actor shared.Actor, changes []LocationChange) BatchResult {
	results := make([]ItemResult, len(changes))
	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, change := range changes {
		g.Go(func() error {
			if err := shared.ValidateStruct(change); err != nil {
				results[i] = itemFailure(change.RecordID, err)
				return nil
			}
			record, err := s.store.UpdateLocation(ctx, actor.TenantID, change.RecordID, change.Location)
			if err != nil {
				s.logFailure(ctx, "bulk location update", actor, change.RecordID, err)
				results[i] = itemFailure(change.RecordID, err)
				return nil
			}
			results[i] = itemSuccess(record)
			return nil
		})
	}
	_ = g.Wait()

	out := newBatchResult(results)
	if out.Successful > 0 {
		s.afterMutation(ctx, actor, "stock.relocate", "stock_record", "bulk", map[string]any{
			"successful": out.Successful,
			"failed":     out.Failed,
		})
	}
	return out
}

// DispatchOrder moves every picked record of an order to dispatched. It is the
// only way stock reaches dispatched.
func (s *Service) DispatchOrder(ctx context.Context, actor shared.Actor, orderID string) (BatchResult, error) {
	lines, err := s.store.ListDemandLines(ctx, actor.TenantID, orderID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("allocation: list demand lines: %w", err)
	}
	if len(lines) == 0 {
		return BatchResult{}, fmt.Errorf("order %s: %w", orderID, stock.ErrNotFound)
	}
	records, err := s.store.ListRecords(ctx, stock.RecordFilter{
		TenantID:            actor.TenantID,
		OutboundInventoryID: orderID,
		Statuses:            []stock.Status{stock.StatusPicked},
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("allocation: list picked records: %w", err)
	}

	results := make([]ItemResult, 0, len(records))
	for _, record := range records {
		next := stock.CommitmentOf(record)
		next.Status = stock.StatusDispatched
		updated, err := s.store.UpdateIfStatus(ctx, actor.TenantID, record.ID, stock.StatusPicked, next)
		outcome := "success"
		if err != nil {
			outcome = stock.ErrorCode(err)
			s.logFailure(ctx, "dispatch", actor, record.ID, err)
			results = append(results, itemFailure(record.ID, err))
		} else {
			results = append(results, itemSuccess(updated))
		}
		s.deps.Metrics.ObserveTransition(string(stock.StatusPicked), string(stock.StatusDispatched), outcome)
	}

	out := newBatchResult(results)
	if out.Successful > 0 {
		s.afterMutation(ctx, actor, "stock.dispatch", "outbound_order", orderID, map[string]any{
			"dispatched": out.Successful,
		})
	}
	return out, nil
}

func (s *Service) logFailure(ctx context.Context, op string, actor shared.Actor, recordID string, err error) {
	level := slog.LevelWarn
	if stock.ErrorCode(err) == "internal" && !errors.Is(err, context.Canceled) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, op+" failed",
		slog.String("tenant_id", actor.TenantID),
		slog.String("record_id", recordID),
		slog.Any("error", err))
}
