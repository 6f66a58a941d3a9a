package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/craftfocus/console_backend/models"
	"github.com/sirupsen/logrus"
)

// SessionCoordinator is the persistence side of an edit session: it feeds the
// session BOM data and snapshots, applies delete restorations to the live
// store, and commits the submit batch. The session itself stays pure.
type SessionCoordinator struct {
	Materials MaterialStore
	Ledger    LedgerStore
	Catalog   ProductCatalog
	Locker    OrderLocker
	Tx        TxRunner
	Logger    *logrus.Logger
}

// Begin opens a session over the current stock levels. The existing items are
// the order's persisted lines; their footprints were already deducted.
func (c *SessionCoordinator) Begin(ctx context.Context, existing []models.OrderLineItem) (*EditSession, error) {
	snapshot, err := c.Materials.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	lines := make([]SessionLine, 0, len(existing))
	for i, item := range existing {
		footprint, err := lineFootprint(ctx, c.Catalog, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, SessionLine{
			Key:       fmt.Sprintf("line-%d", i+1),
			Item:      item,
			Footprint: footprint,
		})
	}
	return NewEditSession(snapshot, lines), nil
}

// Edit validates and applies one add/edit. Nothing is persisted.
func (c *SessionCoordinator) Edit(ctx context.Context, session *EditSession, key string, item models.OrderLineItem) (AvailabilityResult, error) {
	var bom []models.BillOfMaterialsLine
	if item.ProductId != nil && *item.ProductId > 0 {
		var err error
		bom, err = c.Catalog.GetBOM(ctx, *item.ProductId)
		if err != nil {
			return AvailabilityResult{}, err
		}
	}
	return session.ApplyEdit(key, item, bom)
}

// Delete restores the deleted line's footprint to the live store immediately
// and records the restoration in the ledger, then marks the session so submit
// will not restore it again. Delete acts now; other edits act at submit.
func (c *SessionCoordinator) Delete(ctx context.Context, session *EditSession, orderTag string, key string) error {
	restore := session.PendingRestore(key)

	err := c.Locker.WithOrderLock(ctx, orderTag, func() error {
		return c.Tx.InTransaction(ctx, func(txCtx context.Context) error {
			for _, materialId := range sortedMaterialIds(restore) {
				quantity := restore[materialId]
				if !quantity.IsPositive() {
					continue
				}
				material, err := c.Materials.Get(txCtx, materialId)
				if err != nil {
					return err
				}
				if err := c.Materials.UpdateQuantity(txCtx, materialId, material.QuantityOnHand.Add(quantity)); err != nil {
					return err
				}
				if err := c.Ledger.Append(txCtx, &models.LedgerEntry{
					OrderTag:   orderTag,
					MaterialId: materialId,
					Direction:  models.LedgerDirectionIn,
					Quantity:   quantity,
					Reason:     "line item removed",
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		// Stock and session are both untouched; the caller may retry.
		return err
	}
	return session.ApplyDelete(key)
}

// Submit commits the session's net deltas in one batch. On failure the
// session keeps its restoration tracking so a retry does not double-restore.
func (c *SessionCoordinator) Submit(ctx context.Context, session *EditSession, orderTag string) ([]StockDelta, error) {
	deltas := session.ComputeSubmitDeltas()
	if len(deltas) == 0 {
		return deltas, nil
	}

	err := c.Locker.WithOrderLock(ctx, orderTag, func() error {
		return c.Tx.InTransaction(ctx, func(txCtx context.Context) error {
			for _, delta := range deltas {
				if err := c.Materials.UpdateQuantity(txCtx, delta.MaterialId, delta.NewQuantity); err != nil {
					return err
				}

				// The entry records only the gap between the order's target
				// net movement and what the ledger already holds, so a retry
				// after a failure later in the request finds no gap and
				// appends nothing.
				out, err := c.Ledger.SumMovement(txCtx, orderTag, delta.MaterialId, models.LedgerDirectionOut)
				if err != nil {
					return err
				}
				in, err := c.Ledger.SumMovement(txCtx, orderTag, delta.MaterialId, models.LedgerDirectionIn)
				if err != nil {
					return err
				}
				quantity := delta.TargetNet.Sub(out.Sub(in))
				if quantity.IsZero() {
					continue
				}
				direction := models.LedgerDirectionOut
				if quantity.IsNegative() {
					direction = models.LedgerDirectionIn
					quantity = quantity.Neg()
				}
				if err := c.Ledger.Append(txCtx, &models.LedgerEntry{
					OrderTag:   orderTag,
					MaterialId: delta.MaterialId,
					Direction:  direction,
					Quantity:   quantity,
					Reason:     "order items submitted",
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deltas, nil
}
