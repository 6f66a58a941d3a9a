package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine is the single authority that turns a business event (approval,
// payment, rejection, reversion) into ledger-accurate stock movement. It
// never caches a baseline: already-moved quantities are recomputed from the
// ledger on every call, which is what makes replays and retries no-ops.
type Engine struct {
	Materials MaterialStore
	Ledger    LedgerStore
	Catalog   ProductCatalog
	Logger    *logrus.Logger
}

// ReconcileOrder is the slice of an order the engine needs.
type ReconcileOrder struct {
	Tag            string
	Items          []models.OrderLineItem
	Amount         decimal.Decimal
	PaidAmount     decimal.Decimal
	HasPaymentPlan bool
}

// OrderForReconcile projects a ClientOrder for the engine.
func OrderForReconcile(order *models.ClientOrder) ReconcileOrder {
	return ReconcileOrder{
		Tag:            order.Tag(),
		Items:          order.Items,
		Amount:         order.Amount,
		PaidAmount:     order.PaidAmount,
		HasPaymentPlan: utils.DereferencePtr(order.HasPaymentPlan),
	}
}

// Movement is one ledger-recorded stock change the engine applied.
type Movement struct {
	MaterialId int
	Direction  models.LedgerDirection
	Quantity   decimal.Decimal
	Clamped    bool
}

// ReconcileResult reports what moved and every condition the engine tolerated
// but must surface (clamped deductions, skipped materials).
type ReconcileResult struct {
	Movements []Movement
	Warnings  []string
}

// Partial reports whether the reconciliation succeeded with warnings.
func (r *ReconcileResult) Partial() bool {
	return len(r.Warnings) > 0
}

func (r *ReconcileResult) warnf(logger *logrus.Logger, funcName string, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, message)
	config.LogWarn(logger, "workflow", funcName, message, nil)
}

func (ord ReconcileOrder) paidRatio() decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !ord.HasPaymentPlan {
		return one
	}
	if !ord.Amount.IsPositive() {
		// A zero-amount order has no meaningful partial-payment concept.
		return one
	}
	ratio := ord.PaidAmount.Div(ord.Amount)
	if ratio.GreaterThan(one) {
		return one
	}
	return ratio
}

// Reconcile brings the order's actual deductions in line with its current
// paid ratio. Approval and payment events both land here; they are the same
// "paid ratio changed" trigger. For each required material it deducts
// max(0, floor(totalNeeded*paidRatio) - alreadyMoved), clamping at zero stock
// and recording one ledger entry per material actually moved.
func (e *Engine) Reconcile(ctx context.Context, ord ReconcileOrder, reason string) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	needed, err := aggregateRequirements(ctx, e.Catalog, ord.Items)
	if err != nil {
		return nil, err
	}

	ratio := ord.paidRatio()
	for _, materialId := range sortedMaterialIds(needed) {
		totalNeeded := needed[materialId]
		if totalNeeded.IsZero() {
			continue
		}

		alreadyMoved, err := e.netMoved(ctx, ord.Tag, materialId)
		if err != nil {
			return nil, err
		}

		targetMoved := totalNeeded.Mul(ratio).Floor()
		delta := targetMoved.Sub(alreadyMoved)
		if delta.IsNegative() {
			// Never applied blindly: treat as a no-op.
			result.warnf(e.Logger, "Reconcile",
				"order %s material %d: ledger net %s is ahead of target %s, usually a speculative submit running ahead of the paid ratio; no-op",
				ord.Tag, materialId, alreadyMoved.String(), targetMoved.String())
			continue
		}
		if delta.IsZero() {
			continue
		}

		material, err := e.Materials.Get(ctx, materialId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				result.warnf(e.Logger, "Reconcile",
					"order %s: material %d missing; skipped", ord.Tag, materialId)
				continue
			}
			return nil, utils.WrapPersistence("material read", err)
		}

		applied := delta
		clamped := false
		if material.QuantityOnHand.LessThan(delta) {
			applied = material.QuantityOnHand
			clamped = true
			result.warnf(e.Logger, "Reconcile",
				"order %s material %d: deduction clamped to %s (wanted %s)",
				ord.Tag, materialId, applied.String(), delta.String())
		}
		if !applied.IsPositive() {
			continue
		}

		if err := e.Materials.UpdateQuantity(ctx, materialId, material.QuantityOnHand.Sub(applied)); err != nil {
			return nil, utils.WrapPersistence("material update", err)
		}
		if err := e.Ledger.Append(ctx, &models.LedgerEntry{
			OrderTag:   ord.Tag,
			MaterialId: materialId,
			Direction:  models.LedgerDirectionOut,
			Quantity:   applied,
			Reason:     reason,
		}); err != nil {
			return nil, err
		}

		result.Movements = append(result.Movements, Movement{
			MaterialId: materialId,
			Direction:  models.LedgerDirectionOut,
			Quantity:   applied,
			Clamped:    clamped,
		})
	}
	return result, nil
}

// Restore returns the full quantity previously moved for this order, per
// material, bringing inventory back to its pre-order state. The restore is
// not ratio-based: whatever the ledger says was moved comes back, and the
// balancing "in" entries zero the order's ledger contribution so a later
// re-approval starts its ratio math from scratch.
func (e *Engine) Restore(ctx context.Context, orderTag string, reason string) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	net, err := e.Ledger.NetMovementByMaterial(ctx, orderTag)
	if err != nil {
		return nil, err
	}

	for _, materialId := range sortedMaterialIds(net) {
		moved := net[materialId]
		if !moved.IsPositive() {
			continue
		}

		material, err := e.Materials.Get(ctx, materialId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				result.warnf(e.Logger, "Restore",
					"order %s: material %d missing; skipped", orderTag, materialId)
				continue
			}
			return nil, utils.WrapPersistence("material read", err)
		}

		if err := e.Materials.UpdateQuantity(ctx, materialId, material.QuantityOnHand.Add(moved)); err != nil {
			return nil, utils.WrapPersistence("material update", err)
		}
		if err := e.Ledger.Append(ctx, &models.LedgerEntry{
			OrderTag:   orderTag,
			MaterialId: materialId,
			Direction:  models.LedgerDirectionIn,
			Quantity:   moved,
			Reason:     reason,
		}); err != nil {
			return nil, err
		}

		result.Movements = append(result.Movements, Movement{
			MaterialId: materialId,
			Direction:  models.LedgerDirectionIn,
			Quantity:   moved,
		})
	}
	return result, nil
}

func (e *Engine) netMoved(ctx context.Context, orderTag string, materialId int) (decimal.Decimal, error) {
	out, err := e.Ledger.SumMovement(ctx, orderTag, materialId, models.LedgerDirectionOut)
	if err != nil {
		return decimal.Zero, err
	}
	in, err := e.Ledger.SumMovement(ctx, orderTag, materialId, models.LedgerDirectionIn)
	if err != nil {
		return decimal.Zero, err
	}
	return out.Sub(in), nil
}
