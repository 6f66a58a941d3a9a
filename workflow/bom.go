package workflow

import (
	"context"
	"sort"

	"bitbucket.org/craftfocus/console_backend/models"
	"github.com/shopspring/decimal"
)

// ResolveBOM expands (productId, quantity) into per-material requirements
// with current availability attached. A product without tracked materials
// (a service, say) resolves to an empty list.
func ResolveBOM(ctx context.Context, catalog ProductCatalog, materials MaterialStore, productId int, quantity decimal.Decimal) ([]MaterialRequirement, error) {
	lines, err := catalog.GetBOM(ctx, productId)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []MaterialRequirement{}, nil
	}

	snapshot, err := materials.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	requirements := make([]MaterialRequirement, 0, len(lines))
	for _, line := range lines {
		level := snapshot[line.MaterialId]
		requirements = append(requirements, MaterialRequirement{
			MaterialId:     line.MaterialId,
			MaterialName:   level.Name,
			QuantityNeeded: line.QuantityPerUnit.Mul(quantity),
			Available:      level.Quantity,
		})
	}
	return requirements, nil
}

// lineFootprint converts one order line into its material footprint
// (quantity_per_unit * line quantity per material). Custom lines, which have
// no resolvable product, have no footprint.
func lineFootprint(ctx context.Context, catalog ProductCatalog, item models.OrderLineItem) (map[int]decimal.Decimal, error) {
	if item.ProductId == nil || *item.ProductId <= 0 {
		return map[int]decimal.Decimal{}, nil
	}
	lines, err := catalog.GetBOM(ctx, *item.ProductId)
	if err != nil {
		return nil, err
	}

	footprint := make(map[int]decimal.Decimal, len(lines))
	for _, line := range lines {
		needed := line.QuantityPerUnit.Mul(item.Quantity)
		footprint[line.MaterialId] = footprint[line.MaterialId].Add(needed)
	}
	return footprint, nil
}

// aggregateRequirements merges the footprints of every BOM-backed line item
// into a per-material total.
func aggregateRequirements(ctx context.Context, catalog ProductCatalog, items []models.OrderLineItem) (map[int]decimal.Decimal, error) {
	needed := map[int]decimal.Decimal{}
	for _, item := range items {
		footprint, err := lineFootprint(ctx, catalog, item)
		if err != nil {
			return nil, err
		}
		for materialId, quantity := range footprint {
			needed[materialId] = needed[materialId].Add(quantity)
		}
	}
	return needed, nil
}

// CheckOrderAvailability is the dry-run validation for a whole set of line
// items against live stock. Nothing is deducted.
func CheckOrderAvailability(ctx context.Context, catalog ProductCatalog, materials MaterialStore, items []models.OrderLineItem) (AvailabilityResult, error) {
	needed, err := aggregateRequirements(ctx, catalog, items)
	if err != nil {
		return AvailabilityResult{}, err
	}
	snapshot, err := materials.Snapshot(ctx)
	if err != nil {
		return AvailabilityResult{}, err
	}
	return ValidateAvailability(needed, snapshot), nil
}

func sortedMaterialIds[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
