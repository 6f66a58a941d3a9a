package workflow

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MaterialAvailability is one material's classification inside a validation
// result.
type MaterialAvailability struct {
	MaterialId     int
	MaterialName   string
	QuantityNeeded decimal.Decimal
	Available      decimal.Decimal
	RemainingAfter decimal.Decimal
}

func (a MaterialAvailability) String() string {
	return fmt.Sprintf("%s (need %s, have %s)", a.MaterialName, a.QuantityNeeded.String(), a.Available.String())
}

// AvailabilityResult partitions requirements into sufficient / lowStock /
// outOfStock. OutOfStock blocks the caller; lowStock is advisory only.
type AvailabilityResult struct {
	Sufficient []MaterialAvailability
	LowStock   []MaterialAvailability
	OutOfStock []MaterialAvailability
}

func (r AvailabilityResult) Blocked() bool {
	return len(r.OutOfStock) > 0
}

func (r AvailabilityResult) OutOfStockMessages() []string {
	messages := make([]string, 0, len(r.OutOfStock))
	for _, a := range r.OutOfStock {
		messages = append(messages, a.String())
	}
	return messages
}

func (r AvailabilityResult) LowStockMessages() []string {
	messages := make([]string, 0, len(r.LowStock))
	for _, a := range r.LowStock {
		messages = append(messages, a.String())
	}
	return messages
}

// ValidateAvailability classifies each needed material against a snapshot.
// A material left exactly at its minimum stock level counts as low, not
// insufficient. Materials absent from the snapshot are treated as zero stock.
func ValidateAvailability(needed map[int]decimal.Decimal, snapshot map[int]MaterialLevel) AvailabilityResult {
	var result AvailabilityResult

	materialIds := make([]int, 0, len(needed))
	for id := range needed {
		materialIds = append(materialIds, id)
	}
	sort.Ints(materialIds)

	for _, id := range materialIds {
		quantityNeeded := needed[id]
		if quantityNeeded.IsZero() {
			continue
		}

		level, ok := snapshot[id]
		if !ok {
			level = MaterialLevel{MaterialId: id, Name: fmt.Sprintf("material %d", id)}
		}

		availability := MaterialAvailability{
			MaterialId:     id,
			MaterialName:   level.Name,
			QuantityNeeded: quantityNeeded,
			Available:      level.Quantity,
			RemainingAfter: level.Quantity.Sub(quantityNeeded),
		}

		switch {
		case availability.RemainingAfter.IsNegative():
			result.OutOfStock = append(result.OutOfStock, availability)
		case availability.RemainingAfter.LessThanOrEqual(level.MinStockLevel):
			result.LowStock = append(result.LowStock, availability)
		default:
			result.Sufficient = append(result.Sufficient, availability)
		}
	}
	return result
}
