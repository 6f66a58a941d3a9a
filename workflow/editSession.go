package workflow

import (
	"fmt"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
)

// SessionLine is one line item inside an edit session plus its material
// footprint (quantity_per_unit * quantity per material). Custom lines carry
// an empty footprint: they are priced but never validated or deducted.
type SessionLine struct {
	Key       string
	Item      models.OrderLineItem
	Footprint map[int]decimal.Decimal
}

// StockDelta is one material's submit outcome: the absolute quantity to
// persist, the net movement relative to what this order had already deducted
// (positive = additional stock-out), and the net ledger movement the order
// must show for the material once the submit lands.
type StockDelta struct {
	MaterialId  int
	NewQuantity decimal.Decimal
	Movement    decimal.Decimal
	TargetNet   decimal.Decimal
}

// EditSession holds the speculative state of one order form. It never touches
// the persisted Material store itself; edits are validated against a virtual
// snapshot, deletes hand back restore quantities for the coordinator to apply
// live, and submit emits one batch of absolute updates. Abandoning the
// session (dialog closed) simply drops the value; nothing was persisted.
type EditSession struct {
	snapshot map[int]MaterialLevel
	lines    map[string]*SessionLine
	original map[string]map[int]decimal.Decimal
	restored map[string]bool
}

// NewEditSession starts a session over a stock snapshot. Existing lines are
// ones already persisted for the order being edited; their footprints were
// already deducted from the snapshot's quantities.
func NewEditSession(snapshot map[int]MaterialLevel, existing []SessionLine) *EditSession {
	s := &EditSession{
		snapshot: snapshot,
		lines:    map[string]*SessionLine{},
		original: map[string]map[int]decimal.Decimal{},
		restored: map[string]bool{},
	}
	for i := range existing {
		line := existing[i]
		s.lines[line.Key] = &line
		s.original[line.Key] = copyFootprint(line.Footprint)
	}
	return s
}

func copyFootprint(footprint map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(footprint))
	for id, qty := range footprint {
		out[id] = qty
	}
	return out
}

// baseQuantity is the stock the session perceives for a material as if the
// order consumed nothing: the session-start snapshot plus every footprint the
// order had already deducted before the session opened. Using this fixed
// baseline is what keeps repeated edits of the same line from compounding.
func (s *EditSession) baseQuantity(materialId int) decimal.Decimal {
	base := s.snapshot[materialId].Quantity
	for _, footprint := range s.original {
		base = base.Add(footprint[materialId])
	}
	return base
}

// virtualLevels builds the speculative snapshot used to validate one line:
// base stock minus the footprint of every *other* current line. The edited
// line's own previous footprint is thereby un-applied before validation.
func (s *EditSession) virtualLevels(excludeKey string, materialIds []int) map[int]MaterialLevel {
	levels := make(map[int]MaterialLevel, len(materialIds))
	for _, id := range materialIds {
		available := s.baseQuantity(id)
		for key, line := range s.lines {
			if key == excludeKey {
				continue
			}
			available = available.Sub(line.Footprint[id])
		}
		level := s.snapshot[id]
		levels[id] = MaterialLevel{
			MaterialId:    id,
			Name:          level.Name,
			Quantity:      available,
			MinStockLevel: level.MinStockLevel,
		}
	}
	return levels
}

// ApplyEdit adds or replaces a line after validating its footprint against
// the virtual snapshot. A blocked validation rejects the edit atomically:
// the session is left untouched and the result says what was missing.
func (s *EditSession) ApplyEdit(key string, item models.OrderLineItem, bom []models.BillOfMaterialsLine) (AvailabilityResult, error) {
	footprint := map[int]decimal.Decimal{}
	if item.ProductId != nil && *item.ProductId > 0 {
		for _, line := range bom {
			footprint[line.MaterialId] = footprint[line.MaterialId].Add(line.QuantityPerUnit.Mul(item.Quantity))
		}
	}

	result := ValidateAvailability(footprint, s.virtualLevels(key, sortedMaterialIds(footprint)))
	if result.Blocked() {
		return result, utils.ErrorInsufficientStock
	}

	s.lines[key] = &SessionLine{Key: key, Item: item, Footprint: footprint}
	return result, nil
}

// PendingRestore reports what deleting a line must put back into the live
// store right now: the footprint the line had when the session opened, unless
// it was already restored. Lines added during the session never deducted
// anything, so they restore nothing.
func (s *EditSession) PendingRestore(key string) map[int]decimal.Decimal {
	if s.restored[key] {
		return map[int]decimal.Decimal{}
	}
	return copyFootprint(s.original[key])
}

// ApplyDelete removes a line and marks its original footprint restored, so a
// later submit does not restore it a second time. The caller must have
// applied PendingRestore to the live store first.
func (s *EditSession) ApplyDelete(key string) error {
	if _, ok := s.lines[key]; !ok {
		return fmt.Errorf("no line item %q in session", key)
	}
	delete(s.lines, key)
	if _, hadOriginal := s.original[key]; hadOriginal {
		s.restored[key] = true
	}
	return nil
}

// Lines returns the current line items in an unspecified order.
func (s *EditSession) Lines() []models.OrderLineItem {
	items := make([]models.OrderLineItem, 0, len(s.lines))
	for _, line := range s.lines {
		items = append(items, line.Item)
	}
	return items
}

// ComputeSubmitDeltas reconciles the session against its start snapshot: per
// material, the absolute new quantity is base stock minus the footprint of
// every current line, and the movement is the current footprint net of what
// the order had already moved and not restored. Restorations issued during
// the session are excluded from the movement so they are never re-applied.
func (s *EditSession) ComputeSubmitDeltas() []StockDelta {
	touched := map[int]bool{}
	current := map[int]decimal.Decimal{}
	notRestored := map[int]decimal.Decimal{}

	for _, line := range s.lines {
		for id, qty := range line.Footprint {
			current[id] = current[id].Add(qty)
			touched[id] = true
		}
	}
	for key, footprint := range s.original {
		for id, qty := range footprint {
			touched[id] = true
			if !s.restored[key] {
				notRestored[id] = notRestored[id].Add(qty)
			}
		}
	}

	deltas := make([]StockDelta, 0, len(touched))
	for _, id := range sortedMaterialIds(touched) {
		movement := current[id].Sub(notRestored[id])
		if movement.IsZero() {
			// Zero movement means the live quantity is already where submit
			// would put it.
			continue
		}
		deltas = append(deltas, StockDelta{
			MaterialId:  id,
			NewQuantity: s.baseQuantity(id).Sub(current[id]),
			Movement:    movement,
			TargetNet:   current[id],
		})
	}
	return deltas
}
