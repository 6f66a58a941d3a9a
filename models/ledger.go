package models

import (
	"context"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntry is one append-only stock movement. Rows are never mutated or
// deleted; the cumulative already-moved quantity for an (order_tag,
// material_id) pair is always derived by summing matching rows, never stored
// as a counter, so it stays reconstructable and auditable.
type LedgerEntry struct {
	ID         string          `gorm:"size:36;primary_key" json:"id"` // uuid
	OrderTag   string          `gorm:"size:40;index:idx_ledger_tag_material,priority:1;not null" json:"order_tag"`
	MaterialId int             `gorm:"index:idx_ledger_tag_material,priority:2;not null" json:"material_id"`
	Direction  LedgerDirection `gorm:"type:enum('in','out');not null" json:"direction"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Reason     string          `gorm:"size:255" json:"reason"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func AppendLedgerEntry(tx *gorm.DB, entry *LedgerEntry) error {
	return tx.Create(entry).Error
}

// SumLedgerMovement derives the cumulative quantity moved in one direction
// for an (orderTag, materialId) pair.
func SumLedgerMovement(tx *gorm.DB, orderTag string, materialId int, direction LedgerDirection) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&LedgerEntry{}).
		Select("SUM(quantity)").
		Where("order_tag = ? AND material_id = ? AND direction = ?", orderTag, materialId, direction).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

type ledgerMaterialSum struct {
	MaterialId int             `gorm:"column:material_id"`
	Direction  LedgerDirection `gorm:"column:direction"`
	Total      decimal.Decimal `gorm:"column:total"`
}

// NetLedgerMovementByMaterial returns out-minus-in per material for an order
// tag. A fully restored order nets to zero, which is what lets re-approval
// start its ratio math from scratch.
func NetLedgerMovementByMaterial(tx *gorm.DB, orderTag string) (map[int]decimal.Decimal, error) {
	var rows []ledgerMaterialSum
	err := tx.Model(&LedgerEntry{}).
		Select("material_id, direction, SUM(quantity) AS total").
		Where("order_tag = ?", orderTag).
		Group("material_id, direction").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	net := map[int]decimal.Decimal{}
	for _, row := range rows {
		cur := net[row.MaterialId]
		if row.Direction == LedgerDirectionOut {
			net[row.MaterialId] = cur.Add(row.Total)
		} else {
			net[row.MaterialId] = cur.Sub(row.Total)
		}
	}
	return net, nil
}

// NetLedgerMovementForMaterial sums every entry for one material across all
// orders (used by the inventory rebuild tool).
func NetLedgerMovementForMaterial(ctx context.Context, materialId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var rows []ledgerMaterialSum
	err := db.WithContext(ctx).Model(&LedgerEntry{}).
		Select("material_id, direction, SUM(quantity) AS total").
		Where("material_id = ?", materialId).
		Group("material_id, direction").
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	net := decimal.Zero
	for _, row := range rows {
		if row.Direction == LedgerDirectionOut {
			net = net.Add(row.Total)
		} else {
			net = net.Sub(row.Total)
		}
	}
	return net, nil
}
