package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Material is a raw-material stock record. QuantityOnHand is mutated only by
// the reconciliation workflow; it never goes below zero (deductions clamp).
type Material struct {
	ID              int             `gorm:"primary_key" json:"id"`
	Name            string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit            string          `gorm:"size:20" json:"unit"`
	QuantityOnHand  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_on_hand"`
	MinStockLevel   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock_level"`
	OpeningQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_quantity"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj Material) GetId() int {
	return obj.ID
}

func materialCacheKey(id int) string {
	return "Material:" + fmt.Sprint(id)
}

func GetMaterial(ctx context.Context, id int) (*Material, error) {
	var result Material
	if found, err := config.GetRedisObject(materialCacheKey(id), &result); err == nil && found {
		return &result, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	_ = config.SetRedisObject(materialCacheKey(id), result, time.Hour)
	return &result, nil
}

func GetMaterialForUpdate(tx *gorm.DB, id int) (*Material, error) {
	var result Material
	err := tx.Clauses(lockForUpdate()).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetMaterials(ctx context.Context) ([]*Material, error) {
	db := config.GetDB()
	var results []*Material

	err := db.WithContext(ctx).Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateMaterialQuantity sets the absolute on-hand quantity and drops the
// cached copy so the next snapshot read is fresh.
func UpdateMaterialQuantity(tx *gorm.DB, id int, quantity decimal.Decimal) error {
	err := tx.Model(&Material{}).
		Where("id = ?", id).
		Update("quantity_on_hand", quantity).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(materialCacheKey(id))
}
