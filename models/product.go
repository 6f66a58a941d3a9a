package models

import (
	"context"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int                   `gorm:"primary_key" json:"id"`
	Name        string                `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string                `gorm:"type:text" json:"description"`
	SalesPrice  decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	IsActive    *bool                 `gorm:"not null;default:true" json:"is_active"`
	BomLines    []BillOfMaterialsLine `gorm:"foreignKey:ProductId" json:"bom_lines"`
	CreatedAt   time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillOfMaterialsLine is immutable reference data owned by Product:
// quantity_per_unit > 0 of one material per produced unit.
type BillOfMaterialsLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       int             `gorm:"index;not null" json:"product_id" binding:"required"`
	MaterialId      int             `gorm:"index;not null" json:"material_id" binding:"required"`
	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_per_unit" binding:"required"`
}

func (obj Product) GetId() int {
	return obj.ID
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	var result Product

	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// GetProductBOM returns the product's BOM lines. A product with no tracked
// materials (a service, for example) yields an empty list, not an error.
func GetProductBOM(ctx context.Context, productId int) ([]BillOfMaterialsLine, error) {
	db := config.GetDB()
	var lines []BillOfMaterialsLine

	err := db.WithContext(ctx).
		Where("product_id = ?", productId).
		Order("material_id").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
