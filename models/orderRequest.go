package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderRequest is the client-facing half of the order lifecycle: created
// Pending, terminal once Approved (which spawns a ClientOrder) or Rejected.
// Items are fixed at submit time and replaced wholesale on edit, never merged.
type OrderRequest struct {
	ID             int                `gorm:"primary_key" json:"id"`
	ClientId       int                `gorm:"index;not null" json:"client_id" binding:"required"`
	Status         OrderRequestStatus `gorm:"type:enum('Pending','Approved','Rejected');not null" json:"status"`
	TotalAmount    decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	HasPaymentPlan *bool              `gorm:"not null;default:false" json:"has_payment_plan"`
	Notes          string             `gorm:"type:text" json:"notes"`
	Items          []OrderLineItem    `gorm:"polymorphic:Reference" json:"items"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderLineItem belongs to an OrderRequest or a ClientOrder. ProductId is nil
// for ad hoc/custom items: those are priced but never consume BOM materials,
// so they never touch the ledger.
type OrderLineItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ReferenceType string          `gorm:"size:30;index" json:"reference_type"`
	ReferenceID   int             `gorm:"index" json:"reference_id"`
	ProductId     *int            `json:"product_id"`
	ProductName   string          `gorm:"size:100;not null" json:"product_name" binding:"required"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity" binding:"required"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
}

type NewOrderRequest struct {
	ClientId       int                `json:"client_id" binding:"required"`
	HasPaymentPlan *bool              `json:"has_payment_plan"`
	Notes          string             `json:"notes"`
	Items          []NewOrderLineItem `json:"items" binding:"required,dive"`
}

type NewOrderLineItem struct {
	ProductId   *int            `json:"product_id"`
	ProductName string          `json:"product_name" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (obj OrderRequest) GetId() int {
	return obj.ID
}

// Tag identifies this request in the inventory ledger.
func (r OrderRequest) Tag() string {
	return fmt.Sprintf("RQ-%d", r.ID)
}

func (input *NewOrderRequest) Validate() error {
	if len(input.Items) == 0 {
		return errors.New("order request requires at least one line item")
	}
	for _, item := range input.Items {
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("line item %q must have a positive quantity", item.ProductName)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("line item %q must not have a negative unit price", item.ProductName)
		}
	}
	return nil
}

// BuildLineItems converts inputs into line items, enforcing
// total_price == unit_price * quantity.
func BuildLineItems(inputs []NewOrderLineItem) []OrderLineItem {
	items := make([]OrderLineItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, OrderLineItem{
			ProductId:   in.ProductId,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TotalPrice:  in.UnitPrice.Mul(in.Quantity),
		})
	}
	return items
}

func SumLineItemTotal(items []OrderLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

func CreateOrderRequest(ctx context.Context, input *NewOrderRequest) (*OrderRequest, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	items := BuildLineItems(input.Items)
	request := OrderRequest{
		ClientId:       input.ClientId,
		Status:         OrderRequestStatusPending,
		HasPaymentPlan: input.HasPaymentPlan,
		Notes:          input.Notes,
		Items:          items,
		TotalAmount:    SumLineItemTotal(items),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&request).Error; err != nil {
			return err
		}
		return SaveStatusHistory(tx, "OrderRequest", request.ID, "", string(OrderRequestStatusPending), "order request submitted")
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// CreateOrderRequestTx is the in-transaction variant used when a reversion
// regenerates a request from a retired order.
func CreateOrderRequestTx(tx *gorm.DB, request *OrderRequest) error {
	request.Status = OrderRequestStatusPending
	request.TotalAmount = SumLineItemTotal(request.Items)
	return tx.Create(request).Error
}

func GetOrderRequest(ctx context.Context, id int) (*OrderRequest, error) {
	db := config.GetDB()
	var result OrderRequest

	err := db.WithContext(ctx).Preload("Items").First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetOrderRequestForUpdate(tx *gorm.DB, id int) (*OrderRequest, error) {
	var result OrderRequest
	err := tx.Clauses(lockForUpdate()).Preload("Items").First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// ReplaceOrderRequestItems swaps the request's items wholesale (edits never
// merge) and recomputes the total. Only Pending requests may be edited.
func ReplaceOrderRequestItems(ctx context.Context, id int, inputs []NewOrderLineItem) (*OrderRequest, error) {
	db := config.GetDB()
	var request *OrderRequest

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = GetOrderRequestForUpdate(tx, id)
		if err != nil {
			return err
		}
		if request.Status != OrderRequestStatusPending {
			return fmt.Errorf("cannot edit order request in status %s", request.Status)
		}

		if err := tx.Where("reference_type = ? AND reference_id = ?", "order_requests", id).
			Delete(&OrderLineItem{}).Error; err != nil {
			return err
		}

		items := BuildLineItems(inputs)
		for i := range items {
			items[i].ReferenceType = "order_requests"
			items[i].ReferenceID = id
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		request.Items = items
		request.TotalAmount = SumLineItemTotal(items)
		return tx.Model(&OrderRequest{}).
			Where("id = ?", id).
			Update("total_amount", request.TotalAmount).Error
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func UpdateOrderRequestStatus(tx *gorm.DB, id int, status OrderRequestStatus) error {
	return tx.Model(&OrderRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}
