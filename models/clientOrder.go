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

// ClientOrder is derived from an OrderRequest on approval and carries its own
// status machine from then on.
type ClientOrder struct {
	ID             int               `gorm:"primary_key" json:"id"`
	RequestId      *int              `gorm:"index" json:"request_id"`
	ClientId       int               `gorm:"index;not null" json:"client_id"`
	Amount         decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"amount"`
	PaidAmount     decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	HasPaymentPlan *bool             `gorm:"not null;default:false" json:"has_payment_plan"`
	Status         ClientOrderStatus `gorm:"type:enum('Pending','Approved','Partially Paid','Completed','Rejected');not null" json:"status"`
	Items          []OrderLineItem   `gorm:"polymorphic:Reference" json:"items"`
	Payments       []Payment         `gorm:"foreignKey:OrderId" json:"payments"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj ClientOrder) GetId() int {
	return obj.ID
}

// Tag identifies this order in the inventory ledger. An order spawned from a
// request keeps the request's tag so movements recorded before approval stay
// in the same baseline.
func (o ClientOrder) Tag() string {
	if o.RequestId != nil && *o.RequestId > 0 {
		return fmt.Sprintf("RQ-%d", *o.RequestId)
	}
	return fmt.Sprintf("CO-%d", o.ID)
}

func (o *ClientOrder) RemainingAmount() decimal.Decimal {
	return o.Amount.Sub(o.PaidAmount)
}

// PaidRatio drives proportional stock-out. Without a payment plan approval
// deducts in full, and a zero-amount order has no meaningful partial-payment
// concept, so both cases are a ratio of 1. Overpayment is capped at 1.
func (o *ClientOrder) PaidRatio() decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !utils.DereferencePtr(o.HasPaymentPlan) {
		return one
	}
	if !o.Amount.IsPositive() {
		return one
	}
	ratio := o.PaidAmount.Div(o.Amount)
	if ratio.GreaterThan(one) {
		return one
	}
	return ratio
}

// CreateClientOrderFromRequest spawns the Approved order that an approved
// request turns into, copying its line items.
func CreateClientOrderFromRequest(tx *gorm.DB, request *OrderRequest) (*ClientOrder, error) {
	items := make([]OrderLineItem, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, OrderLineItem{
			ProductId:   item.ProductId,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}

	order := ClientOrder{
		RequestId:      &request.ID,
		ClientId:       request.ClientId,
		Amount:         request.TotalAmount,
		PaidAmount:     decimal.Zero,
		HasPaymentPlan: request.HasPaymentPlan,
		Status:         ClientOrderStatusApproved,
		Items:          items,
	}
	if err := tx.Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetClientOrder(ctx context.Context, id int) (*ClientOrder, error) {
	db := config.GetDB()
	var result ClientOrder

	err := db.WithContext(ctx).Preload("Items").Preload("Payments").First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetClientOrderForUpdate(tx *gorm.DB, id int) (*ClientOrder, error) {
	var result ClientOrder
	err := tx.Clauses(lockForUpdate()).Preload("Items").Preload("Payments").First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func UpdateClientOrderStatus(tx *gorm.DB, id int, status ClientOrderStatus) error {
	return tx.Model(&ClientOrder{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func UpdateClientOrderPaidAmount(tx *gorm.DB, id int, paidAmount decimal.Decimal) error {
	return tx.Model(&ClientOrder{}).
		Where("id = ?", id).
		Update("paid_amount", paidAmount).Error
}

// RetireClientOrder removes a reverted order and its dependents. Ledger rows
// are append-only and stay behind for audit.
func RetireClientOrder(tx *gorm.DB, order *ClientOrder) error {
	if err := tx.Where("reference_type = ? AND reference_id = ?", "client_orders", order.ID).
		Delete(&OrderLineItem{}).Error; err != nil {
		return err
	}
	if err := tx.Where("order_id = ?", order.ID).Delete(&Payment{}).Error; err != nil {
		return err
	}
	return tx.Delete(&ClientOrder{}, order.ID).Error
}
