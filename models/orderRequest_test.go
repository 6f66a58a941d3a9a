package models_test

import (
	"testing"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewOrderRequestValidate(t *testing.T) {
	empty := &models.NewOrderRequest{ClientId: 1}
	if err := empty.Validate(); err == nil {
		t.Fatal("a request without items must be refused")
	}

	zeroQty := &models.NewOrderRequest{ClientId: 1, Items: []models.NewOrderLineItem{
		{ProductName: "P", Quantity: decimal.Zero},
	}}
	if err := zeroQty.Validate(); err == nil {
		t.Fatal("zero quantity must be refused")
	}

	negativePrice := &models.NewOrderRequest{ClientId: 1, Items: []models.NewOrderLineItem{
		{ProductName: "P", Quantity: dec("1"), UnitPrice: dec("-5")},
	}}
	if err := negativePrice.Validate(); err == nil {
		t.Fatal("negative unit price must be refused")
	}

	ok := &models.NewOrderRequest{ClientId: 1, Items: []models.NewOrderLineItem{
		{ProductName: "P", Quantity: dec("2"), UnitPrice: dec("10")},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request refused: %v", err)
	}
}

func TestBuildLineItemsEnforcesTotalPrice(t *testing.T) {
	items := models.BuildLineItems([]models.NewOrderLineItem{
		{ProductName: "P", Quantity: dec("3"), UnitPrice: dec("2.5")},
	})
	if !items[0].TotalPrice.Equal(dec("7.5")) {
		t.Fatalf("total price = %s, want 7.5", items[0].TotalPrice)
	}
	if !models.SumLineItemTotal(items).Equal(dec("7.5")) {
		t.Fatalf("sum = %s", models.SumLineItemTotal(items))
	}
}

func TestLedgerTagContinuity(t *testing.T) {
	request := models.OrderRequest{ID: 12}
	if request.Tag() != "RQ-12" {
		t.Fatalf("request tag = %s", request.Tag())
	}

	requestId := 12
	spawned := models.ClientOrder{ID: 3, RequestId: &requestId}
	if spawned.Tag() != "RQ-12" {
		t.Fatalf("spawned order must keep the request tag, got %s", spawned.Tag())
	}

	standalone := models.ClientOrder{ID: 3}
	if standalone.Tag() != "CO-3" {
		t.Fatalf("standalone order tag = %s", standalone.Tag())
	}
}

func TestPaidRatio(t *testing.T) {
	noPlan := models.ClientOrder{Amount: dec("200"), PaidAmount: dec("10"), HasPaymentPlan: utils.NewFalse()}
	if !noPlan.PaidRatio().Equal(dec("1")) {
		t.Fatalf("no payment plan ratio = %s, want 1", noPlan.PaidRatio())
	}

	partial := models.ClientOrder{Amount: dec("200"), PaidAmount: dec("60"), HasPaymentPlan: utils.NewTrue()}
	if !partial.PaidRatio().Equal(dec("0.3")) {
		t.Fatalf("ratio = %s, want 0.3", partial.PaidRatio())
	}

	overpaid := models.ClientOrder{Amount: dec("200"), PaidAmount: dec("250"), HasPaymentPlan: utils.NewTrue()}
	if !overpaid.PaidRatio().Equal(dec("1")) {
		t.Fatalf("overpayment ratio = %s, want 1", overpaid.PaidRatio())
	}

	zeroAmount := models.ClientOrder{Amount: decimal.Zero, PaidAmount: decimal.Zero, HasPaymentPlan: utils.NewTrue()}
	if !zeroAmount.PaidRatio().Equal(dec("1")) {
		t.Fatalf("zero-amount ratio = %s, want 1", zeroAmount.PaidRatio())
	}
}

func TestStatusTerminality(t *testing.T) {
	if models.OrderRequestStatusPending.Terminal() {
		t.Fatal("Pending is not terminal")
	}
	if !models.OrderRequestStatusApproved.Terminal() || !models.OrderRequestStatusRejected.Terminal() {
		t.Fatal("Approved and Rejected are terminal for requests")
	}
	if !models.ClientOrderStatusCompleted.Terminal() || !models.ClientOrderStatusRejected.Terminal() {
		t.Fatal("Completed and Rejected are terminal for orders")
	}
	if models.ClientOrderStatusPartiallyPaid.Terminal() {
		t.Fatal("Partially Paid is not terminal")
	}
	if models.ClientOrderStatus("Archived").Valid() {
		t.Fatal("unknown status must not validate")
	}
}
