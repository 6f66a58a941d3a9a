package workflow_test

import (
	"context"
	"testing"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/workflow"
	"github.com/shopspring/decimal"
)

// Product 1 builds from 2x material 1 and 3x material 2.
func testBOMCatalog() *fakeCatalog {
	return &fakeCatalog{boms: map[int][]models.BillOfMaterialsLine{
		1: {
			{ProductId: 1, MaterialId: 1, QuantityPerUnit: dec("2")},
			{ProductId: 1, MaterialId: 2, QuantityPerUnit: dec("3")},
		},
	}}
}

func TestValidateAvailabilityBlocksOnShortfall(t *testing.T) {
	materials := newFakeMaterials(
		&models.Material{ID: 1, Name: "M1", QuantityOnHand: dec("10")},
		&models.Material{ID: 2, Name: "M2", QuantityOnHand: dec("2")},
	)
	items := []models.OrderLineItem{{ProductId: intPtr(1), ProductName: "P", Quantity: dec("1")}}

	result, err := workflow.CheckOrderAvailability(context.Background(), testBOMCatalog(), materials, items)
	if err != nil {
		t.Fatalf("CheckOrderAvailability: %v", err)
	}
	if !result.Blocked() {
		t.Fatal("expected validation to block: material 2 is 1 short")
	}
	messages := result.OutOfStockMessages()
	if len(messages) != 1 {
		t.Fatalf("expected one out-of-stock message, got %v", messages)
	}
	if messages[0] != "M2 (need 3, have 2)" {
		t.Fatalf("unexpected message: %q", messages[0])
	}
	if len(result.Sufficient) != 1 || result.Sufficient[0].MaterialId != 1 {
		t.Fatalf("expected material 1 sufficient, got %+v", result.Sufficient)
	}
}

func TestValidateAvailabilityExactStockIsLowNotBlocked(t *testing.T) {
	materials := newFakeMaterials(
		&models.Material{ID: 1, Name: "M1", QuantityOnHand: dec("10")},
		&models.Material{ID: 2, Name: "M2", QuantityOnHand: dec("3")},
	)
	items := []models.OrderLineItem{{ProductId: intPtr(1), ProductName: "P", Quantity: dec("1")}}

	result, err := workflow.CheckOrderAvailability(context.Background(), testBOMCatalog(), materials, items)
	if err != nil {
		t.Fatalf("CheckOrderAvailability: %v", err)
	}
	if result.Blocked() {
		t.Fatalf("exactly enough stock must not block; out of stock: %v", result.OutOfStockMessages())
	}
	// Consuming down to the minimum level (0 here) is a low-stock advisory.
	if len(result.LowStock) != 1 || result.LowStock[0].MaterialId != 2 {
		t.Fatalf("expected material 2 low stock, got %+v", result.LowStock)
	}
}

func TestValidateAvailabilityLowStockThreshold(t *testing.T) {
	materials := newFakeMaterials(
		&models.Material{ID: 1, Name: "M1", QuantityOnHand: dec("10"), MinStockLevel: dec("9")},
	)
	catalog := &fakeCatalog{boms: map[int][]models.BillOfMaterialsLine{
		2: {{ProductId: 2, MaterialId: 1, QuantityPerUnit: dec("1")}},
	}}
	items := []models.OrderLineItem{{ProductId: intPtr(2), ProductName: "Q", Quantity: dec("1")}}

	result, err := workflow.CheckOrderAvailability(context.Background(), catalog, materials, items)
	if err != nil {
		t.Fatalf("CheckOrderAvailability: %v", err)
	}
	if result.Blocked() {
		t.Fatal("deduction landing on the min stock level must not block")
	}
	if len(result.LowStock) != 1 {
		t.Fatalf("expected low stock warning, got %+v", result)
	}
}

func TestValidateAvailabilityUnknownMaterialIsZeroStock(t *testing.T) {
	result := workflow.ValidateAvailability(
		map[int]decimal.Decimal{9: dec("1")},
		map[int]workflow.MaterialLevel{},
	)
	if !result.Blocked() {
		t.Fatal("a material absent from the snapshot must validate as zero stock")
	}
	if got := result.OutOfStockMessages()[0]; got != "material 9 (need 1, have 0)" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestCustomLineItemsConsumeNothing(t *testing.T) {
	materials := newFakeMaterials(
		&models.Material{ID: 1, Name: "M1", QuantityOnHand: dec("0")},
	)
	items := []models.OrderLineItem{
		{ProductId: nil, ProductName: "Delivery fee", Quantity: dec("1"), UnitPrice: dec("5")},
	}

	result, err := workflow.CheckOrderAvailability(context.Background(), testBOMCatalog(), materials, items)
	if err != nil {
		t.Fatalf("CheckOrderAvailability: %v", err)
	}
	if result.Blocked() || len(result.LowStock) != 0 || len(result.Sufficient) != 0 {
		t.Fatalf("custom items must not touch availability, got %+v", result)
	}
}
