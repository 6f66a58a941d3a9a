package workflow_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"bitbucket.org/craftfocus/console_backend/workflow"
)

func machineFixture(onHand string) (*workflow.Machine, *fakeOrders, *fakeMaterials, *fakeLedger, *fakeHistory) {
	materials := newFakeMaterials(
		&models.Material{ID: 1, Name: "M1", QuantityOnHand: dec(onHand)},
	)
	ledger := &fakeLedger{}
	catalog := &fakeCatalog{boms: map[int][]models.BillOfMaterialsLine{
		5: {{ProductId: 5, MaterialId: 1, QuantityPerUnit: dec("10")}},
	}}
	orders := newFakeOrders()
	history := &fakeHistory{}
	machine := &workflow.Machine{
		Orders: orders,
		Engine: &workflow.Engine{
			Materials: materials,
			Ledger:    ledger,
			Catalog:   catalog,
			Logger:    testLogger(),
		},
		History: history,
		Locker:  &passthroughLocker{},
		Tx:      passthroughTx{},
		Logger:  testLogger(),
	}
	return machine, orders, materials, ledger, history
}

func pendingRequest(orders *fakeOrders, hasPlan bool) *models.OrderRequest {
	return orders.addRequest(&models.OrderRequest{
		ClientId:       7,
		Status:         models.OrderRequestStatusPending,
		TotalAmount:    dec("200"),
		HasPaymentPlan: &hasPlan,
		Items: []models.OrderLineItem{
			{ProductId: intPtr(5), ProductName: "P5", Quantity: dec("10"), UnitPrice: dec("20"), TotalPrice: dec("200")},
		},
	})
}

func TestApprovalSpawnsOrderAndDeductsInFull(t *testing.T) {
	machine, orders, materials, _, history := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()

	updated, result, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, "ok to fulfil")
	if err != nil {
		t.Fatalf("TransitionRequest: %v", err)
	}
	if updated.Status != models.OrderRequestStatusApproved {
		t.Fatalf("request status = %s", updated.Status)
	}
	if orders.requests[request.ID].Status != models.OrderRequestStatusApproved {
		t.Fatal("approval not persisted")
	}

	order, ok := orders.orders[1]
	if !ok {
		t.Fatal("approval must spawn a client order")
	}
	if order.Status != models.ClientOrderStatusApproved || len(order.Items) != 1 {
		t.Fatalf("spawned order = %+v", order)
	}
	if order.Tag() != request.Tag() {
		t.Fatalf("order tag %s must keep the request tag %s", order.Tag(), request.Tag())
	}

	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("100")) {
		t.Fatalf("expected full deduction of 100, got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("50")) {
		t.Fatalf("on hand = %s, want 50", materials.onHand(1))
	}

	if len(history.records) != 1 {
		t.Fatalf("exactly one history row per transition, got %+v", history.records)
	}
	row := history.records[0]
	if row.EntityType != "OrderRequest" || row.FromStatus != "Pending" || row.ToStatus != "Approved" {
		t.Fatalf("history row = %+v", row)
	}
}

func TestApprovalWithPaymentPlanDefersDeduction(t *testing.T) {
	machine, orders, materials, ledger, _ := machineFixture("150")
	request := pendingRequest(orders, true)

	_, result, err := machine.TransitionRequest(context.Background(), request.ID, models.OrderRequestStatusApproved, "")
	if err != nil {
		t.Fatalf("TransitionRequest: %v", err)
	}
	if len(result.Movements) != 0 || len(ledger.entries) != 0 {
		t.Fatalf("nothing is paid yet, nothing may move; got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("150")) {
		t.Fatalf("on hand = %s, want 150", materials.onHand(1))
	}
}

func TestRejectionRestoresSpeculativeDeductions(t *testing.T) {
	machine, orders, materials, ledger, history := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()

	// A speculative edit-session submit moved 20 under this request's tag.
	ledger.entries = append(ledger.entries, models.LedgerEntry{
		OrderTag: request.Tag(), MaterialId: 1, Direction: models.LedgerDirectionOut, Quantity: dec("20"),
	})
	materials.byId[1].QuantityOnHand = dec("130")

	_, result, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusRejected, "client cancelled")
	if err != nil {
		t.Fatalf("TransitionRequest: %v", err)
	}
	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("20")) {
		t.Fatalf("expected restore of 20, got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("150")) {
		t.Fatalf("on hand = %s, want 150", materials.onHand(1))
	}
	if orders.requests[request.ID].Status != models.OrderRequestStatusRejected {
		t.Fatal("rejection not persisted")
	}
	if len(history.records) != 1 {
		t.Fatalf("exactly one history row, got %+v", history.records)
	}
}

func TestTerminalRequestRefusesTransitions(t *testing.T) {
	machine, orders, _, _, history := machineFixture("150")
	request := orders.addRequest(&models.OrderRequest{Status: models.OrderRequestStatusRejected})

	_, _, err := machine.TransitionRequest(context.Background(), request.ID, models.OrderRequestStatusApproved, "")
	if err == nil {
		t.Fatal("Rejected is terminal")
	}
	if len(history.records) != 0 {
		t.Fatalf("refused transitions must not write history, got %+v", history.records)
	}
}

func TestPaymentsDriveIncrementalDeductionAndCompletion(t *testing.T) {
	machine, orders, materials, _, history := machineFixture("150")
	request := pendingRequest(orders, true)
	ctx := context.Background()

	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// 30% of the 200 amount: floor(100 * 0.3) = 30 units move.
	order, result, err := machine.RecordPayment(ctx, 1, &models.NewPayment{Amount: dec("60")})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if order.Status != models.ClientOrderStatusPartiallyPaid {
		t.Fatalf("status = %s, want Partially Paid", order.Status)
	}
	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("30")) {
		t.Fatalf("expected movement of 30, got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("120")) {
		t.Fatalf("on hand = %s, want 120", materials.onHand(1))
	}

	// Remaining 140 settles the order: Completed is implicit, never chosen.
	order, result, err = machine.RecordPayment(ctx, 1, &models.NewPayment{Amount: dec("140")})
	if err != nil {
		t.Fatalf("final RecordPayment: %v", err)
	}
	if order.Status != models.ClientOrderStatusCompleted {
		t.Fatalf("status = %s, want Completed", order.Status)
	}
	if !materials.onHand(1).Equal(dec("50")) {
		t.Fatalf("on hand = %s, want 50 (fully deducted)", materials.onHand(1))
	}
	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("70")) {
		t.Fatalf("expected final movement of 70, got %+v", result.Movements)
	}

	if len(orders.payments) != 2 {
		t.Fatalf("expected two payment rows, got %+v", orders.payments)
	}
	// approve + two payments = three transitions, three history rows.
	if len(history.records) != 3 {
		t.Fatalf("history rows = %+v", history.records)
	}

	if _, _, err := machine.RecordPayment(ctx, 1, &models.NewPayment{Amount: dec("10")}); err == nil {
		t.Fatal("a Completed order must refuse further payments")
	}
}

func TestCompletedCannotBeChosenDirectly(t *testing.T) {
	machine, orders, _, _, _ := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()
	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, _, err := machine.TransitionOrder(ctx, 1, models.ClientOrderStatusCompleted, ""); err == nil {
		t.Fatal("Completed must only be reached through payments")
	}
}

func TestOrderRejectionRestoresEverything(t *testing.T) {
	machine, orders, materials, _, _ := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()
	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !materials.onHand(1).Equal(dec("50")) {
		t.Fatalf("setup: on hand = %s", materials.onHand(1))
	}

	order, result, err := machine.TransitionOrder(ctx, 1, models.ClientOrderStatusRejected, "defective batch")
	if err != nil {
		t.Fatalf("TransitionOrder: %v", err)
	}
	if order.Status != models.ClientOrderStatusRejected {
		t.Fatalf("status = %s", order.Status)
	}
	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("100")) {
		t.Fatalf("expected restore of 100, got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("150")) {
		t.Fatalf("on hand = %s, want 150", materials.onHand(1))
	}
}

func TestReversionRegeneratesFreshPendingRequest(t *testing.T) {
	machine, orders, materials, ledger, history := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()
	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	history.records = nil

	_, result, err := machine.TransitionOrder(ctx, 1, models.ClientOrderStatusPending, "client wants changes")
	if err != nil {
		t.Fatalf("TransitionOrder: %v", err)
	}
	if len(result.Movements) != 1 || !result.Movements[0].Quantity.Equal(dec("100")) {
		t.Fatalf("reversion must restore the full 100, got %+v", result.Movements)
	}
	if !materials.onHand(1).Equal(dec("150")) {
		t.Fatalf("on hand = %s, want 150", materials.onHand(1))
	}

	if _, stillThere := orders.orders[1]; stillThere {
		t.Fatal("the stale order must be retired")
	}

	regenerated, ok := orders.requests[2]
	if !ok {
		t.Fatalf("expected a regenerated request, have %+v", orders.requests)
	}
	if regenerated.Status != models.OrderRequestStatusPending {
		t.Fatalf("regenerated status = %s, want Pending", regenerated.Status)
	}
	if len(regenerated.Items) != 1 || !regenerated.TotalAmount.Equal(dec("200")) {
		t.Fatalf("regenerated request = %+v", regenerated)
	}

	// The regenerated request gets a new tag and a clean ledger baseline.
	net, err := ledger.NetMovementByMaterial(ctx, regenerated.Tag())
	if err != nil {
		t.Fatalf("NetMovementByMaterial: %v", err)
	}
	if !net[1].IsZero() {
		t.Fatalf("regenerated request must start from zero, net = %s", net[1])
	}
	if len(history.records) != 1 {
		t.Fatalf("exactly one history row for the reversion, got %+v", history.records)
	}
}

func TestTerminalOrderCannotBeReverted(t *testing.T) {
	machine, orders, _, _, _ := machineFixture("150")
	orders.orders[9] = &models.ClientOrder{ID: 9, Status: models.ClientOrderStatusCompleted}

	if _, _, err := machine.TransitionOrder(context.Background(), 9, models.ClientOrderStatusPending, ""); err == nil {
		t.Fatal("Completed is terminal; reversion must be refused")
	}
}

// interferingLocker runs a competing mutation once, after the lock request
// but before the guarded section runs. Whatever the caller read before
// locking is stale by the time it holds the lock.
type interferingLocker struct {
	interfere func()
	fired     bool
}

func (l *interferingLocker) WithOrderLock(_ context.Context, _ string, fn func() error) error {
	if !l.fired {
		l.fired = true
		l.interfere()
	}
	return fn()
}

func TestConcurrentPaymentsNeverLoseAnUpdate(t *testing.T) {
	machine, orders, materials, ledger, _ := machineFixture("150")
	request := pendingRequest(orders, true)
	ctx := context.Background()
	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A competing posting lands a 60 payment (30% of 200, moving 30 units)
	// between this call's first read of the order and its lock acquisition.
	machine.Locker = &interferingLocker{interfere: func() {
		orders.payments = append(orders.payments, models.Payment{OrderId: 1, Amount: dec("60")})
		orders.orders[1].PaidAmount = dec("60")
		orders.orders[1].Status = models.ClientOrderStatusPartiallyPaid
		ledger.entries = append(ledger.entries, models.LedgerEntry{
			OrderTag: orders.orders[1].Tag(), MaterialId: 1, Direction: models.LedgerDirectionOut, Quantity: dec("30"),
		})
		materials.byId[1].QuantityOnHand = dec("120")
	}}

	order, _, err := machine.RecordPayment(ctx, 1, &models.NewPayment{Amount: dec("140")})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if !order.PaidAmount.Equal(dec("200")) {
		t.Fatalf("paid amount = %s, want 200 (the sum of both payments)", order.PaidAmount)
	}
	if order.Status != models.ClientOrderStatusCompleted {
		t.Fatalf("status = %s, want Completed", order.Status)
	}
	if !materials.onHand(1).Equal(dec("50")) {
		t.Fatalf("on hand = %s, want 50 (full footprint deducted once)", materials.onHand(1))
	}
	if len(orders.payments) != 2 {
		t.Fatalf("payment rows = %+v", orders.payments)
	}
}

func TestConcurrentApprovalsSpawnOneOrder(t *testing.T) {
	machine, orders, _, _, history := machineFixture("150")
	request := pendingRequest(orders, false)
	ctx := context.Background()

	// A competing approval wins the race and finishes before this call holds
	// the lock.
	machine.Locker = &interferingLocker{interfere: func() {
		if _, err := orders.CreateOrderFromRequest(ctx, orders.requests[request.ID]); err != nil {
			t.Fatalf("competing approval: %v", err)
		}
		orders.requests[request.ID].Status = models.OrderRequestStatusApproved
	}}

	if _, _, err := machine.TransitionRequest(ctx, request.ID, models.OrderRequestStatusApproved, ""); err == nil {
		t.Fatal("the second approval must be refused once the request left Pending")
	}
	if len(orders.orders) != 1 {
		t.Fatalf("exactly one client order may be spawned, got %d", len(orders.orders))
	}
	if len(history.records) != 0 {
		t.Fatalf("the refused transition must not write history, got %+v", history.records)
	}
}

func TestTransitionUnknownRecords(t *testing.T) {
	machine, _, _, _, _ := machineFixture("150")
	ctx := context.Background()

	if _, _, err := machine.TransitionRequest(ctx, 404, models.OrderRequestStatusApproved, ""); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("want ErrorRecordNotFound, got %v", err)
	}
	if _, _, err := machine.RecordPayment(ctx, 404, &models.NewPayment{Amount: dec("1")}); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("want ErrorRecordNotFound, got %v", err)
	}
}
