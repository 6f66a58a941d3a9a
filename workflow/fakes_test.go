package workflow_test

import (
	"context"
	"fmt"

	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"bitbucket.org/craftfocus/console_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(v int) *int { return &v }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeMaterials struct {
	byId map[int]*models.Material
}

func newFakeMaterials(materials ...*models.Material) *fakeMaterials {
	byId := map[int]*models.Material{}
	for _, m := range materials {
		byId[m.ID] = m
	}
	return &fakeMaterials{byId: byId}
}

func (f *fakeMaterials) Get(_ context.Context, materialId int) (*models.Material, error) {
	m, ok := f.byId[materialId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	copied := *m
	return &copied, nil
}

func (f *fakeMaterials) UpdateQuantity(_ context.Context, materialId int, quantity decimal.Decimal) error {
	m, ok := f.byId[materialId]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	m.QuantityOnHand = quantity
	return nil
}

func (f *fakeMaterials) Snapshot(_ context.Context) (map[int]workflow.MaterialLevel, error) {
	snapshot := make(map[int]workflow.MaterialLevel, len(f.byId))
	for id, m := range f.byId {
		snapshot[id] = workflow.MaterialLevel{
			MaterialId:    id,
			Name:          m.Name,
			Quantity:      m.QuantityOnHand,
			MinStockLevel: m.MinStockLevel,
		}
	}
	return snapshot, nil
}

func (f *fakeMaterials) onHand(materialId int) decimal.Decimal {
	return f.byId[materialId].QuantityOnHand
}

type fakeLedger struct {
	entries []models.LedgerEntry
}

func (f *fakeLedger) Append(_ context.Context, entry *models.LedgerEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLedger) SumMovement(_ context.Context, orderTag string, materialId int, direction models.LedgerDirection) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range f.entries {
		if e.OrderTag == orderTag && e.MaterialId == materialId && e.Direction == direction {
			total = total.Add(e.Quantity)
		}
	}
	return total, nil
}

func (f *fakeLedger) NetMovementByMaterial(_ context.Context, orderTag string) (map[int]decimal.Decimal, error) {
	net := map[int]decimal.Decimal{}
	for _, e := range f.entries {
		if e.OrderTag != orderTag {
			continue
		}
		if e.Direction == models.LedgerDirectionOut {
			net[e.MaterialId] = net[e.MaterialId].Add(e.Quantity)
		} else {
			net[e.MaterialId] = net[e.MaterialId].Sub(e.Quantity)
		}
	}
	return net, nil
}

type fakeCatalog struct {
	boms map[int][]models.BillOfMaterialsLine
}

func (f *fakeCatalog) GetBOM(_ context.Context, productId int) ([]models.BillOfMaterialsLine, error) {
	return f.boms[productId], nil
}

type historyRecord struct {
	EntityType string
	EntityId   int
	FromStatus string
	ToStatus   string
	Note       string
}

type fakeHistory struct {
	records []historyRecord
}

func (f *fakeHistory) Record(_ context.Context, entityType string, entityId int, fromStatus string, toStatus string, note string) error {
	f.records = append(f.records, historyRecord{entityType, entityId, fromStatus, toStatus, note})
	return nil
}

type passthroughTx struct{}

func (passthroughTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type passthroughLocker struct {
	obtained []string
}

func (l *passthroughLocker) WithOrderLock(_ context.Context, orderTag string, fn func() error) error {
	l.obtained = append(l.obtained, orderTag)
	return fn()
}

type fakeOrders struct {
	requests      map[int]*models.OrderRequest
	orders        map[int]*models.ClientOrder
	payments      []models.Payment
	nextRequestId int
	nextOrderId   int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		requests:      map[int]*models.OrderRequest{},
		orders:        map[int]*models.ClientOrder{},
		nextRequestId: 1,
		nextOrderId:   1,
	}
}

func (f *fakeOrders) addRequest(request *models.OrderRequest) *models.OrderRequest {
	if request.ID == 0 {
		request.ID = f.nextRequestId
	}
	if request.ID >= f.nextRequestId {
		f.nextRequestId = request.ID + 1
	}
	f.requests[request.ID] = request
	return request
}

func (f *fakeOrders) GetRequest(_ context.Context, id int) (*models.OrderRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeOrders) UpdateRequestStatus(_ context.Context, id int, status models.OrderRequestStatus) error {
	r, ok := f.requests[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeOrders) CreateRequest(_ context.Context, request *models.OrderRequest) error {
	request.ID = f.nextRequestId
	f.nextRequestId++
	f.requests[request.ID] = request
	return nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id int) (*models.ClientOrder, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	copied := *o
	return &copied, nil
}

func (f *fakeOrders) CreateOrderFromRequest(_ context.Context, request *models.OrderRequest) (*models.ClientOrder, error) {
	requestId := request.ID
	order := &models.ClientOrder{
		ID:             f.nextOrderId,
		RequestId:      &requestId,
		ClientId:       request.ClientId,
		Amount:         request.TotalAmount,
		PaidAmount:     decimal.Zero,
		HasPaymentPlan: request.HasPaymentPlan,
		Status:         models.ClientOrderStatusApproved,
		Items:          append([]models.OrderLineItem(nil), request.Items...),
	}
	f.nextOrderId++
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, id int, status models.ClientOrderStatus) error {
	o, ok := f.orders[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeOrders) UpdateOrderPaidAmount(_ context.Context, id int, paidAmount decimal.Decimal) error {
	o, ok := f.orders[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	o.PaidAmount = paidAmount
	return nil
}

func (f *fakeOrders) RetireOrder(_ context.Context, order *models.ClientOrder) error {
	if _, ok := f.orders[order.ID]; !ok {
		return fmt.Errorf("order %d not found", order.ID)
	}
	delete(f.orders, order.ID)
	return nil
}

func (f *fakeOrders) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.payments = append(f.payments, *payment)
	return nil
}

func (f *fakeOrders) SumPayments(_ context.Context, orderId int) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range f.payments {
		if p.OrderId == orderId {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}
