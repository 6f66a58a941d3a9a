package workflow

import (
	"context"
	"errors"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txCtxKey struct{}

// dbFrom returns the transaction carried by the context, or a fresh handle
// when called outside InTransaction.
func dbFrom(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return tx
	}
	return config.GetDB().WithContext(ctx)
}

// GormStores backs every workflow store interface with MySQL through gorm.
// Reads inside a transaction take row locks so the read-baseline, compute,
// write sequence of a reconciliation sees a stable world.
type GormStores struct{}

func (GormStores) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txCtxKey{}, tx))
	})
}

func (GormStores) Get(ctx context.Context, materialId int) (*models.Material, error) {
	if _, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return models.GetMaterialForUpdate(dbFrom(ctx), materialId)
	}
	return models.GetMaterial(ctx, materialId)
}

func (GormStores) UpdateQuantity(ctx context.Context, materialId int, quantity decimal.Decimal) error {
	return models.UpdateMaterialQuantity(dbFrom(ctx), materialId, quantity)
}

func (GormStores) Snapshot(ctx context.Context) (map[int]MaterialLevel, error) {
	var materials []models.Material
	if err := dbFrom(ctx).Order("id").Find(&materials).Error; err != nil {
		return nil, err
	}

	snapshot := make(map[int]MaterialLevel, len(materials))
	for _, m := range materials {
		snapshot[m.ID] = MaterialLevel{
			MaterialId:    m.ID,
			Name:          m.Name,
			Quantity:      m.QuantityOnHand,
			MinStockLevel: m.MinStockLevel,
		}
	}
	return snapshot, nil
}

func (GormStores) Append(ctx context.Context, entry *models.LedgerEntry) error {
	err := models.AppendLedgerEntry(dbFrom(ctx), entry)
	if err != nil {
		var mysqlErr *mysqlDriver.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return utils.ErrorConcurrencyConflict
		}
		return utils.WrapPersistence("ledger append", err)
	}
	return nil
}

func (GormStores) SumMovement(ctx context.Context, orderTag string, materialId int, direction models.LedgerDirection) (decimal.Decimal, error) {
	return models.SumLedgerMovement(dbFrom(ctx), orderTag, materialId, direction)
}

func (GormStores) NetMovementByMaterial(ctx context.Context, orderTag string) (map[int]decimal.Decimal, error) {
	return models.NetLedgerMovementByMaterial(dbFrom(ctx), orderTag)
}

func (GormStores) GetBOM(ctx context.Context, productId int) ([]models.BillOfMaterialsLine, error) {
	var lines []models.BillOfMaterialsLine
	err := dbFrom(ctx).
		Where("product_id = ?", productId).
		Order("material_id").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (GormStores) Record(ctx context.Context, entityType string, entityId int, fromStatus string, toStatus string, note string) error {
	return models.SaveStatusHistory(dbFrom(ctx), entityType, entityId, fromStatus, toStatus, note)
}

func (GormStores) GetRequest(ctx context.Context, id int) (*models.OrderRequest, error) {
	if _, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return models.GetOrderRequestForUpdate(dbFrom(ctx), id)
	}
	return models.GetOrderRequest(ctx, id)
}

func (GormStores) UpdateRequestStatus(ctx context.Context, id int, status models.OrderRequestStatus) error {
	return models.UpdateOrderRequestStatus(dbFrom(ctx), id, status)
}

func (GormStores) CreateRequest(ctx context.Context, request *models.OrderRequest) error {
	return models.CreateOrderRequestTx(dbFrom(ctx), request)
}

func (GormStores) GetOrder(ctx context.Context, id int) (*models.ClientOrder, error) {
	if _, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return models.GetClientOrderForUpdate(dbFrom(ctx), id)
	}
	return models.GetClientOrder(ctx, id)
}

func (GormStores) CreateOrderFromRequest(ctx context.Context, request *models.OrderRequest) (*models.ClientOrder, error) {
	return models.CreateClientOrderFromRequest(dbFrom(ctx), request)
}

func (GormStores) UpdateOrderStatus(ctx context.Context, id int, status models.ClientOrderStatus) error {
	return models.UpdateClientOrderStatus(dbFrom(ctx), id, status)
}

func (GormStores) UpdateOrderPaidAmount(ctx context.Context, id int, paidAmount decimal.Decimal) error {
	return models.UpdateClientOrderPaidAmount(dbFrom(ctx), id, paidAmount)
}

func (GormStores) RetireOrder(ctx context.Context, order *models.ClientOrder) error {
	return models.RetireClientOrder(dbFrom(ctx), order)
}

func (GormStores) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return models.CreatePayment(dbFrom(ctx), payment)
}

func (GormStores) SumPayments(ctx context.Context, orderId int) (decimal.Decimal, error) {
	return models.SumPayments(dbFrom(ctx), orderId)
}

var (
	_ MaterialStore  = GormStores{}
	_ LedgerStore    = GormStores{}
	_ ProductCatalog = GormStores{}
	_ HistorySink    = GormStores{}
	_ OrderStore     = GormStores{}
	_ TxRunner       = GormStores{}
	_ OrderLocker    = RedisOrderLocker{}
)
