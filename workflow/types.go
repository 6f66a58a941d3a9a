package workflow

import (
	"context"

	"bitbucket.org/craftfocus/console_backend/models"
	"github.com/shopspring/decimal"
)

// MaterialLevel is one material's stock level inside a snapshot. The snapshot
// may be the real store or a speculative one; the validator does not care.
type MaterialLevel struct {
	MaterialId    int
	Name          string
	Quantity      decimal.Decimal
	MinStockLevel decimal.Decimal
}

// MaterialRequirement is one expanded BOM line for a requested quantity.
type MaterialRequirement struct {
	MaterialId     int
	MaterialName   string
	QuantityNeeded decimal.Decimal
	Available      decimal.Decimal
}

type MaterialStore interface {
	Get(ctx context.Context, materialId int) (*models.Material, error)
	UpdateQuantity(ctx context.Context, materialId int, quantity decimal.Decimal) error
	Snapshot(ctx context.Context) (map[int]MaterialLevel, error)
}

type LedgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	SumMovement(ctx context.Context, orderTag string, materialId int, direction models.LedgerDirection) (decimal.Decimal, error)
	NetMovementByMaterial(ctx context.Context, orderTag string) (map[int]decimal.Decimal, error)
}

type ProductCatalog interface {
	GetBOM(ctx context.Context, productId int) ([]models.BillOfMaterialsLine, error)
}

type HistorySink interface {
	Record(ctx context.Context, entityType string, entityId int, fromStatus string, toStatus string, note string) error
}

type OrderStore interface {
	GetRequest(ctx context.Context, id int) (*models.OrderRequest, error)
	UpdateRequestStatus(ctx context.Context, id int, status models.OrderRequestStatus) error
	CreateRequest(ctx context.Context, request *models.OrderRequest) error

	GetOrder(ctx context.Context, id int) (*models.ClientOrder, error)
	CreateOrderFromRequest(ctx context.Context, request *models.OrderRequest) (*models.ClientOrder, error)
	UpdateOrderStatus(ctx context.Context, id int, status models.ClientOrderStatus) error
	UpdateOrderPaidAmount(ctx context.Context, id int, paidAmount decimal.Decimal) error
	RetireOrder(ctx context.Context, order *models.ClientOrder) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	SumPayments(ctx context.Context, orderId int) (decimal.Decimal, error)
}

// TxRunner scopes a read-baseline -> compute-delta -> write sequence to a
// single transaction. The context passed to fn carries the transaction.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLocker serializes reconciliations per order tag. Two transitions
// racing on the same order would otherwise read the same already-moved
// baseline and double- or under-deduct.
type OrderLocker interface {
	WithOrderLock(ctx context.Context, orderTag string, fn func() error) error
}
