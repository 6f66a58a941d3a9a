package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/craftfocus/console_backend/models"
	"github.com/sirupsen/logrus"
)

// Machine owns every legal status transition for order requests and client
// orders. Each transition makes exactly one reconciliation call and appends
// exactly one audit history record; UI layers never call the engine directly.
type Machine struct {
	Orders  OrderStore
	Engine  *Engine
	History HistorySink
	Locker  OrderLocker
	Tx      TxRunner
	Logger  *logrus.Logger
}

func canTransitionRequest(from, to models.OrderRequestStatus) bool {
	if from != models.OrderRequestStatusPending {
		return false
	}
	return to == models.OrderRequestStatusApproved || to == models.OrderRequestStatusRejected
}

// canTransitionOrder covers caller-chosen transitions only. Partially Paid
// and Completed are reached through payments, never picked directly.
func canTransitionOrder(from, to models.ClientOrderStatus) bool {
	if from != models.ClientOrderStatusApproved && from != models.ClientOrderStatusPartiallyPaid {
		return false
	}
	return to == models.ClientOrderStatusRejected || to == models.ClientOrderStatusPending
}

// TransitionRequest moves an order request out of Pending. Approval spawns
// the client order and reconciles its stock; rejection restores whatever the
// request had speculatively consumed.
func (m *Machine) TransitionRequest(ctx context.Context, requestId int, to models.OrderRequestStatus, note string) (*models.OrderRequest, *ReconcileResult, error) {
	request, err := m.Orders.GetRequest(ctx, requestId)
	if err != nil {
		return nil, nil, err
	}
	if !canTransitionRequest(request.Status, to) {
		return nil, nil, fmt.Errorf("order request %d: transition %s -> %s is not allowed", requestId, request.Status, to)
	}

	var result *ReconcileResult
	err = m.Locker.WithOrderLock(ctx, request.Tag(), func() error {
		return m.Tx.InTransaction(ctx, func(txCtx context.Context) error {
			// Re-read under the lock: the pre-lock copy is stale if another
			// transition won the race, and the in-transaction read takes the
			// row lock.
			current, err := m.Orders.GetRequest(txCtx, requestId)
			if err != nil {
				return err
			}
			if !canTransitionRequest(current.Status, to) {
				return fmt.Errorf("order request %d: transition %s -> %s is not allowed", requestId, current.Status, to)
			}
			request = current

			switch to {
			case models.OrderRequestStatusApproved:
				order, err := m.Orders.CreateOrderFromRequest(txCtx, current)
				if err != nil {
					return err
				}
				result, err = m.Engine.Reconcile(txCtx, OrderForReconcile(order), "request approved")
				if err != nil {
					return err
				}
			case models.OrderRequestStatusRejected:
				var err error
				result, err = m.Engine.Restore(txCtx, current.Tag(), "request rejected")
				if err != nil {
					return err
				}
			}

			if err := m.Orders.UpdateRequestStatus(txCtx, requestId, to); err != nil {
				return err
			}
			return m.History.Record(txCtx, "OrderRequest", requestId, string(current.Status), string(to), note)
		})
	})
	if err != nil {
		return nil, nil, err
	}

	request.Status = to
	return request, result, nil
}

// TransitionOrder handles the caller-chosen order transitions: rejection and
// reversion to Pending. Both restore the full quantity the order had moved;
// reversion additionally regenerates a fresh Pending request from the order's
// items and retires the stale order.
func (m *Machine) TransitionOrder(ctx context.Context, orderId int, to models.ClientOrderStatus, note string) (*models.ClientOrder, *ReconcileResult, error) {
	order, err := m.Orders.GetOrder(ctx, orderId)
	if err != nil {
		return nil, nil, err
	}
	if to == models.ClientOrderStatusCompleted {
		return nil, nil, fmt.Errorf("client order %d: Completed is reached through payments, not chosen", orderId)
	}
	if !canTransitionOrder(order.Status, to) {
		return nil, nil, fmt.Errorf("client order %d: transition %s -> %s is not allowed", orderId, order.Status, to)
	}

	var result *ReconcileResult
	err = m.Locker.WithOrderLock(ctx, order.Tag(), func() error {
		return m.Tx.InTransaction(ctx, func(txCtx context.Context) error {
			current, err := m.Orders.GetOrder(txCtx, orderId)
			if err != nil {
				return err
			}
			if !canTransitionOrder(current.Status, to) {
				return fmt.Errorf("client order %d: transition %s -> %s is not allowed", orderId, current.Status, to)
			}
			order = current

			switch to {
			case models.ClientOrderStatusRejected:
				var err error
				result, err = m.Engine.Restore(txCtx, current.Tag(), "order rejected")
				if err != nil {
					return err
				}
				if err := m.Orders.UpdateOrderStatus(txCtx, orderId, to); err != nil {
					return err
				}

			case models.ClientOrderStatusPending:
				var err error
				result, err = m.Engine.Restore(txCtx, current.Tag(), "order reverted")
				if err != nil {
					return err
				}
				request := regeneratedRequest(current)
				if err := m.Orders.CreateRequest(txCtx, request); err != nil {
					return err
				}
				if err := m.Orders.RetireOrder(txCtx, current); err != nil {
					return err
				}
				note = fmt.Sprintf("%s (regenerated as request %d)", note, request.ID)
			}

			return m.History.Record(txCtx, "ClientOrder", orderId, string(current.Status), string(to), note)
		})
	})
	if err != nil {
		return nil, nil, err
	}

	order.Status = to
	return order, result, nil
}

// RecordPayment appends a payment, recomputes the paid ratio, and reconciles
// the proportional deduction. The order completes implicitly when nothing
// remains to pay.
func (m *Machine) RecordPayment(ctx context.Context, orderId int, input *models.NewPayment) (*models.ClientOrder, *ReconcileResult, error) {
	if input == nil || !input.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("payment amount must be positive")
	}

	order, err := m.Orders.GetOrder(ctx, orderId)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != models.ClientOrderStatusApproved && order.Status != models.ClientOrderStatusPartiallyPaid {
		return nil, nil, fmt.Errorf("client order %d: cannot record a payment in status %s", orderId, order.Status)
	}

	var result *ReconcileResult
	err = m.Locker.WithOrderLock(ctx, order.Tag(), func() error {
		return m.Tx.InTransaction(ctx, func(txCtx context.Context) error {
			current, err := m.Orders.GetOrder(txCtx, orderId)
			if err != nil {
				return err
			}
			if current.Status != models.ClientOrderStatusApproved && current.Status != models.ClientOrderStatusPartiallyPaid {
				return fmt.Errorf("client order %d: cannot record a payment in status %s", orderId, current.Status)
			}
			order = current

			payment := &models.Payment{
				OrderId: orderId,
				Amount:  input.Amount,
			}
			if input.PaymentDate != nil {
				payment.PaymentDate = *input.PaymentDate
			}
			if err := m.Orders.CreatePayment(txCtx, payment); err != nil {
				return err
			}

			// paid_amount is always the sum of the payment rows, recomputed
			// under the row lock, never an in-memory increment.
			paid, err := m.Orders.SumPayments(txCtx, orderId)
			if err != nil {
				return err
			}
			if err := m.Orders.UpdateOrderPaidAmount(txCtx, orderId, paid); err != nil {
				return err
			}
			current.PaidAmount = paid

			result, err = m.Engine.Reconcile(txCtx, OrderForReconcile(current), "payment received")
			if err != nil {
				return err
			}

			from := current.Status
			to := models.ClientOrderStatusPartiallyPaid
			if !current.RemainingAmount().IsPositive() {
				to = models.ClientOrderStatusCompleted
			}
			if err := m.Orders.UpdateOrderStatus(txCtx, orderId, to); err != nil {
				return err
			}
			current.Status = to

			note := fmt.Sprintf("payment of %s received", input.Amount.String())
			return m.History.Record(txCtx, "ClientOrder", orderId, string(from), string(to), note)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return order, result, nil
}

func regeneratedRequest(order *models.ClientOrder) *models.OrderRequest {
	items := make([]models.OrderLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderLineItem{
			ProductId:   item.ProductId,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return &models.OrderRequest{
		ClientId:       order.ClientId,
		Status:         models.OrderRequestStatusPending,
		HasPaymentPlan: order.HasPaymentPlan,
		Items:          items,
		TotalAmount:    models.SumLineItemTotal(items),
	}
}
