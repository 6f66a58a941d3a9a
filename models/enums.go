package models

type OrderRequestStatus string

const (
	OrderRequestStatusPending  OrderRequestStatus = "Pending"
	OrderRequestStatusApproved OrderRequestStatus = "Approved"
	OrderRequestStatusRejected OrderRequestStatus = "Rejected"
)

func (s OrderRequestStatus) Valid() bool {
	switch s {
	case OrderRequestStatusPending, OrderRequestStatusApproved, OrderRequestStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderRequestStatus) Terminal() bool {
	return s == OrderRequestStatusApproved || s == OrderRequestStatusRejected
}

type ClientOrderStatus string

const (
	ClientOrderStatusPending       ClientOrderStatus = "Pending"
	ClientOrderStatusApproved      ClientOrderStatus = "Approved"
	ClientOrderStatusPartiallyPaid ClientOrderStatus = "Partially Paid"
	ClientOrderStatusCompleted     ClientOrderStatus = "Completed"
	ClientOrderStatusRejected      ClientOrderStatus = "Rejected"
)

func (s ClientOrderStatus) Valid() bool {
	switch s {
	case ClientOrderStatusPending, ClientOrderStatusApproved, ClientOrderStatusPartiallyPaid,
		ClientOrderStatusCompleted, ClientOrderStatusRejected:
		return true
	}
	return false
}

func (s ClientOrderStatus) Terminal() bool {
	return s == ClientOrderStatusCompleted || s == ClientOrderStatusRejected
}

type LedgerDirection string

const (
	LedgerDirectionIn  LedgerDirection = "in"
	LedgerDirectionOut LedgerDirection = "out"
)

func (d LedgerDirection) Valid() bool {
	return d == LedgerDirectionIn || d == LedgerDirectionOut
}
