package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// transitions lists the permitted starting statuses per target status.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPaid:       {OrderStatusPending},
	OrderStatusProcessing: {OrderStatusPaid},
	OrderStatusCompleted:  {OrderStatusProcessing},
	OrderStatusFailed:     {OrderStatusPending},
	OrderStatusCancelled:  {OrderStatusPending, OrderStatusPaid},
}

// AllowedFrom returns the statuses an order must currently be in for a
// transition into target to apply.
func AllowedFrom(target OrderStatus) []OrderStatus {
	return transitions[target]
}

// Compensates reports whether a transition into target releases the
// reserved stock unit back to the variant.
func Compensates(target OrderStatus) bool {
	return target == OrderStatusFailed || target == OrderStatusCancelled
}

type Order struct {
	ID          int64
	PublicToken string // 128-bit random token, the only id shown externally
	CustomerID  string
	VendorID    string // derived from the variant's owning service, never caller-supplied
	VariantID   string
	Status      OrderStatus
	TotalAmount decimal.Decimal // price snapshot taken at reservation time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
