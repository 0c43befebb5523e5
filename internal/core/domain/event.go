package domain

import "time"

// OrderEvent records one applied status transition for the audit trail.
type OrderEvent struct {
	OrderID    int64
	VariantID  string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	OccurredAt time.Time
}
