package port

import (
	"context"

	"github.com/rl1809/repair-market/internal/core/domain"
)

type DatabaseRepository interface {
	// GetVariant retrieves a variant by ID, nil if absent
	GetVariant(ctx context.Context, variantID string) (*domain.Variant, error)

	// ReserveOrder re-reads the variant under a row lock, decrements its
	// stock and inserts a pending order, all in one transaction
	ReserveOrder(ctx context.Context, customerID, variantID string) (*domain.Order, error)

	// OrderByToken retrieves an order by its public token, nil if absent
	OrderByToken(ctx context.Context, token string) (*domain.Order, error)

	// OrdersByCustomer lists a customer's orders, newest first
	OrdersByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)

	// TransitionOrder applies a compare-and-set status change guarded by
	// the allowed starting statuses; when restock is true the variant's
	// stock is incremented by one in the same transaction. Returns false
	// when the guard rejects the change (a no-op, not an error).
	TransitionOrder(ctx context.Context, orderID int64, from []domain.OrderStatus, to domain.OrderStatus, restock bool) (bool, error)

	// AppendOrderEvent persists one audit-trail record
	AppendOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}
