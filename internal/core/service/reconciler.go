package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/port"
)

// TranIDPrefix prefixes every external transaction reference; what
// follows it is the order's public token.
const TranIDPrefix = "txn_"

const gatewayEventKeyPrefix = "gwevent:"

// EventKind classifies an inbound gateway notification.
type EventKind string

const (
	EventSuccess EventKind = "success"
	EventFail    EventKind = "fail"
	EventCancel  EventKind = "cancel"
)

// Ack is the reconciler's acknowledgement. Applied is false for
// duplicate or out-of-order deliveries absorbed as no-ops.
type Ack struct {
	OrderToken string
	Status     domain.OrderStatus
	Applied    bool
}

// ParseTransactionRef extracts the order's public token from a gateway
// transaction reference of the form txn_<token>.
func ParseTransactionRef(ref string) (string, error) {
	token, ok := strings.CutPrefix(ref, TranIDPrefix)
	if !ok || token == "" {
		return "", domain.ErrInvalidReference
	}
	return token, nil
}

// PaymentReconciler consumes gateway callbacks and webhooks, advancing
// order status idempotently. Status transitions and their compensating
// stock increments are applied by the repository in one transaction; the
// compare-and-set guard there is what makes redelivery and reordering
// safe, so the reconciler may be invoked any number of times in any
// order.
type PaymentReconciler struct {
	db    port.DatabaseRepository
	cache port.CacheRepository
	feed  *EventFeed
}

func NewPaymentReconciler(db port.DatabaseRepository, cache port.CacheRepository, feed *EventFeed) *PaymentReconciler {
	return &PaymentReconciler{db: db, cache: cache, feed: feed}
}

// HandleGatewayEvent validates one gateway notification against the
// referenced order and advances its status.
func (r *PaymentReconciler) HandleGatewayEvent(ctx context.Context, tranRef string, reportedAmount decimal.Decimal, kind EventKind) (*Ack, error) {
	token, err := ParseTransactionRef(tranRef)
	if err != nil {
		return nil, err
	}

	order, err := r.db.OrderByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	// A success redelivered after the order is already paid or beyond is
	// acknowledged without re-applying anything.
	if kind == EventSuccess && order.Status != domain.OrderStatusPending {
		return &Ack{OrderToken: token, Status: order.Status, Applied: false}, nil
	}

	if !reportedAmount.Equal(order.TotalAmount) {
		log.WithFields(log.Fields{
			"order":    token,
			"reported": reportedAmount,
			"expected": order.TotalAmount,
		}).Warn("gateway amount mismatch")
		return nil, domain.ErrAmountMismatch
	}

	var target domain.OrderStatus
	switch kind {
	case EventSuccess:
		target = domain.OrderStatusPaid
	case EventFail:
		target = domain.OrderStatusFailed
	case EventCancel:
		target = domain.OrderStatusCancelled
	default:
		return nil, fmt.Errorf("unknown gateway event kind %q", kind)
	}

	applied, err := r.db.TransitionOrder(ctx, order.ID, domain.AllowedFrom(target), target, domain.Compensates(target))
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	if !applied {
		// Wrong starting status: a duplicate or reordered delivery.
		// Whichever terminal transition applied first has won.
		return &Ack{OrderToken: token, Status: order.Status, Applied: false}, nil
	}

	r.feed.Emit(domain.OrderEvent{
		OrderID:    order.ID,
		VariantID:  order.VariantID,
		FromStatus: order.Status,
		ToStatus:   target,
		OccurredAt: time.Now(),
	})

	log.WithFields(log.Fields{
		"order": token,
		"from":  order.Status,
		"to":    target,
	}).Info("gateway event reconciled")

	return &Ack{OrderToken: token, Status: target, Applied: true}, nil
}

// AlreadyDelivered dedups webhook deliveries by gateway event id before
// any processing. Purely an optimization; the transition guard remains
// the correctness mechanism.
func (r *PaymentReconciler) AlreadyDelivered(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	fresh, err := r.cache.SetIdempotency(ctx, gatewayEventKeyPrefix+eventID)
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return !fresh, nil
}
