package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/port"
)

const (
	variantLockPrefix = "variant_lock:"

	// The hold TTL must exceed the reserve transaction's worst-case
	// latency with margin; expiry before release is a loggable anomaly.
	defaultLockHoldTTL     = 10 * time.Second
	defaultLockWaitTimeout = 5 * time.Second

	releaseTimeout = 2 * time.Second
)

// ReservationService serializes stock claims per variant: acquire the
// variant lock, re-read authoritative stock inside a transaction,
// decrement or reject, create the pending order, release the lock.
type ReservationService struct {
	locker      port.Locker
	db          port.DatabaseRepository
	feed        *EventFeed
	holdTTL     time.Duration
	waitTimeout time.Duration
}

func NewReservationService(locker port.Locker, db port.DatabaseRepository, feed *EventFeed) *ReservationService {
	return &ReservationService{
		locker:      locker,
		db:          db,
		feed:        feed,
		holdTTL:     defaultLockHoldTTL,
		waitTimeout: defaultLockWaitTimeout,
	}
}

// PlaceOrder claims one unit of the variant's stock and creates a pending
// order carrying a snapshot of the current price. Callers decide whether
// to retry on domain.ErrLockTimeout; the service never retries.
func (s *ReservationService) PlaceOrder(ctx context.Context, customerID, variantID string) (*domain.Order, error) {
	lease, err := s.locker.Acquire(ctx, variantLockPrefix+variantID, s.holdTTL, s.waitTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrLockTimeout) {
			return nil, domain.ErrLockTimeout
		}
		return nil, fmt.Errorf("acquire variant lock: %w", err)
	}
	// Release must run on every path out of the critical section, even
	// when the request context is already cancelled.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.locker.Release(releaseCtx, lease); err != nil {
			log.WithField("variant", variantID).Warnf("lock release failed: %v", err)
		}
	}()

	// Never trust a stock value read before the lock was held; the
	// repository re-reads the variant row under FOR UPDATE.
	order, err := s.db.ReserveOrder(ctx, customerID, variantID)
	if err != nil {
		return nil, err
	}

	s.feed.Emit(domain.OrderEvent{
		OrderID:    order.ID,
		VariantID:  order.VariantID,
		ToStatus:   domain.OrderStatusPending,
		OccurredAt: order.CreatedAt,
	})

	log.WithFields(log.Fields{
		"order":   order.PublicToken,
		"variant": variantID,
	}).Info("order reserved")

	return order, nil
}

// CancelOrder is the explicit customer-initiated cancellation path. The
// compensating stock increment rides in the same transaction as the
// status change.
func (s *ReservationService) CancelOrder(ctx context.Context, customerID, token string) (*domain.Order, error) {
	order, err := s.db.OrderByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil || order.CustomerID != customerID {
		return nil, domain.ErrOrderNotFound
	}

	return s.transition(ctx, order, domain.OrderStatusCancelled)
}

// AdvanceOrder moves a vendor's order one fulfilment step forward:
// paid -> processing -> completed. Never compensates stock.
func (s *ReservationService) AdvanceOrder(ctx context.Context, vendorID, token string) (*domain.Order, error) {
	order, err := s.db.OrderByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil || order.VendorID != vendorID {
		return nil, domain.ErrOrderNotFound
	}

	var next domain.OrderStatus
	switch order.Status {
	case domain.OrderStatusPaid:
		next = domain.OrderStatusProcessing
	case domain.OrderStatusProcessing:
		next = domain.OrderStatusCompleted
	default:
		return nil, domain.ErrInvalidTransition
	}

	return s.transition(ctx, order, next)
}

// OrderByToken returns the order when it belongs to customerID.
func (s *ReservationService) OrderByToken(ctx context.Context, customerID, token string) (*domain.Order, error) {
	order, err := s.db.OrderByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil || order.CustomerID != customerID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// OrdersByCustomer lists the customer's orders.
func (s *ReservationService) OrdersByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return s.db.OrdersByCustomer(ctx, customerID)
}

func (s *ReservationService) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus) (*domain.Order, error) {
	applied, err := s.db.TransitionOrder(ctx, order.ID, domain.AllowedFrom(to), to, domain.Compensates(to))
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	if !applied {
		return nil, domain.ErrInvalidTransition
	}

	s.feed.Emit(domain.OrderEvent{
		OrderID:    order.ID,
		VariantID:  order.VariantID,
		FromStatus: order.Status,
		ToStatus:   to,
		OccurredAt: time.Now(),
	})

	order.Status = to
	return order, nil
}
