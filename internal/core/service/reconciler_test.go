package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rl1809/repair-market/internal/core/domain"
)

// placeTestOrder reserves one unit and returns the pending order.
func placeTestOrder(t *testing.T, db *mockDB, stock int) *domain.Order {
	t.Helper()
	db.addVariant(testVariant("item-1", stock))
	order, err := db.ReserveOrder(context.Background(), "user-1", "item-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	return order
}

func newTestReconciler(db *mockDB) (*PaymentReconciler, *mockCacheRepo, *EventFeed) {
	cache := newMockCacheRepo()
	feed := NewEventFeed(100)
	go func() {
		for range feed.Events() {
		}
	}()
	return NewPaymentReconciler(db, cache, feed), cache, feed
}

func TestParseTransactionRef(t *testing.T) {
	token, err := ParseTransactionRef("txn_abc-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc-123" {
		t.Errorf("expected abc-123, got %s", token)
	}

	for _, ref := range []string{"", "txn_", "payment_abc", "abc-123"} {
		if _, err := ParseTransactionRef(ref); !errors.Is(err, domain.ErrInvalidReference) {
			t.Errorf("ref %q: expected ErrInvalidReference, got %v", ref, err)
		}
	}
}

func TestHandleGatewayEvent_SuccessTransition(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	ack, err := rec.HandleGatewayEvent(context.Background(), TranIDPrefix+order.PublicToken, order.TotalAmount, EventSuccess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Applied {
		t.Error("expected transition to apply")
	}
	if ack.Status != domain.OrderStatusPaid {
		t.Errorf("expected paid, got %s", ack.Status)
	}
	if db.orderStatus(order.ID) != domain.OrderStatusPaid {
		t.Errorf("stored status: %s", db.orderStatus(order.ID))
	}
	if db.stock("item-1") != 4 {
		t.Errorf("success must not touch stock, got %d", db.stock("item-1"))
	}
}

func TestHandleGatewayEvent_IdempotentSuccess(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	ref := TranIDPrefix + order.PublicToken
	if _, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventSuccess); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	before := db.transitions.Load()
	ack, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventSuccess)
	if err != nil {
		t.Fatalf("second delivery errored: %v", err)
	}
	if ack.Applied {
		t.Error("second delivery must be a no-op")
	}
	if db.transitions.Load() != before {
		t.Error("second delivery re-applied a transition")
	}
	if db.orderStatus(order.ID) != domain.OrderStatusPaid {
		t.Errorf("status changed on redelivery: %s", db.orderStatus(order.ID))
	}
}

func TestHandleGatewayEvent_ReorderingSafety(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	ref := TranIDPrefix + order.PublicToken

	// fail delivered first: terminal transition with compensation.
	ack, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventFail)
	if err != nil {
		t.Fatalf("fail delivery errored: %v", err)
	}
	if !ack.Applied || ack.Status != domain.OrderStatusFailed {
		t.Fatalf("expected applied failed, got applied=%v status=%s", ack.Applied, ack.Status)
	}
	if db.stock("item-1") != 5 {
		t.Fatalf("expected compensated stock 5, got %d", db.stock("item-1"))
	}

	// The late success must not both keep the compensation and mark paid.
	ack, err = rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventSuccess)
	if err != nil {
		t.Fatalf("late success errored: %v", err)
	}
	if ack.Applied {
		t.Error("late success must be a no-op after terminal failure")
	}
	if db.orderStatus(order.ID) != domain.OrderStatusFailed {
		t.Errorf("terminal status overwritten: %s", db.orderStatus(order.ID))
	}
	if db.stock("item-1") != 5 {
		t.Errorf("stock changed by no-op delivery: %d", db.stock("item-1"))
	}
}

func TestHandleGatewayEvent_AmountMismatch(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	_, err := rec.HandleGatewayEvent(context.Background(), TranIDPrefix+order.PublicToken, mustDecimal("1.00"), EventSuccess)
	if !errors.Is(err, domain.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got: %v", err)
	}
	if db.orderStatus(order.ID) != domain.OrderStatusPending {
		t.Errorf("status must be unchanged on mismatch: %s", db.orderStatus(order.ID))
	}
}

func TestHandleGatewayEvent_OrderNotFound(t *testing.T) {
	db := newMockDB()
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	_, err := rec.HandleGatewayEvent(context.Background(), TranIDPrefix+"spoofed-token", mustDecimal("10.00"), EventSuccess)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestHandleGatewayEvent_CompensationConservation(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	if db.stock("item-1") != 4 {
		t.Fatalf("expected stock 4 after reservation, got %d", db.stock("item-1"))
	}

	ref := TranIDPrefix + order.PublicToken
	for i := 0; i < 3; i++ {
		if _, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventCancel); err != nil {
			t.Fatalf("cancel delivery %d errored: %v", i, err)
		}
	}

	if db.stock("item-1") != 5 {
		t.Errorf("expected stock back to exactly 5, got %d", db.stock("item-1"))
	}
	if db.orderStatus(order.ID) != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", db.orderStatus(order.ID))
	}
}

func TestHandleGatewayEvent_CancelAfterPaid(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	ref := TranIDPrefix + order.PublicToken
	if _, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventSuccess); err != nil {
		t.Fatalf("success delivery failed: %v", err)
	}

	ack, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventCancel)
	if err != nil {
		t.Fatalf("cancel after paid errored: %v", err)
	}
	if !ack.Applied || ack.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected applied cancelled, got applied=%v status=%s", ack.Applied, ack.Status)
	}
	if db.stock("item-1") != 5 {
		t.Errorf("expected compensation after paid cancel, got stock %d", db.stock("item-1"))
	}
}

func TestHandleGatewayEvent_FailOnlyFromPending(t *testing.T) {
	db := newMockDB()
	order := placeTestOrder(t, db, 5)
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	ref := TranIDPrefix + order.PublicToken
	if _, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventSuccess); err != nil {
		t.Fatalf("success delivery failed: %v", err)
	}

	ack, err := rec.HandleGatewayEvent(context.Background(), ref, order.TotalAmount, EventFail)
	if err != nil {
		t.Fatalf("fail after paid errored: %v", err)
	}
	if ack.Applied {
		t.Error("fail must not apply from paid")
	}
	if db.orderStatus(order.ID) != domain.OrderStatusPaid {
		t.Errorf("status changed: %s", db.orderStatus(order.ID))
	}
	if db.stock("item-1") != 4 {
		t.Errorf("stock changed by rejected fail event: %d", db.stock("item-1"))
	}
}

func TestAlreadyDelivered(t *testing.T) {
	db := newMockDB()
	rec, _, feed := newTestReconciler(db)
	defer feed.Close()

	seen, err := rec.AlreadyDelivered(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Error("first delivery reported as seen")
	}

	seen, err = rec.AlreadyDelivered(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Error("second delivery not reported as seen")
	}

	// Events without ids are never deduplicated here.
	seen, err = rec.AlreadyDelivered(context.Background(), "")
	if err != nil || seen {
		t.Errorf("empty event id: seen=%v err=%v", seen, err)
	}
}
