package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/port"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Mock Locker with real mutual exclusion so concurrency tests exercise
// the serialization the service relies on.
type mockLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquires atomic.Int32
	releases atomic.Int32
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]string)}
}

func (m *mockLocker) Acquire(ctx context.Context, key string, holdTTL, waitTimeout time.Duration) (*port.Lease, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		m.mu.Lock()
		if _, taken := m.held[key]; !taken {
			token := fmt.Sprintf("token-%d", m.acquires.Add(1))
			m.held[key] = token
			m.mu.Unlock()
			return &port.Lease{Key: key, Token: token}, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, domain.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *mockLocker) Release(ctx context.Context, lease *port.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[lease.Key] == lease.Token {
		delete(m.held, lease.Key)
	}
	m.releases.Add(1)
	return nil
}

func (m *mockLocker) heldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Mock DatabaseRepository backed by in-memory maps.
type mockDB struct {
	mu          sync.Mutex
	variants    map[string]*domain.Variant
	orders      map[int64]*domain.Order
	events      []domain.OrderEvent
	nextID      int64
	reserveErr  error // injected fault inside the critical section
	transitions atomic.Int32
}

func newMockDB() *mockDB {
	return &mockDB{
		variants: make(map[string]*domain.Variant),
		orders:   make(map[int64]*domain.Order),
	}
}

func (m *mockDB) addVariant(v domain.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = &v
}

func (m *mockDB) setPrice(variantID, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[variantID].Price = mustDecimal(price)
}

func (m *mockDB) stock(variantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[variantID].Stock
}

func (m *mockDB) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[variantID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *mockDB) ReserveOrder(ctx context.Context, customerID, variantID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reserveErr != nil {
		return nil, m.reserveErr
	}

	v, ok := m.variants[variantID]
	if !ok {
		return nil, domain.ErrVariantNotFound
	}
	if !v.Active {
		return nil, domain.ErrVariantInactive
	}
	if v.Stock <= 0 {
		return nil, domain.ErrOutOfStock
	}
	v.Stock--

	m.nextID++
	now := time.Now()
	order := &domain.Order{
		ID:          m.nextID,
		PublicToken: fmt.Sprintf("order-token-%d", m.nextID),
		CustomerID:  customerID,
		VendorID:    v.VendorID,
		VariantID:   variantID,
		Status:      domain.OrderStatusPending,
		TotalAmount: v.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.orders[order.ID] = order

	cp := *order
	return &cp, nil
}

func (m *mockDB) OrderByToken(ctx context.Context, token string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PublicToken == token {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockDB) OrdersByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockDB) TransitionOrder(ctx context.Context, orderID int64, from []domain.OrderStatus, to domain.OrderStatus, restock bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}

	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	o.Status = to
	o.UpdatedAt = time.Now()
	if restock {
		m.variants[o.VariantID].Stock++
	}
	m.transitions.Add(1)
	return true, nil
}

func (m *mockDB) AppendOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockDB) orderStatus(orderID int64) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID].Status
}

// Mock CacheRepository.
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}
