package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/repair-market/internal/core/domain"
)

// ErrCompensationMissed signals that a status change committed without
// its matching stock increment would have occurred. Treated as an
// integrity fault: the transaction is rolled back, nothing is silently
// corrected.
var ErrCompensationMissed = errors.New("stock compensation did not apply")

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the tables when absent.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id         VARCHAR(64)  PRIMARY KEY,
			vendor_id  VARCHAR(64)  NOT NULL,
			name       VARCHAR(255) NOT NULL,
			created_at DATETIME     NOT NULL,
			updated_at DATETIME     NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS variants (
			id         VARCHAR(64)   PRIMARY KEY,
			service_id VARCHAR(64)   NOT NULL,
			name       VARCHAR(255)  NOT NULL,
			price      DECIMAL(10,2) NOT NULL,
			stock      INT           NOT NULL,
			active     TINYINT(1)    NOT NULL DEFAULT 1,
			created_at DATETIME      NOT NULL,
			updated_at DATETIME      NOT NULL,
			KEY idx_variants_service (service_id),
			CONSTRAINT chk_variants_stock CHECK (stock >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id           BIGINT        AUTO_INCREMENT PRIMARY KEY,
			public_token CHAR(36)      NOT NULL,
			customer_id  VARCHAR(64)   NOT NULL,
			vendor_id    VARCHAR(64)   NOT NULL,
			variant_id   VARCHAR(64)   NOT NULL,
			status       VARCHAR(16)   NOT NULL,
			total_amount DECIMAL(10,2) NOT NULL,
			created_at   DATETIME      NOT NULL,
			updated_at   DATETIME      NOT NULL,
			UNIQUE KEY uq_orders_token (public_token),
			KEY idx_orders_customer (customer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id          BIGINT      AUTO_INCREMENT PRIMARY KEY,
			order_id    BIGINT      NOT NULL,
			variant_id  VARCHAR(64) NOT NULL,
			from_status VARCHAR(16) NOT NULL,
			to_status   VARCHAR(16) NOT NULL,
			occurred_at DATETIME    NOT NULL,
			KEY idx_order_events_order (order_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertService seeds or updates a catalog service row.
func (m *MySQLAdapter) UpsertService(ctx context.Context, id, vendorID, name string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO services (id, vendor_id, name, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE vendor_id = VALUES(vendor_id), name = VALUES(name), updated_at = NOW()`,
		id, vendorID, name,
	)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}

// UpsertVariant seeds or updates a variant row.
func (m *MySQLAdapter) UpsertVariant(ctx context.Context, v domain.Variant) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO variants (id, service_id, name, price, stock, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			service_id = VALUES(service_id), name = VALUES(name), price = VALUES(price),
			stock = VALUES(stock), active = VALUES(active), updated_at = NOW()`,
		v.ID, v.ServiceID, v.Name, v.Price, v.Stock, v.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	var v domain.Variant
	err := m.db.QueryRowContext(ctx, `
		SELECT v.id, v.service_id, s.vendor_id, v.name, v.price, v.stock, v.active, v.created_at, v.updated_at
		FROM variants v
		JOIN services s ON s.id = v.service_id
		WHERE v.id = ?`, variantID,
	).Scan(&v.ID, &v.ServiceID, &v.VendorID, &v.Name, &v.Price, &v.Stock, &v.Active, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query variant: %w", err)
	}
	return &v, nil
}

// ReserveOrder runs the reservation's critical section against the
// database: re-read the variant row under FOR UPDATE, reject on missing,
// inactive or empty stock, otherwise decrement by one and insert the
// pending order with a snapshot of the current price. One transaction;
// both writes commit or neither does.
func (m *MySQLAdapter) ReserveOrder(ctx context.Context, customerID, variantID string) (*domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var v domain.Variant
	err = tx.QueryRowContext(ctx, `
		SELECT v.id, s.vendor_id, v.price, v.stock, v.active
		FROM variants v
		JOIN services s ON s.id = v.service_id
		WHERE v.id = ?
		FOR UPDATE`, variantID,
	).Scan(&v.ID, &v.VendorID, &v.Price, &v.Stock, &v.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock variant row: %w", err)
	}
	if !v.Active {
		return nil, domain.ErrVariantInactive
	}
	if v.Stock <= 0 {
		return nil, domain.ErrOutOfStock
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE variants
		SET stock = stock - 1, updated_at = NOW()
		WHERE id = ? AND stock > 0`, variantID,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, domain.ErrOutOfStock
	}

	now := time.Now()
	order := domain.Order{
		PublicToken: uuid.NewString(),
		CustomerID:  customerID,
		VendorID:    v.VendorID,
		VariantID:   variantID,
		Status:      domain.OrderStatusPending,
		TotalAmount: v.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO orders (public_token, customer_id, vendor_id, variant_id, status, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.PublicToken, order.CustomerID, order.VendorID, order.VariantID,
		order.Status, order.TotalAmount, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = inserted.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) OrderByToken(ctx context.Context, token string) (*domain.Order, error) {
	order, err := m.scanOrder(m.db.QueryRowContext(ctx, `
		SELECT id, public_token, customer_id, vendor_id, variant_id, status, total_amount, created_at, updated_at
		FROM orders WHERE public_token = ?`, token,
	))
	if err != nil {
		return nil, fmt.Errorf("query order by token: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) OrdersByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, public_token, customer_id, vendor_id, variant_id, status, total_amount, created_at, updated_at
		FROM orders WHERE customer_id = ?
		ORDER BY id DESC`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.PublicToken, &o.CustomerID, &o.VendorID, &o.VariantID,
			&o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// TransitionOrder applies the status change only while the order is in
// one of the allowed starting statuses, and when restock is set
// increments the variant's stock in the same transaction. A rejected
// guard is a no-op (false, nil): that is what absorbs duplicate and
// reordered gateway deliveries.
func (m *MySQLAdapter) TransitionOrder(ctx context.Context, orderID int64, from []domain.OrderStatus, to domain.OrderStatus, restock bool) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s has no permitted starting status", to)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), orderID}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE orders
		SET status = ?, updated_at = NOW()
		WHERE id = ? AND status IN (%s)`, placeholders), args...,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if restock {
		result, err := tx.ExecContext(ctx, `
			UPDATE variants
			SET stock = stock + 1, updated_at = NOW()
			WHERE id = (SELECT variant_id FROM orders WHERE id = ?)`, orderID,
		)
		if err != nil {
			return false, fmt.Errorf("restock variant: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return false, ErrCompensationMissed
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

func (m *MySQLAdapter) AppendOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO order_events (order_id, variant_id, from_status, to_status, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.OrderID, ev.VariantID, ev.FromStatus, ev.ToStatus, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.PublicToken, &o.CustomerID, &o.VendorID, &o.VariantID,
		&o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
