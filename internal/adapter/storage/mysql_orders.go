package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/tilvera/stockcore/internal/core/domain"
)

// MySQLOrders persists order records. The idempotency key carries a unique
// index; a duplicate insert is read back as the already-committed order
// rather than treated as a failure.
type MySQLOrders struct {
	db *sql.DB
}

func NewMySQLOrders(db *sql.DB) *MySQLOrders {
	return &MySQLOrders{db: db}
}

func (m *MySQLOrders) Create(ctx context.Context, order domain.Order) (*domain.Order, bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, customer_id, idempotency_key, total, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.StoreID, order.CustomerID, order.IdempotencyKey,
		order.Total.String(), order.Status, order.CreatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
			existing, lookupErr := m.GetByIdempotencyKey(ctx, order.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("lookup existing order: %w", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	for _, li := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?)`,
			order.ID, li.ProductID, li.Quantity, li.UnitPrice.String()); err != nil {
			return nil, false, fmt.Errorf("insert order item %s: %w", li.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit order: %w", err)
	}
	return &order, true, nil
}

func (m *MySQLOrders) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.getOrder(ctx, `WHERE id = ?`, orderID)
}

func (m *MySQLOrders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return m.getOrder(ctx, `WHERE idempotency_key = ?`, key)
}

func (m *MySQLOrders) getOrder(ctx context.Context, where string, arg interface{}) (*domain.Order, error) {
	var (
		order    domain.Order
		totalStr string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, store_id, customer_id, idempotency_key, total, status, created_at
		FROM orders `+where, arg,
	).Scan(&order.ID, &order.StoreID, &order.CustomerID, &order.IdempotencyKey,
		&totalStr, &order.Status, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if order.Total, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price FROM order_items
		WHERE order_id = ? ORDER BY product_id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			li       domain.LineItem
			priceStr string
		)
		if err := rows.Scan(&li.ProductID, &li.Quantity, &priceStr); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if li.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse item price: %w", err)
		}
		order.Items = append(order.Items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}
