package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/tilvera/stockcore/internal/core/domain"
)

const mysqlDupEntry = 1062

// MySQLStock is the durable stock repository. Every mutation is a single
// conditional UPDATE evaluated by MySQL, so concurrent writers on the same
// row are linearized server-side. It deliberately does not implement
// port.BatchReserver; the ledger runs its ordered single-item loop instead.
type MySQLStock struct {
	db *sql.DB
}

func NewMySQLStock(db *sql.DB) *MySQLStock {
	return &MySQLStock{db: db}
}

func (m *MySQLStock) Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT product_name, unit_price, current_stock, min_stock_level, max_stock_level,
		       is_active, version, updated_at
		FROM stock_records WHERE store_id = ? AND product_id = ?`,
		storeID, productID)
	rec, err := scanStockRecord(row, storeID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query stock record: %w", err)
	}
	return &rec, nil
}

func (m *MySQLStock) Put(ctx context.Context, rec domain.StockRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_records
			(store_id, product_id, product_name, unit_price, current_stock,
			 min_stock_level, max_stock_level, is_active, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE
			product_name = VALUES(product_name),
			unit_price = VALUES(unit_price),
			current_stock = VALUES(current_stock),
			min_stock_level = VALUES(min_stock_level),
			max_stock_level = VALUES(max_stock_level),
			is_active = VALUES(is_active),
			version = version + 1,
			updated_at = NOW()`,
		rec.StoreID, rec.ProductID, rec.ProductName, rec.UnitPrice.String(),
		rec.CurrentStock, rec.MinStockLevel, rec.MaxStockLevel, rec.Active)
	if err != nil {
		return fmt.Errorf("put stock record: %w", err)
	}
	return nil
}

func (m *MySQLStock) Adjust(ctx context.Context, storeID, productID string, delta int, reason string) (domain.Adjustment, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	adj, err := adjustInTx(ctx, tx, storeID, productID, delta)
	if err != nil {
		return domain.Adjustment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Adjustment{}, fmt.Errorf("commit adjust: %w", err)
	}
	return adj, nil
}

// adjustInTx is the conditional write: the predicate lives in the WHERE
// clause, so the check and the mutation are one indivisible statement.
func adjustInTx(ctx context.Context, tx *sql.Tx, storeID, productID string, delta int) (domain.Adjustment, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET current_stock = current_stock + ?, version = version + 1, updated_at = NOW()
		WHERE store_id = ? AND product_id = ? AND is_active = 1
		  AND current_stock + ? >= 0`,
		delta, storeID, productID, delta)
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("conditional update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Rejected: missing record or predicate failure. One read tells which.
		var current int
		err := tx.QueryRowContext(ctx, `
			SELECT current_stock FROM stock_records
			WHERE store_id = ? AND product_id = ? AND is_active = 1`,
			storeID, productID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Adjustment{}, domain.ErrNotFound
		}
		if err != nil {
			return domain.Adjustment{}, fmt.Errorf("query rejected stock: %w", err)
		}
		return domain.Adjustment{}, &domain.InsufficientStockError{Shortages: []domain.Shortage{{
			ProductID: productID,
			Requested: -delta,
			Available: current,
			Shortage:  -delta - current,
		}}}
	}

	var newStock int
	if err := tx.QueryRowContext(ctx, `
		SELECT current_stock FROM stock_records WHERE store_id = ? AND product_id = ?`,
		storeID, productID).Scan(&newStock); err != nil {
		return domain.Adjustment{}, fmt.Errorf("query new stock: %w", err)
	}
	return domain.Adjustment{
		StoreID:       storeID,
		ProductID:     productID,
		PreviousStock: newStock - delta,
		NewStock:      newStock,
	}, nil
}

// Release credits quantities back exactly once per operation id: the marker
// row insert and the credits commit or roll back together.
func (m *MySQLStock) Release(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stock_releases (op_id, store_id, applied_at) VALUES (?, ?, NOW())`,
		opID, storeID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
			return false, nil
		}
		return false, fmt.Errorf("claim release marker: %w", err)
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_records
			SET current_stock = current_stock + ?, version = version + 1, updated_at = NOW()
			WHERE store_id = ? AND product_id = ?`,
			it.Quantity, storeID, it.ProductID); err != nil {
			return false, fmt.Errorf("credit %s: %w", it.ProductID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit release: %w", err)
	}
	return true, nil
}

func (m *MySQLStock) LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error) {
	query := `
		SELECT product_id, product_name, unit_price, current_stock, min_stock_level,
		       max_stock_level, is_active, version, updated_at
		FROM stock_records
		WHERE store_id = ? AND is_active = 1 AND current_stock <= `
	args := []interface{}{storeID}
	if threshold != nil {
		query += "?"
		args = append(args, *threshold)
	} else {
		query += "min_stock_level"
	}
	query += " ORDER BY product_id"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StockRecord, 0)
	for rows.Next() {
		var (
			rec      domain.StockRecord
			priceStr string
		)
		rec.StoreID = storeID
		if err := rows.Scan(&rec.ProductID, &rec.ProductName, &priceStr, &rec.CurrentStock,
			&rec.MinStockLevel, &rec.MaxStockLevel, &rec.Active, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan low stock row: %w", err)
		}
		if rec.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", rec.ProductID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *MySQLStock) Aggregate(ctx context.Context, storeID string) (domain.Summary, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(current_stock), 0),
		       COALESCE(SUM(current_stock <= min_stock_level), 0),
		       COALESCE(SUM(unit_price * current_stock), 0)
		FROM stock_records WHERE store_id = ? AND is_active = 1`,
		storeID)
	var (
		sum      domain.Summary
		valueStr string
	)
	sum.StoreID = storeID
	sum.GeneratedAt = time.Now()
	if err := row.Scan(&sum.TotalProducts, &sum.TotalUnits, &sum.LowStockCount, &valueStr); err != nil {
		return domain.Summary{}, fmt.Errorf("aggregate stock: %w", err)
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("parse inventory value: %w", err)
	}
	sum.InventoryValue = value
	return sum, nil
}

func scanStockRecord(row *sql.Row, storeID, productID string) (domain.StockRecord, error) {
	var (
		rec      domain.StockRecord
		priceStr string
	)
	rec.StoreID = storeID
	rec.ProductID = productID
	err := row.Scan(&rec.ProductName, &priceStr, &rec.CurrentStock, &rec.MinStockLevel,
		&rec.MaxStockLevel, &rec.Active, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if rec.UnitPrice, err = decimal.NewFromString(priceStr); err != nil {
		return domain.StockRecord{}, fmt.Errorf("parse price: %w", err)
	}
	return rec, nil
}
