package storage

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilvera/stockcore/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockcore?parseTime=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	applySchema(t, db)
	t.Cleanup(func() { db.Close() })
	return db
}

func applySchema(t *testing.T, db *sql.DB) {
	t.Helper()
	data, err := os.ReadFile("../../../schema.sql")
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(data), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func seedMySQLRecord(t *testing.T, repo *MySQLStock, storeID, productID string, stock int) {
	t.Helper()
	err := repo.Put(context.Background(), domain.StockRecord{
		StoreID:       storeID,
		ProductID:     productID,
		ProductName:   "Test " + productID,
		UnitPrice:     decimal.RequireFromString("9.99"),
		CurrentStock:  stock,
		MinStockLevel: 2,
		MaxStockLevel: 100,
		Active:        true,
	})
	require.NoError(t, err)
}

func TestMySQLStock_AdjustConditional(t *testing.T) {
	repo := NewMySQLStock(getMySQLDB(t))
	storeID := freshStore(t)
	seedMySQLRecord(t, repo, storeID, "widget", 5)
	ctx := context.Background()

	adj, err := repo.Adjust(ctx, storeID, "widget", -3, "test")
	require.NoError(t, err)
	assert.Equal(t, 5, adj.PreviousStock)
	assert.Equal(t, 2, adj.NewStock)

	_, err = repo.Adjust(ctx, storeID, "widget", -3, "test")
	var insErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 2, insErr.Shortages[0].Available)

	_, err = repo.Adjust(ctx, storeID, "missing", -1, "test")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMySQLStock_AdjustConcurrentNeverNegative(t *testing.T) {
	repo := NewMySQLStock(getMySQLDB(t))
	storeID := freshStore(t)
	seedMySQLRecord(t, repo, storeID, "widget", 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Adjust(ctx, storeID, "widget", -1, "test"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	rec, err := repo.Get(ctx, storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStock)
}

func TestMySQLStock_InactiveRecordNotAdjustable(t *testing.T) {
	repo := NewMySQLStock(getMySQLDB(t))
	storeID := freshStore(t)
	require.NoError(t, repo.Put(context.Background(), domain.StockRecord{
		StoreID:   storeID,
		ProductID: "retired",
		UnitPrice: decimal.NewFromInt(1),
		Active:    false,
	}))

	_, err := repo.Adjust(context.Background(), storeID, "retired", -1, "test")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMySQLStock_ReleaseIdempotent(t *testing.T) {
	repo := NewMySQLStock(getMySQLDB(t))
	storeID := freshStore(t)
	seedMySQLRecord(t, repo, storeID, "widget", 10)
	ctx := context.Background()
	opID := uuid.NewString()
	items := []domain.ItemQuantity{{ProductID: "widget", Quantity: 4}}

	applied, err := repo.Release(ctx, opID, storeID, items)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.Release(ctx, opID, storeID, items)
	require.NoError(t, err)
	assert.False(t, applied)

	rec, err := repo.Get(ctx, storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 14, rec.CurrentStock)
}

func TestMySQLStock_LowStockAndAggregate(t *testing.T) {
	repo := NewMySQLStock(getMySQLDB(t))
	storeID := freshStore(t)
	seedMySQLRecord(t, repo, storeID, "plenty", 50)
	seedMySQLRecord(t, repo, storeID, "scarce", 1)
	ctx := context.Background()

	low, err := repo.LowStock(ctx, storeID, nil)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "scarce", low[0].ProductID)

	threshold := 60
	low, err = repo.LowStock(ctx, storeID, &threshold)
	require.NoError(t, err)
	assert.Len(t, low, 2)

	sum, err := repo.Aggregate(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalProducts)
	assert.Equal(t, 51, sum.TotalUnits)
	assert.Equal(t, 1, sum.LowStockCount)
	assert.True(t, sum.InventoryValue.Equal(decimal.RequireFromString("509.49")),
		"value %s", sum.InventoryValue)
}
