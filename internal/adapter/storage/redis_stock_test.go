package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilvera/stockcore/internal/core/domain"
)

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func seedRedisRecord(t *testing.T, repo *RedisStock, storeID, productID string, stock int) {
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

func freshStore(t *testing.T) string {
	return "test-store-" + uuid.NewString()[:8]
}

func TestRedisStock_PutGetRoundtrip(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "widget", 10)

	rec, err := repo.Get(context.Background(), storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.CurrentStock)
	assert.Equal(t, 2, rec.MinStockLevel)
	assert.True(t, rec.Active)
	assert.True(t, rec.UnitPrice.Equal(decimal.RequireFromString("9.99")))

	_, err = repo.Get(context.Background(), storeID, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStock_AdjustConditional(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "widget", 5)
	ctx := context.Background()

	adj, err := repo.Adjust(ctx, storeID, "widget", -3, "test")
	require.NoError(t, err)
	assert.Equal(t, 5, adj.PreviousStock)
	assert.Equal(t, 2, adj.NewStock)

	// A delta that would go negative is rejected atomically.
	_, err = repo.Adjust(ctx, storeID, "widget", -3, "test")
	var insErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 1, insErr.Shortages[0].Shortage)

	rec, err := repo.Get(ctx, storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.CurrentStock)
}

func TestRedisStock_AdjustConcurrentNeverNegative(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "widget", 20)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
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

	assert.Equal(t, 20, succeeded)
	rec, err := repo.Get(ctx, storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStock)
}

func TestRedisStock_ReserveBatchAllOrNothing(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "p", 5)
	seedRedisRecord(t, repo, storeID, "q", 1)
	ctx := context.Background()

	err := repo.ReserveBatch(ctx, uuid.NewString(), storeID, []domain.ItemQuantity{
		{ProductID: "p", Quantity: 2},
		{ProductID: "q", Quantity: 3},
	})
	var insErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "q", insErr.Shortages[0].ProductID)
	assert.Equal(t, 2, insErr.Shortages[0].Shortage)

	// Neither item was touched.
	rec, err := repo.Get(ctx, storeID, "p")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.CurrentStock)
	rec, err = repo.Get(ctx, storeID, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentStock)

	// With satisfiable quantities the whole batch lands.
	err = repo.ReserveBatch(ctx, uuid.NewString(), storeID, []domain.ItemQuantity{
		{ProductID: "p", Quantity: 2},
		{ProductID: "q", Quantity: 1},
	})
	require.NoError(t, err)
	rec, err = repo.Get(ctx, storeID, "p")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.CurrentStock)
	rec, err = repo.Get(ctx, storeID, "q")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStock)
}

func TestRedisStock_ReserveBatchIdempotentPerOperation(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "p", 10)
	seedRedisRecord(t, repo, storeID, "q", 10)
	ctx := context.Background()
	opID := uuid.NewString()
	items := []domain.ItemQuantity{
		{ProductID: "p", Quantity: 2},
		{ProductID: "q", Quantity: 3},
	}

	require.NoError(t, repo.ReserveBatch(ctx, opID, storeID, items))

	// A repeat with the same operation id, as after a lost response and a
	// retry, must not decrement a second time.
	require.NoError(t, repo.ReserveBatch(ctx, opID, storeID, items))

	rec, err := repo.Get(ctx, storeID, "p")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.CurrentStock)
	rec, err = repo.Get(ctx, storeID, "q")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.CurrentStock)

	// A fresh operation id reserves again.
	require.NoError(t, repo.ReserveBatch(ctx, uuid.NewString(), storeID, items))
	rec, err = repo.Get(ctx, storeID, "p")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.CurrentStock)
}

func TestRedisStock_ReleaseIdempotent(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "widget", 10)
	ctx := context.Background()
	opID := uuid.NewString()
	items := []domain.ItemQuantity{{ProductID: "widget", Quantity: 4}}

	applied, err := repo.Release(ctx, opID, storeID, items)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.Release(ctx, opID, storeID, items)
	require.NoError(t, err)
	assert.False(t, applied, "second release with same op id must be a no-op")

	rec, err := repo.Get(ctx, storeID, "widget")
	require.NoError(t, err)
	assert.Equal(t, 14, rec.CurrentStock)
}

func TestRedisStock_LowStockAndAggregate(t *testing.T) {
	repo := NewRedisStock(getRedis(t))
	storeID := freshStore(t)
	seedRedisRecord(t, repo, storeID, "plenty", 50)
	seedRedisRecord(t, repo, storeID, "scarce", 1)
	ctx := context.Background()

	low, err := repo.LowStock(ctx, storeID, nil)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "scarce", low[0].ProductID)

	sum, err := repo.Aggregate(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalProducts)
	assert.Equal(t, 51, sum.TotalUnits)
	assert.Equal(t, 1, sum.LowStockCount)
	assert.True(t, sum.InventoryValue.Equal(decimal.RequireFromString("509.49")),
		"value %s", sum.InventoryValue)
}
