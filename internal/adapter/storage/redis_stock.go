package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tilvera/stockcore/internal/core/domain"
)

const (
	stockKeyPrefix   = "stock:"
	stockIndexPrefix = "stockidx:"
	reserveKeyPrefix = "reserve:"
	releaseKeyPrefix = "release:"
	opMarkerTTL      = 24 * time.Hour
)

// adjustScript applies a delta to one record iff the result stays
// non-negative, as a single atomic operation inside Redis.
// Returns {state, previous, new}: state 1 applied, 0 rejected, -1 not found.
var adjustScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 or redis.call('HGET', key, 'active') ~= '1' then
	return {-1, 0, 0}
end
local cur = tonumber(redis.call('HGET', key, 'current'))
local delta = tonumber(ARGV[1])
local next = cur + delta
if next < 0 then
	return {0, cur, cur}
end
redis.call('HSET', key, 'current', next, 'updated_at', ARGV[2], 'last_reason', ARGV[3])
redis.call('HINCRBY', key, 'version', 1)
return {1, cur, next}
`)

// reserveBatchScript decrements every item or none. One script invocation is
// one atomic unit, so concurrent reservations for the same products are
// linearized by Redis itself. KEYS[1] is an operation marker: it is claimed
// only when the batch applies, so a retried reserve with the same operation
// id after a lost response never decrements twice.
// Returns {1,0,0} on success, {2,0,0} when the operation already applied,
// {0,i,cur} when item i is short, {-1,i,0} when item i is missing or inactive.
var reserveBatchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {2, 0, 0}
end
for i = 2, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 0 or redis.call('HGET', KEYS[i], 'active') ~= '1' then
		return {-1, i - 1, 0}
	end
	local cur = tonumber(redis.call('HGET', KEYS[i], 'current'))
	if cur < tonumber(ARGV[i]) then
		return {0, i - 1, cur}
	end
end
redis.call('SET', KEYS[1], '1', 'EX', tonumber(ARGV[1]))
for i = 2, #KEYS do
	redis.call('HINCRBY', KEYS[i], 'current', -tonumber(ARGV[i]))
	redis.call('HINCRBY', KEYS[i], 'version', 1)
end
return {1, 0, 0}
`)

// releaseScript credits quantities back, guarded by a SETNX marker on the
// operation id so re-running the same release never double-credits.
var releaseScript = redis.NewScript(`
local ok = redis.call('SET', KEYS[1], '1', 'NX', 'EX', tonumber(ARGV[1]))
if not ok then
	return 0
end
for i = 2, #KEYS do
	redis.call('HINCRBY', KEYS[i], 'current', tonumber(ARGV[i]))
	redis.call('HINCRBY', KEYS[i], 'version', 1)
end
return 1
`)

// RedisStock is the fast-path stock repository. Records live in hashes keyed
// by (store, product); a per-store set indexes the products for scans.
type RedisStock struct {
	client *redis.Client
}

func NewRedisStock(client *redis.Client) *RedisStock {
	return &RedisStock{client: client}
}

func recordKey(storeID, productID string) string {
	return stockKeyPrefix + storeID + ":" + productID
}

func (r *RedisStock) Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	fields, err := r.client.HGetAll(ctx, recordKey(storeID, productID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall stock: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	rec, err := recordFromHash(storeID, productID, fields)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStock) Put(ctx context.Context, rec domain.StockRecord) error {
	key := recordKey(rec.StoreID, rec.ProductID)
	active := "0"
	if rec.Active {
		active = "1"
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":       rec.ProductName,
		"price":      rec.UnitPrice.String(),
		"current":    rec.CurrentStock,
		"min":        rec.MinStockLevel,
		"max":        rec.MaxStockLevel,
		"active":     active,
		"version":    rec.Version,
		"updated_at": time.Now().Unix(),
	})
	pipe.SAdd(ctx, stockIndexPrefix+rec.StoreID, rec.ProductID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put stock record: %w", err)
	}
	return nil
}

func (r *RedisStock) Adjust(ctx context.Context, storeID, productID string, delta int, reason string) (domain.Adjustment, error) {
	res, err := adjustScript.Run(ctx, r.client,
		[]string{recordKey(storeID, productID)},
		delta, time.Now().Unix(), reason,
	).Int64Slice()
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("adjust script: %w", err)
	}
	state, prev, next := res[0], int(res[1]), int(res[2])
	switch state {
	case 1:
		return domain.Adjustment{
			StoreID:       storeID,
			ProductID:     productID,
			PreviousStock: prev,
			NewStock:      next,
		}, nil
	case 0:
		return domain.Adjustment{}, &domain.InsufficientStockError{Shortages: []domain.Shortage{{
			ProductID: productID,
			Requested: -delta,
			Available: prev,
			Shortage:  -delta - prev,
		}}}
	default:
		return domain.Adjustment{}, domain.ErrNotFound
	}
}

// ReserveBatch implements port.BatchReserver: all items are decremented in a
// single script, or none are. Guarded by an operation marker so a repeated
// call with the same op id is a no-op after the batch has applied.
func (r *RedisStock) ReserveBatch(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) error {
	keys := make([]string, 0, len(items)+1)
	keys = append(keys, reserveKeyPrefix+opID)
	args := make([]interface{}, 0, len(items)+1)
	args = append(args, int(opMarkerTTL.Seconds()))
	for _, it := range items {
		keys = append(keys, recordKey(storeID, it.ProductID))
		args = append(args, it.Quantity)
	}
	res, err := reserveBatchScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("reserve batch script: %w", err)
	}
	switch res[0] {
	case 1, 2:
		return nil
	case 0:
		failed := items[res[1]-1]
		return &domain.InsufficientStockError{Shortages: []domain.Shortage{{
			ProductID: failed.ProductID,
			Requested: failed.Quantity,
			Available: int(res[2]),
			Shortage:  failed.Quantity - int(res[2]),
		}}}
	default:
		return fmt.Errorf("product %s: %w", items[res[1]-1].ProductID, domain.ErrNotFound)
	}
}

func (r *RedisStock) Release(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) (bool, error) {
	keys := make([]string, 0, len(items)+1)
	keys = append(keys, releaseKeyPrefix+opID)
	args := make([]interface{}, 0, len(items)+1)
	args = append(args, int(opMarkerTTL.Seconds()))
	for _, it := range items {
		keys = append(keys, recordKey(storeID, it.ProductID))
		args = append(args, it.Quantity)
	}
	applied, err := releaseScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("release script: %w", err)
	}
	return applied == 1, nil
}

func (r *RedisStock) LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error) {
	records, err := r.scanStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockRecord, 0)
	for _, rec := range records {
		if rec.Active && rec.LowOnStock(threshold) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RedisStock) Aggregate(ctx context.Context, storeID string) (domain.Summary, error) {
	records, err := r.scanStore(ctx, storeID)
	if err != nil {
		return domain.Summary{}, err
	}
	sum := domain.Summary{StoreID: storeID, InventoryValue: decimal.Zero, GeneratedAt: time.Now()}
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		sum.TotalProducts++
		sum.TotalUnits += rec.CurrentStock
		if rec.LowOnStock(nil) {
			sum.LowStockCount++
		}
		sum.InventoryValue = sum.InventoryValue.Add(
			rec.UnitPrice.Mul(decimal.NewFromInt(int64(rec.CurrentStock))))
	}
	return sum, nil
}

func (r *RedisStock) scanStore(ctx context.Context, storeID string) ([]domain.StockRecord, error) {
	ids, err := r.client.SMembers(ctx, stockIndexPrefix+storeID).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers stock index: %w", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	pipe := r.client.Pipeline()
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, recordKey(storeID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	out := make([]domain.StockRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(storeID, ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordFromHash(storeID, productID string, fields map[string]string) (domain.StockRecord, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("parse price for %s: %w", productID, err)
	}
	current, _ := strconv.Atoi(fields["current"])
	min, _ := strconv.Atoi(fields["min"])
	max, _ := strconv.Atoi(fields["max"])
	version, _ := strconv.ParseInt(fields["version"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return domain.StockRecord{
		StoreID:       storeID,
		ProductID:     productID,
		ProductName:   fields["name"],
		UnitPrice:     price,
		CurrentStock:  current,
		MinStockLevel: min,
		MaxStockLevel: max,
		Active:        fields["active"] == "1",
		Version:       version,
		UpdatedAt:     time.Unix(updated, 0),
	}, nil
}
