package service

import (
	"context"
	"sync"

	"github.com/tilvera/stockcore/internal/core/domain"
	"github.com/tilvera/stockcore/internal/port"
)

// memStockRepo is an in-memory StockRepository with the same conditional
// semantics as the real adapters: the predicate and the mutation are applied
// under one lock. It does not implement port.BatchReserver, so the ledger
// exercises its sequential fallback; memBatchRepo adds the batch capability.
type memStockRepo struct {
	mu       sync.Mutex
	records  map[string]*domain.StockRecord
	released map[string]bool

	adjustErr     func(productID string, delta int) error
	releaseErr    error
	getErr        error
	adjustCalls   int
	releaseCalls  int
	aggregateRuns int
}

func newMemStockRepo() *memStockRepo {
	return &memStockRepo{
		records:  make(map[string]*domain.StockRecord),
		released: make(map[string]bool),
	}
}

func key(storeID, productID string) string { return storeID + "|" + productID }

func (m *memStockRepo) seed(rec domain.StockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.records[key(rec.StoreID, rec.ProductID)] = &r
}

func (m *memStockRepo) stock(storeID, productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key(storeID, productID)]; ok {
		return rec.CurrentStock
	}
	return -1
}

func (m *memStockRepo) Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[key(storeID, productID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStockRepo) Put(ctx context.Context, rec domain.StockRecord) error {
	m.seed(rec)
	return nil
}

func (m *memStockRepo) Adjust(ctx context.Context, storeID, productID string, delta int, reason string) (domain.Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustCalls++
	if m.adjustErr != nil {
		if err := m.adjustErr(productID, delta); err != nil {
			return domain.Adjustment{}, err
		}
	}
	rec, ok := m.records[key(storeID, productID)]
	if !ok || !rec.Active {
		return domain.Adjustment{}, domain.ErrNotFound
	}
	next := rec.CurrentStock + delta
	if next < 0 {
		return domain.Adjustment{}, &domain.InsufficientStockError{Shortages: []domain.Shortage{{
			ProductID: productID,
			Requested: -delta,
			Available: rec.CurrentStock,
			Shortage:  -delta - rec.CurrentStock,
		}}}
	}
	prev := rec.CurrentStock
	rec.CurrentStock = next
	rec.Version++
	return domain.Adjustment{StoreID: storeID, ProductID: productID, PreviousStock: prev, NewStock: next}, nil
}

func (m *memStockRepo) Release(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	if m.releaseErr != nil {
		return false, m.releaseErr
	}
	if m.released[opID] {
		return false, nil
	}
	m.released[opID] = true
	for _, it := range items {
		if rec, ok := m.records[key(storeID, it.ProductID)]; ok {
			rec.CurrentStock += it.Quantity
			rec.Version++
		}
	}
	return true, nil
}

func (m *memStockRepo) LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockRecord
	for _, rec := range m.records {
		if rec.StoreID == storeID && rec.Active && rec.LowOnStock(threshold) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStockRepo) Aggregate(ctx context.Context, storeID string) (domain.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregateRuns++
	sum := domain.Summary{StoreID: storeID}
	for _, rec := range m.records {
		if rec.StoreID != storeID || !rec.Active {
			continue
		}
		sum.TotalProducts++
		sum.TotalUnits += rec.CurrentStock
		if rec.LowOnStock(nil) {
			sum.LowStockCount++
		}
	}
	return sum, nil
}

// memBatchRepo layers an all-or-nothing reserve over memStockRepo.
type memBatchRepo struct {
	*memStockRepo
}

func (m *memBatchRepo) ReserveBatch(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		rec, ok := m.records[key(storeID, it.ProductID)]
		if !ok || !rec.Active {
			return domain.ErrNotFound
		}
		if rec.CurrentStock < it.Quantity {
			return &domain.InsufficientStockError{Shortages: []domain.Shortage{{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: rec.CurrentStock,
				Shortage:  it.Quantity - rec.CurrentStock,
			}}}
		}
	}
	for _, it := range items {
		rec := m.records[key(storeID, it.ProductID)]
		rec.CurrentStock -= it.Quantity
		rec.Version++
	}
	return nil
}

// memOrderRepo enforces the unique idempotency key under one lock, the way
// the MySQL adapter's unique index does.
type memOrderRepo struct {
	mu        sync.Mutex
	byKey     map[string]*domain.Order
	createErr error
	creates   int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byKey: make(map[string]*domain.Order)}
}

func (m *memOrderRepo) Create(ctx context.Context, order domain.Order) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if existing, ok := m.byKey[order.IdempotencyKey]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := order
	m.byKey[order.IdempotencyKey] = &cp
	return &cp, true, nil
}

func (m *memOrderRepo) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byKey {
		if o.ID == orderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byKey[key]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// recordingCache tracks invalidations so tests can assert the
// invalidate-on-write contract.
type recordingCache struct {
	mu            sync.Mutex
	entries       map[string]domain.Summary
	invalidations []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]domain.Summary)}
}

func (c *recordingCache) Get(storeID string) (domain.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[storeID]
	return s, ok
}

func (c *recordingCache) Set(storeID string, s domain.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[storeID] = s
}

func (c *recordingCache) Invalidate(storeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, storeID)
	c.invalidations = append(c.invalidations, storeID)
}

func (c *recordingCache) invalidated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invalidations)
}

// recordingReconciler captures escalated compensation reports.
type recordingReconciler struct {
	mu      sync.Mutex
	reports []port.CompensationReport
}

func (r *recordingReconciler) Escalate(ctx context.Context, rep port.CompensationReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recordingReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}
