package port

import (
	"context"

	"github.com/tilvera/stockcore/internal/core/domain"
)

// StockRepository is the backing-store contract for stock records. All
// mutations are conditional writes evaluated atomically by the store itself,
// never read-modify-write in application code.
type StockRepository interface {
	// Get returns the record or domain.ErrNotFound.
	Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error)

	// Put creates or replaces a record. Used for provisioning and seeding.
	Put(ctx context.Context, rec domain.StockRecord) error

	// Adjust applies delta to current_stock iff the result stays non-negative
	// and the record is active. A rejected negative delta surfaces as
	// *domain.InsufficientStockError; a missing record as domain.ErrNotFound.
	Adjust(ctx context.Context, storeID, productID string, delta int, reason string) (domain.Adjustment, error)

	// Release credits back the given quantities, guarded by opID so a repeated
	// release with the same id is a no-op. Returns whether this call applied.
	Release(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) (bool, error)

	// LowStock lists active records at or below their reorder point.
	LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error)

	// Aggregate computes a fresh inventory summary for one store.
	Aggregate(ctx context.Context, storeID string) (domain.Summary, error)
}

// BatchReserver is an optional capability: an all-or-nothing conditional
// decrement across several items of one store. Adapters that cannot offer it
// simply don't implement the interface and the ledger falls back to an
// ordered single-item loop with compensation.
type BatchReserver interface {
	// ReserveBatch either decrements every item or none. A rejection surfaces
	// as *domain.InsufficientStockError naming the first failing item;
	// domain.ErrNotFound if any record is missing.
	ReserveBatch(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) error
}
