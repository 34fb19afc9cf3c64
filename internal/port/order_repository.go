package port

import (
	"context"

	"github.com/tilvera/stockcore/internal/core/domain"
)

// OrderRepository persists order records. Append-only from this core's
// perspective: committed orders are never mutated here.
type OrderRepository interface {
	// Create persists the order iff no order with the same idempotency key
	// exists. On a duplicate key it returns the existing order and
	// created=false instead of an error, so the caller can treat the attempt
	// as already committed.
	Create(ctx context.Context, order domain.Order) (existing *domain.Order, created bool, err error)

	// GetByID returns the order or domain.ErrNotFound.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey returns the order or domain.ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}
