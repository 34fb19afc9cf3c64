package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tilvera/stockcore/internal/core/domain"
	"github.com/tilvera/stockcore/internal/observe"
	"github.com/tilvera/stockcore/internal/port"
)

// Ledger is the single writer of stock quantities. Every mutation is a
// conditional write executed by the repository; the ledger itself holds no
// locks, so no sequence of concurrent calls can drive stock negative.
type Ledger struct {
	repo       port.StockRepository
	cache      port.SummaryCache
	reconciler port.Reconciler
	logger     zerolog.Logger
	metrics    *observe.Metrics
	retry      RetrySettings
	batchLimit int
}

func NewLedger(repo port.StockRepository, cache port.SummaryCache, reconciler port.Reconciler,
	logger zerolog.Logger, metrics *observe.Metrics, retry RetrySettings, batchLimit int) *Ledger {
	return &Ledger{
		repo:       repo,
		cache:      cache,
		reconciler: reconciler,
		logger:     logger.With().Str("component", "ledger").Logger(),
		metrics:    metrics,
		retry:      retry,
		batchLimit: batchLimit,
	}
}

// CheckAvailability is a pure read; it never blocks writers. Availability
// can change between this check and a reserve, so callers treat it as a
// fast path only.
func (l *Ledger) CheckAvailability(ctx context.Context, storeID, productID string, required int) (domain.Availability, error) {
	var rec *domain.StockRecord
	err := withRetry(ctx, l.logger, l.retry, "check availability", func() error {
		var err error
		rec, err = l.repo.Get(ctx, storeID, productID)
		return err
	})
	if err != nil {
		return domain.Availability{}, err
	}
	if !rec.Active {
		return domain.Availability{}, domain.ErrNotFound
	}
	return domain.NewAvailability(productID, rec.CurrentStock, required), nil
}

// Adjust applies a single conditional stock mutation. A rejected negative
// delta surfaces as *domain.InsufficientStockError, never as a negative
// stock value.
func (l *Ledger) Adjust(ctx context.Context, storeID, productID string, delta int, reason string) (domain.Adjustment, error) {
	var adj domain.Adjustment
	err := withRetry(ctx, l.logger, l.retry, "adjust", func() error {
		var err error
		adj, err = l.repo.Adjust(ctx, storeID, productID, delta, reason)
		return err
	})
	if err != nil {
		return domain.Adjustment{}, err
	}
	l.cache.Invalidate(storeID)
	l.logger.Debug().Str("store_id", storeID).Str("product_id", productID).
		Int("delta", delta).Int("new_stock", adj.NewStock).Str("reason", reason).
		Msg("stock adjusted")
	return adj, nil
}

// ReserveMany decrements stock for all items or none. When the repository
// offers an all-or-nothing batch write it is used directly; otherwise items
// are adjusted one at a time in ascending product order and any failure
// triggers immediate compensation of the already-applied subset.
func (l *Ledger) ReserveMany(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > l.batchLimit {
		return fmt.Errorf("%d items: %w", len(items), domain.ErrBatchTooLarge)
	}
	timer := prometheus.NewTimer(l.metrics.ReserveDuration)
	defer timer.ObserveDuration()

	sorted := make([]domain.ItemQuantity, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var err error
	if batcher, ok := l.repo.(port.BatchReserver); ok {
		err = withRetry(ctx, l.logger, l.retry, "reserve batch", func() error {
			return batcher.ReserveBatch(ctx, opID, storeID, sorted)
		})
	} else {
		err = l.reserveSequential(ctx, opID, storeID, sorted)
	}
	if err != nil {
		return err
	}
	l.cache.Invalidate(storeID)
	return nil
}

// reserveSequential is the fallback path for repositories without batch
// conditional writes. The stable ascending order avoids starvation across
// concurrent multi-item reservations.
func (l *Ledger) reserveSequential(ctx context.Context, opID, storeID string, sorted []domain.ItemQuantity) error {
	applied := make([]domain.ItemQuantity, 0, len(sorted))
	for _, it := range sorted {
		item := it
		err := withRetry(ctx, l.logger, l.retry, "reserve item", func() error {
			_, e := l.repo.Adjust(ctx, storeID, item.ProductID, -item.Quantity, "reserve:"+opID)
			return e
		})
		if err == nil {
			applied = append(applied, it)
			continue
		}

		// The applied subset must be credited back before returning.
		if len(applied) > 0 {
			if relErr := l.ReleaseMany(ctx, opID, storeID, applied); relErr != nil {
				l.escalate(ctx, opID, storeID, applied, relErr)
			}
			l.cache.Invalidate(storeID)
		}
		return &domain.PartialFailureError{
			Succeeded: applied,
			Failed:    shortageFromError(it, err),
			Cause:     err,
		}
	}
	return nil
}

// ReleaseMany credits reserved quantities back. It is idempotent per
// operation id: a repeated call after a prior successful release is a no-op.
func (l *Ledger) ReleaseMany(ctx context.Context, opID, storeID string, items []domain.ItemQuantity) error {
	if len(items) == 0 {
		return nil
	}
	var applied bool
	err := withRetry(ctx, l.logger, l.retry, "release", func() error {
		var err error
		applied, err = l.repo.Release(ctx, opID, storeID, items)
		return err
	})
	if err != nil {
		return err
	}
	l.cache.Invalidate(storeID)
	if !applied {
		l.logger.Debug().Str("op_id", opID).Msg("release already applied, skipped")
		return nil
	}
	l.logger.Info().Str("op_id", opID).Str("store_id", storeID).
		Int("items", len(items)).Msg("stock released")
	return nil
}

// LowStock lists records at or below their reorder point. threshold, when
// non-nil, overrides each record's own minimum level.
func (l *Ledger) LowStock(ctx context.Context, storeID string, threshold *int) ([]domain.StockRecord, error) {
	var records []domain.StockRecord
	err := withRetry(ctx, l.logger, l.retry, "low stock", func() error {
		var err error
		records, err = l.repo.LowStock(ctx, storeID, threshold)
		return err
	})
	return records, err
}

// Summary serves the aggregate snapshot through the cache. The cache is an
// optimization only; reserve and release always read the ledger directly.
func (l *Ledger) Summary(ctx context.Context, storeID string) (domain.Summary, error) {
	if s, ok := l.cache.Get(storeID); ok {
		l.metrics.CacheHits.Inc()
		return s, nil
	}
	l.metrics.CacheMisses.Inc()

	var s domain.Summary
	err := withRetry(ctx, l.logger, l.retry, "aggregate", func() error {
		var err error
		s, err = l.repo.Aggregate(ctx, storeID)
		return err
	})
	if err != nil {
		return domain.Summary{}, err
	}
	l.cache.Set(storeID, s)
	return s, nil
}

func (l *Ledger) escalate(ctx context.Context, opID, storeID string, items []domain.ItemQuantity, cause error) {
	l.metrics.CompensationFailures.Inc()
	l.logger.WithLevel(zerolog.FatalLevel).Err(cause).
		Str("op_id", opID).Str("store_id", storeID).
		Msg("self-compensation failed, stock under-credited until reconciled")
	l.reconciler.Escalate(ctx, port.CompensationReport{
		OperationID: opID,
		StoreID:     storeID,
		Items:       items,
		Cause:       cause,
		OccurredAt:  nowUTC(),
	})
}

func shortageFromError(item domain.ItemQuantity, err error) domain.Shortage {
	var insErr *domain.InsufficientStockError
	if errors.As(err, &insErr) && len(insErr.Shortages) > 0 {
		return insErr.Shortages[0]
	}
	return domain.Shortage{ProductID: item.ProductID, Requested: item.Quantity}
}
