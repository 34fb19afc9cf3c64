package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tilvera/stockcore/internal/core/domain"
	"github.com/tilvera/stockcore/internal/observe"
	"github.com/tilvera/stockcore/internal/port"
)

// Outcome tags one terminal result of an order attempt. Callers are expected
// to switch over every variant; there is no untyped failure.
type Outcome string

const (
	OutcomeCommitted              Outcome = "committed"
	OutcomeInvalidRequest         Outcome = "invalid_request"
	OutcomeInsufficientStock      Outcome = "insufficient_stock"
	OutcomeUnavailable            Outcome = "unavailable"
	OutcomeOrderPersistenceFailed Outcome = "order_persistence_failed"
	OutcomeCompensationFailed     Outcome = "compensation_failed"
)

// Saga states for one order attempt, logged as the attempt progresses.
type sagaState string

const (
	stateValidating         sagaState = "validating"
	stateReserving          sagaState = "reserving"
	stateReserved           sagaState = "reserved"
	statePersisting         sagaState = "persisting"
	stateCommitted          sagaState = "committed"
	stateReservationFailed  sagaState = "reservation_failed"
	stateCompensating       sagaState = "compensating"
	stateCompensated        sagaState = "compensated"
	stateCompensationFailed sagaState = "compensation_failed"
)

type PlaceOrderRequest struct {
	StoreID        string
	CustomerID     string
	IdempotencyKey string
	Items          []domain.LineItem
}

// PlaceOrderResult is the tagged outcome of one attempt. Order is set only
// for OutcomeCommitted; Shortages only for OutcomeInsufficientStock; Details
// only for OutcomeInvalidRequest; Err carries the underlying cause for the
// failure outcomes.
type PlaceOrderResult struct {
	Outcome   Outcome
	Order     *domain.Order
	Shortages []domain.Shortage
	Details   []string
	Err       error
}

// Coordinator drives the reservation saga: reserve stock for every line
// item, persist the order, and compensate the reservation if persistence
// fails. It never returns OutcomeCommitted unless both steps succeeded, and
// it never leaves stock deducted without either a committed order or a
// completed compensation.
type Coordinator struct {
	ledger     *Ledger
	orders     port.OrderRepository
	reconciler port.Reconciler
	logger     zerolog.Logger
	metrics    *observe.Metrics
	now        func() time.Time
}

func NewCoordinator(ledger *Ledger, orders port.OrderRepository, reconciler port.Reconciler,
	logger zerolog.Logger, metrics *observe.Metrics) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		orders:     orders,
		reconciler: reconciler,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		metrics:    metrics,
		now:        time.Now,
	}
}

func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) PlaceOrderResult {
	opID := uuid.NewString()
	logger := c.logger.With().
		Str("op_id", opID).
		Str("store_id", req.StoreID).
		Str("idempotency_key", req.IdempotencyKey).
		Logger()

	state := stateValidating
	transition := func(next sagaState) {
		logger.Debug().Str("from", string(state)).Str("to", string(next)).Msg("saga transition")
		state = next
	}

	if details := validate(req); len(details) > 0 {
		c.metrics.OrdersInvalid.Inc()
		return PlaceOrderResult{Outcome: OutcomeInvalidRequest, Details: details}
	}

	// A retry of a committed key must see its order even when that commit
	// drained the stock the pre-check would demand. Lookup failures fall
	// through: the create step still dedupes on the unique key.
	if existing, err := c.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		logger.Info().Str("order_id", existing.ID).Msg("duplicate idempotency key, returning existing order")
		return PlaceOrderResult{Outcome: OutcomeCommitted, Order: existing}
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Err(err).Msg("idempotency lookup failed, proceeding")
	}

	// Fast-path availability pre-check so a hopeless attempt reserves
	// nothing. Atomicity still rests on ReserveMany below.
	shortages, details, err := c.precheck(ctx, req)
	if err != nil {
		return c.systemFailure(logger, err)
	}
	if len(details) > 0 {
		c.metrics.OrdersInvalid.Inc()
		return PlaceOrderResult{Outcome: OutcomeInvalidRequest, Details: details}
	}
	if len(shortages) > 0 {
		c.metrics.OrdersInsufficient.Inc()
		logger.Info().Int("short_items", len(shortages)).Msg("insufficient stock at pre-check")
		return PlaceOrderResult{Outcome: OutcomeInsufficientStock, Shortages: shortages}
	}

	transition(stateReserving)
	quantities := itemQuantities(req.Items)
	if err := c.ledger.ReserveMany(ctx, opID, req.StoreID, quantities); err != nil {
		transition(stateReservationFailed)
		return c.reservationFailure(logger, err)
	}
	transition(stateReserved)

	transition(statePersisting)
	order := domain.NewOrder(req.StoreID, req.CustomerID, req.IdempotencyKey, req.Items, c.now())
	persisted, created, err := c.orders.Create(ctx, order)
	if err != nil {
		transition(stateCompensating)
		c.metrics.CompensationsRun.Inc()
		logger.Warn().Err(err).Msg("order persistence failed, compensating reservation")
		if relErr := c.ledger.ReleaseMany(ctx, opID, req.StoreID, quantities); relErr != nil {
			transition(stateCompensationFailed)
			return c.compensationFailure(ctx, logger, opID, req, quantities, err, relErr)
		}
		transition(stateCompensated)
		return PlaceOrderResult{
			Outcome: OutcomeOrderPersistenceFailed,
			Err:     fmt.Errorf("order persistence failed, reservation compensated: %w", err),
		}
	}

	if !created {
		// A prior attempt with this key already committed. Our fresh
		// reservation double-deducted, so it must be released before
		// returning the existing order.
		logger.Info().Str("order_id", persisted.ID).Msg("duplicate idempotency key, returning existing order")
		if relErr := c.ledger.ReleaseMany(ctx, opID, req.StoreID, quantities); relErr != nil {
			transition(stateCompensationFailed)
			return c.compensationFailure(ctx, logger, opID, req, quantities, nil, relErr)
		}
		transition(stateCommitted)
		return PlaceOrderResult{Outcome: OutcomeCommitted, Order: persisted}
	}

	transition(stateCommitted)
	c.metrics.OrdersCommitted.Inc()
	logger.Info().Str("order_id", persisted.ID).Str("total", persisted.Total.String()).Msg("order committed")
	return PlaceOrderResult{Outcome: OutcomeCommitted, Order: persisted}
}

func (c *Coordinator) precheck(ctx context.Context, req PlaceOrderRequest) ([]domain.Shortage, []string, error) {
	var (
		shortages []domain.Shortage
		details   []string
	)
	for _, li := range req.Items {
		av, err := c.ledger.CheckAvailability(ctx, req.StoreID, li.ProductID, li.Quantity)
		if errors.Is(err, domain.ErrNotFound) {
			details = append(details, "unknown product "+li.ProductID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !av.Available {
			shortages = append(shortages, domain.Shortage{
				ProductID: li.ProductID,
				Requested: li.Quantity,
				Available: av.CurrentStock,
				Shortage:  av.Shortage,
			})
		}
	}
	return shortages, details, nil
}

// reservationFailure maps a ReserveMany error to a terminal outcome. Partial
// failures arrive already self-compensated by the ledger.
func (c *Coordinator) reservationFailure(logger zerolog.Logger, err error) PlaceOrderResult {
	var partialErr *domain.PartialFailureError
	if errors.As(err, &partialErr) {
		if errors.Is(partialErr.Cause, domain.ErrUnavailable) {
			return c.systemFailure(logger, partialErr.Cause)
		}
		if errors.Is(partialErr.Cause, domain.ErrNotFound) {
			c.metrics.OrdersInvalid.Inc()
			return PlaceOrderResult{
				Outcome: OutcomeInvalidRequest,
				Details: []string{"unknown product " + partialErr.Failed.ProductID},
			}
		}
		c.metrics.OrdersInsufficient.Inc()
		return PlaceOrderResult{
			Outcome:   OutcomeInsufficientStock,
			Shortages: []domain.Shortage{partialErr.Failed},
		}
	}
	var insErr *domain.InsufficientStockError
	if errors.As(err, &insErr) {
		c.metrics.OrdersInsufficient.Inc()
		return PlaceOrderResult{Outcome: OutcomeInsufficientStock, Shortages: insErr.Shortages}
	}
	if errors.Is(err, domain.ErrBatchTooLarge) || errors.Is(err, domain.ErrNotFound) {
		c.metrics.OrdersInvalid.Inc()
		return PlaceOrderResult{Outcome: OutcomeInvalidRequest, Details: []string{err.Error()}}
	}
	return c.systemFailure(logger, err)
}

func (c *Coordinator) systemFailure(logger zerolog.Logger, err error) PlaceOrderResult {
	logger.Error().Err(err).Msg("backing store unavailable")
	return PlaceOrderResult{Outcome: OutcomeUnavailable, Err: err}
}

// compensationFailure is the one terminal state where stock and reality can
// diverge, so it is logged at the highest severity and handed to the
// reconciler for out-of-band recovery.
func (c *Coordinator) compensationFailure(ctx context.Context, logger zerolog.Logger, opID string,
	req PlaceOrderRequest, items []domain.ItemQuantity, persistErr, releaseErr error) PlaceOrderResult {
	c.metrics.CompensationFailures.Inc()
	logger.WithLevel(zerolog.FatalLevel).Err(releaseErr).
		Msg("compensation failed, stock under-credited until reconciled")
	c.reconciler.Escalate(ctx, port.CompensationReport{
		OperationID:    opID,
		StoreID:        req.StoreID,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
		Cause:          releaseErr,
		OccurredAt:     c.now(),
	})
	err := releaseErr
	if persistErr != nil {
		err = fmt.Errorf("persist: %v; release: %w", persistErr, releaseErr)
	}
	return PlaceOrderResult{Outcome: OutcomeCompensationFailed, Err: err}
}

func validate(req PlaceOrderRequest) []string {
	var details []string
	if req.StoreID == "" {
		details = append(details, "store_id is required")
	}
	if req.IdempotencyKey == "" {
		details = append(details, "idempotency_key is required")
	}
	if req.CustomerID == "" {
		details = append(details, "customer_id is required")
	}
	if len(req.Items) == 0 {
		details = append(details, "at least one line item is required")
	}
	seen := make(map[string]bool, len(req.Items))
	for i, li := range req.Items {
		if li.ProductID == "" {
			details = append(details, fmt.Sprintf("items[%d]: product_id is required", i))
		}
		if li.Quantity <= 0 {
			details = append(details, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if li.UnitPrice.IsNegative() {
			details = append(details, fmt.Sprintf("items[%d]: unit_price must not be negative", i))
		}
		if seen[li.ProductID] {
			details = append(details, fmt.Sprintf("items[%d]: duplicate product %s", i, li.ProductID))
		}
		seen[li.ProductID] = true
	}
	return details
}

func itemQuantities(items []domain.LineItem) []domain.ItemQuantity {
	out := make([]domain.ItemQuantity, 0, len(items))
	for _, li := range items {
		out = append(out, domain.ItemQuantity{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return out
}

func nowUTC() time.Time { return time.Now().UTC() }
