package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tilvera/stockcore/internal/port"
)

// LogReconciler is the default sink for failed compensations: it records the
// full report at the highest severity so an operator or an external retrier
// can pick it up. A queue-backed implementation can be injected instead.
type LogReconciler struct {
	logger zerolog.Logger
}

func NewLogReconciler(logger zerolog.Logger) *LogReconciler {
	return &LogReconciler{logger: logger.With().Str("component", "reconciler").Logger()}
}

func (r *LogReconciler) Escalate(ctx context.Context, rep port.CompensationReport) {
	evt := r.logger.WithLevel(zerolog.FatalLevel).
		Str("op_id", rep.OperationID).
		Str("store_id", rep.StoreID).
		Str("idempotency_key", rep.IdempotencyKey).
		Time("occurred_at", rep.OccurredAt).
		Err(rep.Cause)
	for _, it := range rep.Items {
		evt = evt.Int("uncredited_"+it.ProductID, it.Quantity)
	}
	evt.Msg("compensation requires out-of-band reconciliation")
}
