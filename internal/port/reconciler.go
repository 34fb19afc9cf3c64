package port

import (
	"context"
	"time"

	"github.com/tilvera/stockcore/internal/core/domain"
)

// CompensationReport describes a compensating release that could not be
// applied. Stock is under-credited until an out-of-band process applies it.
type CompensationReport struct {
	OperationID    string
	StoreID        string
	IdempotencyKey string
	Items          []domain.ItemQuantity
	Cause          error
	OccurredAt     time.Time
}

// Reconciler receives failed compensations for out-of-band recovery. The
// core never drops a failed release silently; it always hands it here.
type Reconciler interface {
	Escalate(ctx context.Context, rep CompensationReport)
}
