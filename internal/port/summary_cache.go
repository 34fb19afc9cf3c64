package port

import "github.com/tilvera/stockcore/internal/core/domain"

// SummaryCache is a time-bounded, invalidate-on-write cache in front of the
// ledger's aggregate read path. It never participates in the correctness of
// reserve/release, which always read the ledger directly.
type SummaryCache interface {
	// Get returns the cached summary; ok=false on a miss or an expired entry.
	Get(storeID string) (s domain.Summary, ok bool)

	// Set stores the summary with the current timestamp.
	Set(storeID string, s domain.Summary)

	// Invalidate forces the next Get for the store to miss.
	Invalidate(storeID string)
}
