package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the referenced stock record does not exist or is
	// deactivated. Fatal for the item; callers do not retry.
	ErrNotFound = errors.New("stock record not found")

	// ErrUnavailable means the backing store kept failing after bounded
	// retries. Nothing was committed; the whole operation is safe to retry.
	ErrUnavailable = errors.New("backing store unavailable")

	// ErrBatchTooLarge rejects a multi-item reservation over the batch limit
	// before any stock is touched.
	ErrBatchTooLarge = errors.New("reservation exceeds batch limit")
)

// InsufficientStockError is a normal business outcome, not a system fault:
// one or more items cannot be satisfied at their current stock level.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d, short %d",
			s.ProductID, s.Requested, s.Available, s.Shortage))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// PartialFailureError is returned by a multi-item reservation that failed
// midway. The already-applied subset has been compensated by the time the
// error is returned; Succeeded is reported for observability only.
type PartialFailureError struct {
	Succeeded []ItemQuantity
	Failed    Shortage
	Cause     error
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("reservation failed at %s after %d item(s)", e.Failed.ProductID, len(e.Succeeded))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PartialFailureError) Unwrap() error { return e.Cause }
