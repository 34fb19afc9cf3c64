package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/tilvera/stockcore/internal/core/domain"
)

// RetrySettings bounds the backoff applied to transient backing-store
// failures. Exhaustion surfaces as domain.ErrUnavailable.
type RetrySettings struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// MySQL error numbers worth retrying: too many connections, lock wait
// timeout, deadlock victim.
const (
	mysqlTooManyConns    = 1040
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// isTransient classifies store errors. Context cancellation is never
// transient: the caller's deadline bounds the whole operation, not one
// attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlTooManyConns, mysqlLockWaitTimeout, mysqlDeadlock:
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry runs fn with exponential backoff and jitter, up to
// settings.MaxAttempts tries. Non-transient errors pass through untouched.
func withRetry(ctx context.Context, logger zerolog.Logger, settings RetrySettings, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = settings.InitialInterval
	eb.MaxInterval = settings.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(settings.MaxAttempts-1)), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient store failure, retrying")
		return err
	}, policy)

	if err != nil && isTransient(err) {
		return fmt.Errorf("%s exhausted %d attempts (%v): %w", op, attempt, err, domain.ErrUnavailable)
	}
	return err
}
