package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how often a conflicting transaction is re-run
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the usual document-store transaction budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  20 * time.Millisecond,
		MaxDelay:   1 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Transact runs fn inside a transaction and re-runs it from the top whenever
// the store reports ErrConflict. Errors returned by fn itself are never
// retried.
func Transact(ctx context.Context, s Store, policy RetryPolicy, fn func(ctx context.Context, tx Tx) error) error {
	attempts := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		err := s.RunTransaction(ctx, fn)
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return err
}
