package sqlqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy lists the waits between consecutive attempts. A policy with n
// waits allows n+1 attempts.
type RetryPolicy []time.Duration

// DefaultRetryPolicy waits 100ms five times, then 500ms five times, then 1s five times.
func DefaultRetryPolicy() RetryPolicy {
	policy := make(RetryPolicy, 0, 15)
	for _, wait := range []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second} {
		for i := 0; i < 5; i++ {
			policy = append(policy, wait)
		}
	}

	return policy
}

// Attempts returns the maximum number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	return len(p) + 1
}

// Backoff returns a fresh backoff yielding the policy's waits in order.
func (p RetryPolicy) Backoff() retry.Backoff {
	var (
		mu   sync.Mutex
		next int
	)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()

		if next >= len(p) {
			return 0, true
		}
		wait := p[next]
		next++

		return wait, false
	})
}

// Do calls fn until it succeeds or the policy runs out of waits. The attempt
// number passed to fn starts at 1. Once the waits are used up the last error is
// returned wrapped with ErrRetriesExhausted. Cancellation while waiting returns
// the context error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	var last error
	err := retry.Do(ctx, p.Backoff(), func(ctx context.Context) error {
		attempt++
		if err := fn(ctx, attempt); err != nil {
			last = err

			return retry.RetryableError(err)
		}

		return nil
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if last == nil {
		return err
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, last)
}
