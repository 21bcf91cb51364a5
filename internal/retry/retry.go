// Package retry wraps transient-failure retry policy for outbound calls.
// Business errors must be marked permanent by the caller so they pass
// through untouched.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts   = 3
	defaultInitialDelay  = 100 * time.Millisecond
	defaultMultiplier    = 2.0
	defaultRandomization = 0.2
)

// Transient runs op with capped exponential backoff: 3 attempts, 100 ms
// initial delay, 2x growth, ±20% jitter. The context deadline bounds the
// whole sequence.
func Transient(ctx context.Context, op func() error) error {
	return TransientAttempts(ctx, defaultMaxAttempts, op)
}

// TransientAttempts is Transient with a caller-chosen attempt budget.
func TransientAttempts(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultInitialDelay
	policy.Multiplier = defaultMultiplier
	policy.RandomizationFactor = defaultRandomization
	policy.MaxElapsedTime = 0 // bounded by attempts and ctx, not wall time

	capped := backoff.WithMaxRetries(policy, uint64(attempts-1))
	return backoff.Retry(op, backoff.WithContext(capped, ctx))
}

// Permanent marks an error as non-retryable inside a Transient op.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
