package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Retry calls op until it succeeds, returns an error wrapped with Permanent,
// ctx is done or MaxRetries retries are spent. The last error returned by op
// wins over the context error so callers can still classify the failure.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	var lastErr error

	err := backoff.RetryNotify(
		func() error {
			lastErr = op(ctx)
			return lastErr
		},
		backoff.WithContext(backoff.WithMaxRetries(p.backOff(), p.MaxRetries), ctx),
		notify,
	)

	if err != nil && lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return lastErr
	}

	return err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// NextDelay returns the exponential delay before attempt number attempt (1-based).
func NextDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}

	if delay > maxDelay {
		return maxDelay
	}

	return delay
}
