// Package retry implements the exponential-backoff-with-cap retry helper
// used by the backend connection monitor (§5 "Reconnection uses exponential
// backoff with a cap").
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

var (
	retryInitialSleepAmount = 1 * time.Second
	retryMaxSleepAmount     = 5 * time.Minute
	maxAttempts             = 10
)

// WithExponentialBackoff runs f until it succeeds, ctx is done, or
// maxAttempts is exhausted, doubling the sleep between attempts (capped at
// retryMaxSleepAmount, jittered by +/-10%) whenever isRetriable(err) is
// true. A non-retriable error returns immediately.
func WithExponentialBackoff[T any](ctx context.Context, desc string, f func() (T, error), isRetriable func(error) bool) (T, error) {
	sleep := retryInitialSleepAmount

	var (
		v   T
		err error
	)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err = f()
		if err == nil {
			return v, nil
		}

		if !isRetriable(err) {
			return v, err
		}

		if attempt == maxAttempts-1 {
			break
		}

		jittered := time.Duration(float64(sleep) * (0.9 + 0.2*rand.Float64()))

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(jittered):
		}

		sleep *= 2
		if sleep > retryMaxSleepAmount {
			sleep = retryMaxSleepAmount
		}
	}

	return v, errors.Errorf("unable to complete %s despite %d retries: %v", desc, maxAttempts, err)
}

// WithExponentialBackoffNoValue is WithExponentialBackoff for an f that
// returns no value.
func WithExponentialBackoffNoValue(ctx context.Context, desc string, f func() error, isRetriable func(error) bool) error {
	_, err := WithExponentialBackoff(ctx, desc, func() (struct{}, error) {
		return struct{}{}, f()
	}, isRetriable)

	return err
}
