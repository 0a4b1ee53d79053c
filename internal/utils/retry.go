package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Retry executes a function with exponential backoff retry
func Retry(ctx context.Context, maxAttempts int, initialDelay time.Duration, fn func() error) error {
	return RetryFiltered(ctx, maxAttempts, initialDelay, fn, nil)
}

// RetryFiltered executes a function with retry; shouldRetry decides whether an
// error is worth another attempt. A nil shouldRetry retries every error.
func RetryFiltered(ctx context.Context, maxAttempts int, initialDelay time.Duration, fn func() error, shouldRetry func(error) bool) error {
	var err error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Jitter(delay)):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)
}

// Jitter spreads a delay by up to +/-25% so retrying callers don't align.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int64(d) / 2
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread/2) + time.Duration(rand.Int63n(spread+1))
}
