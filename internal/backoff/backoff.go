// Package backoff provides exponential backoff with jitter for provider
// retries. Server-supplied retry hints (Retry-After) take precedence
// over the computed delay.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when all retry attempts failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines the exponential backoff parameters.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the exponential growth factor per attempt.
	Factor float64

	// Jitter in [0,1] randomizes the delay upward by up to that fraction.
	Jitter float64
}

// DefaultPolicy suits provider request retries: 1s initial, 30s cap,
// doubling, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// Delay computes the backoff for an attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no crypto randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits for d, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryableFunc reports whether an error is worth retrying and the
// server-suggested delay, zero when the server gave no hint.
type RetryableFunc func(err error) (retryable bool, hint time.Duration)

// Retry runs fn up to maxAttempts times. Between attempts it sleeps for
// the server hint when present, otherwise the policy's computed delay.
// Non-retryable errors abort immediately.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable RetryableFunc, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		retry, hint := retryable(err)
		if !retry {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		if hint > 0 {
			delay = hint
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}
