// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff returns the delay to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear waits step × attempt: 1s, 2s, 3s... for step = 1s.
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Fixed waits the same delay after every attempt.
func Fixed(delay time.Duration) Backoff {
	return func(int) time.Duration {
		return delay
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper backed by a timer.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Policy bounds a retried operation.
type Policy struct {
	// Attempts is the total number of tries, including the first (minimum 1).
	Attempts int

	// Backoff computes the wait after a failed attempt. Nil means no wait.
	Backoff Backoff

	// Retryable decides whether a failure is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil uses SleepContext.
	Sleep Sleeper
}

// DefaultPolicy is three attempts with 1s, 2s linear backoff.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Backoff:  Linear(time.Second),
	}
}

// Result is the outcome of Do. Err is the last error seen, or nil on success.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Ok reports whether the operation eventually succeeded.
func (r Result[T]) Ok() bool {
	return r.Err == nil
}

// Do calls op until it succeeds, the policy's attempts run out, the error is
// not retryable, or ctx is cancelled. The wait happens only between attempts.
// Attempts below 1 are treated as 1.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) Result[T] {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var res Result[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		value, err := op(ctx, attempt)
		if err == nil {
			res.Value = value
			res.Err = nil
			return res
		}
		res.Err = err

		if attempt == attempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if serr := sleep(ctx, wait); serr != nil {
			res.Err = errors.Join(err, serr)
			break
		}
	}

	return res
}
