// Package backoff provides retry with exponential delay for remote calls.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures retry behavior. The delay doubles on each retry,
// starting at InitialDelay and capped at MaxDelay.
type Policy struct {
	InitialDelay time.Duration
	MaxRetries   int
	MaxDelay     time.Duration
}

// DefaultPolicy returns the policy used for most remote calls.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		MaxRetries:   5,
		MaxDelay:     60 * time.Second,
	}
}

// Retryable is implemented by errors that know whether retrying can help.
// Remote errors report true for rate-limit and server-side failures
// (429, 403, 5xx) and false for everything else.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err opts in to retries via the Retryable
// interface. Errors that don't implement it are treated as permanent.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// sleepFunc waits for d or returns early with the context's error.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do invokes fn, retrying retryable failures with exponentially growing
// delays. Non-retryable errors are returned immediately. When retries are
// exhausted the last error is returned wrapped, so callers can still
// classify it with errors.Is/As.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return do(ctx, p, sleepContext, fn)
}

func do(ctx context.Context, p Policy, sleep sleepFunc, fn func() error) error {
	delay := p.InitialDelay

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxRetries {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	return doValue(ctx, p, sleepContext, fn)
}

func doValue[T any](ctx context.Context, p Policy, sleep sleepFunc, fn func() (T, error)) (T, error) {
	var result T
	err := do(ctx, p, sleep, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
