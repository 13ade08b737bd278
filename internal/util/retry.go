package util

import (
	"context"
	"errors"
	"time"
)

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil, the
// context is done or fn itself reports a context error. If maxTries <= 0, it
// defaults to 1. Returns the last error if all attempts fail.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	return RetryErrWithBackoff(ctx, maxTries, 0, fn)
}

// RetryErrWithBackoff is RetryErrWithContext with a pause between attempts
// that starts at base and doubles after every failure.
func RetryErrWithBackoff(ctx context.Context, maxTries int, base time.Duration, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, maxTries, base, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a result and
// nil error, or until ctx is done.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, maxTries, 0, fn)
}

func RetryWithBackoff[T any](ctx context.Context, maxTries int, base time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	wait := base
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) {
			return zero, err
		}
		lastErr = err

		if wait <= 0 || i == maxTries-1 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
	return zero, lastErr
}
