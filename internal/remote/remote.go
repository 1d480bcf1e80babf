// Package remote applies the timeout and retry policy for calls that leave the process.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/complicesconecta/backend/internal/apperror"
)

// DefaultTimeout bounds every remote call that does not configure its own.
const DefaultTimeout = 10 * time.Second

// RetryDelay is the pause before the single retry of an idempotent read.
var RetryDelay = 100 * time.Millisecond

// Read runs an idempotent operation under timeout, retrying once on a transient failure.
func Read[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var result T
	backoff := retry.WithMaxRetries(1, retry.NewConstant(RetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, orDefault(timeout))
		defer cancel()

		value, err := fn(callCtx)
		if err != nil {
			if apperror.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// Mutate runs a state-changing operation under timeout. Mutations are never retried.
func Mutate[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, orDefault(timeout))
	defer cancel()
	return fn(callCtx)
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}
