// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/westodyssey/westodyssey/pkg/errors"
)

// WithTimeout runs fn with a derived deadline. fn receives the derived
// context and must honour it; if it does not return in time the caller gets
// a recoverable CodeTimeout. A zero d runs fn directly.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var res result
	select {
	case <-ctx.Done():
	case res = <-done:
		if res.err == nil {
			return res.value, nil
		}
	}
	// fn may have returned because the deadline fired; report the timeout,
	// not whatever fn made of its cancelled context.
	if err := ctx.Err(); err != nil {
		var zero T
		if err == context.DeadlineExceeded {
			return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
				WithContext("timeout", d.String()).
				WithRecoverable(true)
		}
		return zero, errors.New(errors.CodeContextLost, "operation cancelled", err)
	}
	return res.value, res.err
}
