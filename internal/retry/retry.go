// Package retry provides the retry policies that wrap store round trips.
//
// A Policy is supplied by whoever assembles the pipeline. Nothing here picks
// attempt counts or intervals: Backoff takes a constructor for the
// backoff.BackOff to use, and None runs the operation exactly once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy runs an operation, retrying it according to the policy.
type Policy interface {
	Do(ctx context.Context, op func(context.Context) error) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, op func(context.Context) error) error

func (f PolicyFunc) Do(ctx context.Context, op func(context.Context) error) error {
	return f(ctx, op)
}

// None runs the operation once.
type None struct{}

func (None) Do(ctx context.Context, op func(context.Context) error) error {
	return op(ctx)
}

// ExhaustedError is returned when a transient failure persisted through
// every attempt the backoff allowed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err carries an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Backoff retries transient errors with a cenkalti/backoff schedule.
//
// Errors for which Transient returns false are returned immediately and
// unwrapped. A nil Transient treats every error as transient. Context
// cancellation stops retrying and returns the context error.
type Backoff struct {
	New       func() backoff.BackOff
	Transient func(error) bool
	Notify    func(err error, wait time.Duration)
}

func (p Backoff) Do(ctx context.Context, op func(context.Context) error) error {
	if p.New == nil {
		return op(ctx)
	}

	attempts := 0
	permanent := false
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || (p.Transient != nil && !p.Transient(err)) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(p.New(), ctx), p.Notify)

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
}

// Exponential returns a constructor for an exponential schedule bounded by
// maxAttempts total attempts. Zero durations keep the library defaults.
func Exponential(initial, maxInterval time.Duration, maxAttempts int) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		// Bounded by attempts, not elapsed time.
		b.MaxElapsedTime = 0
		retries := maxAttempts - 1
		if retries < 0 {
			retries = 0
		}
		return backoff.WithMaxRetries(b, uint64(retries))
	}
}
