// Package retry provides a bounded-retry wrapper for store operations.
//
// The executor knows nothing about licenses: it runs an arbitrary operation,
// retries transient failures a fixed number of times with a constant delay,
// and invokes a reconnect hook between attempts so a broken connection is
// never reused. Operations routed through it must be idempotent or
// conditional, since a retried write may re-execute after its first attempt
// actually committed.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTries is the total number of attempts, including the first.
	DefaultMaxTries = 3

	// DefaultDelay is the fixed wait between attempts.
	DefaultDelay = 2 * time.Second
)

// Executor retries store operations on transient failure.
type Executor struct {
	maxTries  uint
	delay     time.Duration
	permanent func(error) bool
	reconnect func()
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxTries sets the total number of attempts, including the first.
func WithMaxTries(n uint) Option {
	return func(e *Executor) { e.maxTries = n }
}

// WithDelay sets the fixed wait between attempts.
func WithDelay(d time.Duration) Option {
	return func(e *Executor) { e.delay = d }
}

// WithPermanent sets a predicate for errors that must never be retried.
// Protocol verdicts such as not-found or already-bound are outcomes, not
// transient failures, and are surfaced immediately.
func WithPermanent(fn func(error) bool) Option {
	return func(e *Executor) { e.permanent = fn }
}

// WithReconnect sets a hook invoked after every failed attempt, before the
// retry delay. Stores use it to discard connections known to be broken.
func WithReconnect(fn func()) Option {
	return func(e *Executor) { e.reconnect = fn }
}

// New creates an Executor with the default retry policy (3 attempts, 2s apart).
func New(opts ...Option) *Executor {
	e := &Executor{
		maxTries: DefaultMaxTries,
		delay:    DefaultDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op, retrying transient failures up to the configured attempt
// count. After exhausting retries the last error is returned as-is for the
// caller to classify. The name appears in retry logs.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Query(ctx, e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Query is the value-returning form of Executor.Do. It is a package
// function because methods cannot have type parameters.
func Query[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		result, err := op(ctx)
		if err != nil && e.permanent != nil && e.permanent(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, d time.Duration) {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("operation", name).
			Dur("retry_in", d).
			Msg("Store operation failed, reconnecting before retry")

		if e.reconnect != nil {
			e.reconnect()
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.delay)),
		backoff.WithMaxTries(e.maxTries),
		backoff.WithNotify(notify),
	)
}
