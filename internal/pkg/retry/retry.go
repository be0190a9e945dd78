// Package retry provides the retry policy shared by every outbound request.
//
// A Policy couples the backoff schedule with the predicate deciding which
// errors are worth another attempt, so that callers never decide retryability
// ad hoc at the call site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is wrapped into the error returned when every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retries exhausted")

// Config holds the backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt (0 means a single attempt).
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter adds rand(0, backoff) to each wait.
	Jitter bool
}

// DefaultConfig returns the schedule used for node requests: three retries
// waiting 1s, 2s and 4s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         false,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry. attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Policy is a backoff schedule plus the classification of retryable errors.
type Policy struct {
	Config    Config
	Retryable IsRetryableFunc
	OnRetry   OnRetryFunc
}

// NewPolicy builds a Policy. A nil retryable predicate retries nothing.
func NewPolicy(cfg Config, retryable IsRetryableFunc) Policy {
	return Policy{Config: cfg, Retryable: retryable}
}

// WithOnRetry returns a copy of p that reports retries to fn.
func (p Policy) WithOnRetry(fn OnRetryFunc) Policy {
	p.OnRetry = fn
	return p
}

// Backoff returns the wait before retry number attempt (1-indexed), without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	cfg := p.Config.withDefaults()
	if attempt < 1 {
		return 0
	}
	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return backoff
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return false
	}
	// Cancellation of the caller's context is never retried.
	if errors.Is(err, context.Canceled) {
		return false
	}
	return p.Retryable(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of retries. fn receives the 0-indexed attempt number.
//
// Example:
//
//	out, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) ([]byte, error) {
//	    return caller.Call(ctx, to, data, block)
//	})
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	cfg := p.Config.withDefaults()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.Backoff(attempt)
			if cfg.Jitter && wait > 0 {
				wait += time.Duration(rand.Int63n(int64(wait)))
			}
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d retries: %w", ErrExhausted, cfg.MaxRetries, lastErr)
}

// DoVoid is Do for functions without a result.
func DoVoid(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}
