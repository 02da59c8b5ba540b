// Package retry factors out the exponential-backoff retry loop that
// appears, near-identically, three times in the teacher's internal/esi
// client (GetJSON, PostJSON, getPaginatedDirectWithHeaders). Components A, B,
// and D all apply the same {max_attempts, base_delay, max_delay,
// retryable_predicate} policy rather than re-inlining the loop.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential-backoff retry schedule.
type Policy struct {
	MaxAttempts       int           // total attempts including the first
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryablePredicate func(err error) bool
}

// DefaultPolicy returns a policy matching the teacher's own constants
// (maxRetries = 3, retryBaseWait = 500ms) generalized to be configurable.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		RetryablePredicate: func(error) bool { return true },
	}
}

// delay returns the backoff wait before the given zero-indexed attempt
// number (0 = first retry after the initial failed attempt).
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt // base * 2^attempt
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts while RetryablePredicate(err) holds. It returns the last
// error if every attempt failed, or nil on the first success. Respects ctx
// cancellation between attempts.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt - 1)):
			}
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.RetryablePredicate != nil && !p.RetryablePredicate(err) {
			return err
		}
	}
	return lastErr
}
