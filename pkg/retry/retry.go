// Package retry provides a reusable retry-with-backoff utility,
// parameterized by a transient-error predicate and a backoff policy.
// It is decoupled from any specific external call; the ledger and the
// collaborator clients share it.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	// MaxAttempts bounds the total number of attempts, including the
	// first. Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles each
	// subsequent attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means uncapped.
	MaxDelay time.Duration

	// MaxJitter bounds the deterministic jitter added to each delay.
	// Zero disables jitter.
	MaxJitter time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil defaults to Transient.
	Retryable func(error) bool

	// Key seeds the deterministic jitter so concurrent callers retrying
	// the same operation do not thundering-herd in lockstep.
	Key string
}

// DefaultPolicy matches the engine-wide settlement retry settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Do runs op, retrying on retryable errors with exponential backoff.
// Non-retryable errors and exhausted attempts surface immediately,
// wrapped with the attempt count.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if waitErr := wait(ctx, Backoff(p, attempt)); waitErr != nil {
				return waitErr
			}
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", p.MaxAttempts, err)
}

// Backoff returns the delay preceding the given attempt (attempt 1 is
// the first retry). The delay doubles each attempt from BaseDelay,
// capped at MaxDelay, plus deterministic jitter.
func Backoff(p Policy, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 1 {
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		factor = 1 << shift
	}

	delay := time.Duration(int64(p.BaseDelay) * factor)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay + jitter(p, attempt)
}

// jitter derives a deterministic offset from the policy key and attempt
// index, the same PRF-seeded approach used for replayable schedules.
func jitter(p Policy, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", p.Key, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}

func wait(ctx context.Context, d time.Duration) error {
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
