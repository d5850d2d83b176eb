// Package retry classifies operation-engine phase failures into transient
// and terminal faults and retries transient ones with exponential backoff
// and jitter, per spec.md §4.G. Between attempts the operation resumes at
// the same phase, since phases are designed idempotent for that purpose.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/elasticshard/shardmap/internal/shardmaperr"
)

// Policy configures the backoff loop.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Classify reports whether err should be retried: only *shardmaperr.Error
// values carrying a transient code are retried; everything else (including
// plain Go errors from callers that haven't gone through shardmaperr) is
// treated as terminal.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	e, ok := shardmaperr.As(err)
	return ok && e.Transient()
}

// Phase is one idempotent unit of work the retry loop may call more than
// once.
type Phase func(ctx context.Context) error

// Do runs phase, retrying while Classify(err) is true, up to
// policy.MaxAttempts, with exponential backoff capped at MaxDelay and full
// jitter. It returns the last error if all attempts are exhausted, or
// immediately on a terminal error or context cancellation.
func Do(ctx context.Context, policy Policy, phase Phase) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}

	delay := policy.InitialDelay
	if delay <= 0 {
		delay = DefaultPolicy().InitialDelay
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultPolicy().MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return shardmaperr.Wrap(err, shardmaperr.CategoryGeneral, shardmaperr.CodeCanceled, "context canceled before attempt")
		}

		lastErr = phase(ctx)
		if lastErr == nil {
			return nil
		}
		if !Classify(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := jittered(delay, maxDelay)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return shardmaperr.Wrap(ctx.Err(), shardmaperr.CategoryGeneral, shardmaperr.CodeCanceled, "context canceled during backoff")
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}

// jittered applies full jitter: a uniform random duration in [0, cap(d)].
func jittered(d, maxDelay time.Duration) time.Duration {
	if d > maxDelay {
		d = maxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
