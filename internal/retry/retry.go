// Package retry runs external calls under an explicit backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes how a failing call is retried. Waits grow exponentially
// from MinWait and are capped at MaxWait.
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultPolicy is three attempts starting at one second, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinWait:     time.Second,
		MaxWait:     10 * time.Second,
		Jitter:      true,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. a 4xx response.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx ends. The last error is returned, unwrapped from
// Permanent.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("retry: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// Backoff returns the wait before the given retry (attempt >= 1).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.MinWait <= 0 {
		return 0
	}
	wait := p.MinWait << (attempt - 1)
	if wait <= 0 || (p.MaxWait > 0 && wait > p.MaxWait) {
		wait = p.MaxWait
	}
	if p.Jitter && wait > 0 {
		// Equal jitter: half fixed, half random.
		half := wait / 2
		wait = half + rand.N(half+1)
	}
	return wait
}
