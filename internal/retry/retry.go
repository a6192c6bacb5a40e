// Package retry provides an explicit backoff policy shared by the queue,
// the connection supervisor and the provider clients.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The zero value performs a single attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MinDelay is a floor applied after jitter.
	MinDelay time.Duration
	// Jitter is the relative spread around the computed delay, e.g. 0.25 for ±25%.
	Jitter float64
	// MaxExponent caps the doubling; zero means uncapped.
	MaxExponent int
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return p.MinDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if p.MaxExponent > 0 && exp > p.MaxExponent {
		exp = p.MaxExponent
	}

	raw := float64(p.BaseDelay) * math.Pow(2, float64(exp))
	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		raw += raw * p.Jitter * (rand.Float64()*2 - 1)
	}

	d := time.Duration(raw)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < p.MinDelay {
		d = p.MinDelay
	}
	return d
}

// Permanent wraps an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. retryable may be nil, in which case every
// error except a Permanent one is retried.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if !Sleep(ctx, p.Delay(attempt)) {
			return ctx.Err()
		}
	}
	return err
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
