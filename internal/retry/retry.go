// Package retry retries transient failures of remote storage calls with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"strings"
	"time"
)

// Policy controls retry behaviour. The zero Policy makes exactly one attempt.
type Policy struct {
	// Retries is the number of additional attempts after the first.
	Retries      int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter in [0,1] spreads delays by +/- that fraction.
	Jitter float64
}

// DefaultPolicy returns 3 retries starting at 200ms, doubling, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		Retries:      3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	j := float64(d) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + j)
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. It returns the last error from fn.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var (
		res     T
		lastErr error
	)
	delay := p.InitialDelay
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	for attempt := 0; attempt <= p.Retries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		res, lastErr = r, err

		if attempt == p.Retries || !IsRetryable(err) {
			break
		}

		select {
		case <-time.After(applyJitter(delay, p.Jitter)):
		case <-ctx.Done():
			return res, ctx.Err()
		}
		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return res, lastErr
}

// IsRetryable reports whether err looks transient. Missing objects,
// permission problems and cancellations are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}

	type retryable interface{ IsRetryable() bool }
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"i/o timeout",
	"unexpected eof",
	"slowdown",
	"internal error",
	"429",
	"500",
	"502",
	"503",
	"504",
	"too many requests",
	"service unavailable",
}

type permanentError struct{ err error }

func (e permanentError) Error() string     { return e.err.Error() }
func (e permanentError) Unwrap() error     { return e.err }
func (e permanentError) IsRetryable() bool { return false }

// Permanent marks err as not worth retrying. errors.Is and errors.As still
// see through it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}
