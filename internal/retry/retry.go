// Package retry wraps fallible remote calls with exponential backoff.
// Only failures classified as transient are retried; everything else
// propagates to the caller immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/lasthop/lasthop/internal/metrics"
)

// Policy controls how a call is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64
	// Jitter randomizes each delay to avoid thundering herds.
	Jitter bool
}

// DefaultPolicy matches the upstream clients' historical retry behavior:
// 3 attempts, 1s base delay, 3x backoff, randomized.
var DefaultPolicy = Policy{
	MaxAttempts:   3,
	BaseDelay:     time.Second,
	BackoffFactor: 3,
	Jitter:        true,
}

// TransientError marks a failure as retryable. Rate-limit and 5xx-class
// upstream responses are wrapped in it by the HTTP clients.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient upstream failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient upstream failure (status %d)", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure for the given status code.
func Transient(status int, err error) error {
	return &TransientError{Status: status, Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsTransientStatus reports whether an HTTP status code is a designated
// transient failure signal.
func IsTransientStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Do invokes op, retrying transient failures according to p. The last
// transient error is returned once attempts are exhausted; non-transient
// errors and context cancellation return immediately.
func (d Policy) Do(ctx context.Context, log zerolog.Logger, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.BaseDelay
	b.Multiplier = d.BackoffFactor
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Minute
	if d.Jitter {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()

	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.RetryAttempts.Inc()
		log.Warn().Err(err).Dur("wait", wait).Msg("transient upstream failure, retrying")
	}

	return backoff.RetryNotify(
		wrapped,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx),
		notify,
	)
}
