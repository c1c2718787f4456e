// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, circuit breaker and timeout helpers used
// around backend calls and conditional writes.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// RetryConfig bounds a retry loop with exponential backoff. The memory
// service uses it to re-read and re-write after a version conflict; the probe
// client uses it to redial after transport failures.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts int

	InitialDelay time.Duration
	// MaxDelay caps the delay before any single attempt. Zero means no cap.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts; 0 means 2.
	Multiplier float64
	// Jitter spreads concurrent writers retrying the same key; 0.1 is ±10%.
	Jitter float64

	// IsRecoverable picks the errors worth another attempt. Nil retries typed
	// errors flagged Recoverable and every untyped error.
	IsRecoverable func(error) bool

	// OnRetry runs after a recoverable failure, before the wait. attempt is
	// the 1-based attempt that failed.
	OnRetry func(ctx context.Context, attempt int, err error)
}

// DefaultRetryConfig returns three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a copy with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a copy with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a copy with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(ctx context.Context, attempt int, err error)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do calls fn until it succeeds, fails with an error IsRecoverable rejects,
// or runs out of attempts. The last error is returned unchanged so callers
// can still match it. A context cancelled while waiting ends the loop with
// a TIMEOUT error.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts || !recoverable(err) {
			return err
		}
		if rc.OnRetry != nil {
			rc.OnRetry(ctx, attempt, err)
		}

		timer := time.NewTimer(rc.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(errors.CodeTimeout, "context canceled during retry", ctx.Err()).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts)
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := rc.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// delay is the wait after the given failed attempt.
func (rc RetryConfig) delay(attempt int) time.Duration {
	multiplier := rc.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}
	d := float64(rc.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if rc.MaxDelay > 0 && d > float64(rc.MaxDelay) {
		d = float64(rc.MaxDelay)
	}
	if rc.Jitter > 0 {
		d += d * rc.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	var ke *errors.KairosError
	if stderrors.As(err, &ke) {
		return ke.Recoverable
	}
	return true
}
