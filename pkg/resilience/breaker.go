// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	// StateClosed means the circuit breaker is working normally.
	StateClosed BreakerState = "closed"

	// StateOpen means the circuit breaker is blocking calls.
	StateOpen BreakerState = "open"

	// StateHalfOpen means the circuit breaker is testing if the service recovered.
	StateHalfOpen BreakerState = "half-open"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New(errors.CodeBackend, "circuit breaker open", nil).WithRecoverable(true)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name is the circuit breaker identifier for logging/metrics.
	Name string

	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold uint32

	// HalfOpenRequests is the number of trial calls allowed in half-open state.
	HalfOpenRequests uint32

	// Timeout is how long the circuit stays open before trying half-open.
	Timeout time.Duration

	// IsFailure decides which errors count against the breaker.
	// If nil, every non-nil error counts.
	IsFailure func(error) bool

	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to BreakerState)
}

// Breaker wraps gobreaker to protect backend calls from cascading failures.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker, filling defaults for zero values.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenRequests,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if config.OnStateChange != nil {
				config.OnStateChange(name, toState(from), toState(to))
			}
		},
	}
	if config.IsFailure != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !config.IsFailure(err)
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call executes fn if the breaker allows it.
// Returns ErrCircuitOpen when the circuit is open or saturated in half-open state.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(ErrCircuitOpen, err).WithContext("breaker", b.cb.Name())
	}
	return err
}

// State returns the current circuit breaker state.
func (b *Breaker) State() BreakerState {
	return toState(b.cb.State())
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

func toState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
