// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/jllopis/kairos-memory/pkg/errors"
)

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithIsRecoverable(func(err error) bool {
		return false
	})
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("non-recoverable error")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryRespectsTypedRecoverableFlag(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		return kerrors.New(kerrors.CodeInvalidInput, "bad input", nil)
	})
	if !kerrors.Is(err, kerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("non-recoverable typed errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return errors.New("transient error")
	})

	if !kerrors.Is(err, kerrors.CodeTimeout) {
		t.Errorf("expected timeout error, got %v", err)
	}
	if attempts < 1 {
		t.Errorf("expected at least 1 attempt, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	result, err := DoWithResult(context.Background(), config, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	if got := rc.delay(3); got != 2*time.Second {
		t.Fatalf("expected capped delay, got %v", got)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var seen []int
	calls := 0
	config := DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithOnRetry(func(_ context.Context, attempt int, err error) {
			seen = append(seen, attempt)
		})
	err := config.Do(context.Background(), func() error {
		calls++
		return errors.New("conflict")
	})
	if err == nil || err.Error() != "conflict" {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	// No hook after the final attempt: nothing is retried then.
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("unexpected hook attempts %v", seen)
	}
}

func TestBreakerClosed(t *testing.T) {
	cb := NewBreaker(BreakerConfig{FailureThreshold: 3, Name: "test"})

	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}

	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("expected state to remain Closed after success")
	}
}

func TestBreakerOpen(t *testing.T) {
	cb := NewBreaker(BreakerConfig{FailureThreshold: 2, Name: "test"})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func() error {
			return errors.New("failure")
		})
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after 2 failures, got %s", cb.State())
	}

	err := cb.Call(context.Background(), func() error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var ke *kerrors.KairosError
	if !errors.As(err, &ke) || !ke.Recoverable {
		t.Errorf("expected circuit breaker error to be marked recoverable")
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	var transitions []BreakerState
	cb := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Timeout:          50 * time.Millisecond,
		Name:             "test",
		OnStateChange: func(_ string, _, to BreakerState) {
			transitions = append(transitions, to)
		},
	})

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	time.Sleep(80 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}
	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after a successful trial, got %s", cb.State())
	}
	if len(transitions) < 3 || transitions[len(transitions)-1] != StateClosed {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	notFound := kerrors.New(kerrors.CodeNotFound, "missing", nil)
	cb := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Name:             "test",
		IsFailure: func(err error) bool {
			return !kerrors.Is(err, kerrors.CodeNotFound)
		},
	})

	for i := 0; i < 3; i++ {
		if err := cb.Call(context.Background(), func() error { return notFound }); !errors.Is(err, notFound) {
			t.Fatalf("expected pass-through error, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected breaker to stay closed, got %s", cb.State())
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: 20 * time.Millisecond}, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	})
	if !kerrors.Is(err, kerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	err = WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestWithTimeoutResultDisabled(t *testing.T) {
	got, err := WithTimeoutResult(context.Background(), TimeoutConfig{}, func(ctx context.Context) (int, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatalf("zero duration must not add a deadline")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("unexpected result %d %v", got, err)
	}
}
