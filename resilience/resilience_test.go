package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

func TestBreakerTripAndProbe(t *testing.T) {
	var transitions []State
	reg := NewRegistry(Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		OnStateChange: func(resource string, from, to State) {
			transitions = append(transitions, to)
		},
	}, nil, nil)

	cb := reg.For("receipts")
	failing := errors.New("server error")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker open after 3 consecutive failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func() error {
		t.Fatal("fn must not run while breaker is open")
		return nil
	})
	if !sdkerrors.Is(err, sdkerrors.KindCircuitOpen) {
		t.Fatalf("expected CircuitOpen error, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after single probe success, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected second success to close breaker, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success_threshold successes, got %s", cb.State())
	}
}

func TestNextDelayExponential(t *testing.T) {
	cfg := RetryConfig{Policy: PolicyExponential, BaseDelay: 100 * time.Millisecond, Factor: 2, MaxDelay: time.Second}
	if got := NextDelay(cfg, 1); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: expected 100ms, got %s", got)
	}
	if got := NextDelay(cfg, 3); got != 400*time.Millisecond {
		t.Fatalf("attempt 3: expected 400ms, got %s", got)
	}
	if got := NextDelay(cfg, 10); got != time.Second {
		t.Fatalf("expected cap at max delay, got %s", got)
	}
}

func TestNextDelayLinear(t *testing.T) {
	cfg := RetryConfig{Policy: PolicyLinear, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	if got := NextDelay(cfg, 2); got != 400*time.Millisecond {
		t.Fatalf("attempt 2: expected 400ms, got %s", got)
	}
}

func TestRetryRespectsMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}, 3, func() error {
		attempts++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}
