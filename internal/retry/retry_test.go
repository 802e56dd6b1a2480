package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("throttled"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("access denied")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResultUnwrapsLastError(t *testing.T) {
	transient := errors.New("connection reset")
	_, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		return 0, Retryable(transient)
	})
	if err != transient {
		t.Fatalf("expected unwrapped transient error, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("returned error should not carry the retry marker")
	}
}

func TestDoHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(), func() error {
		return Retryable(errors.New("busy"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 10}
	if got := cfg.Backoff(1); got != 100*time.Millisecond {
		t.Errorf("attempt 1: expected 100ms, got %v", got)
	}
	if got := cfg.Backoff(5); got != time.Second {
		t.Errorf("attempt 5: expected cap of 1s, got %v", got)
	}
}
