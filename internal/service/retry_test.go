package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{Attempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	}, func(_ error) bool { return true })
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{Attempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	fatal := errors.New("constraint violation")
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	transient := errors.New("connection reset")
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return transient
	}, func(_ error) bool { return true })
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyHonorsContextCancel(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(_ context.Context) error {
		calls++
		return errors.New("timeout")
	}, func(_ error) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call before cancel, got %d", calls)
	}
}

func TestRetryPolicyDelayIsCapped(t *testing.T) {
	policy := RetryPolicy{Attempts: 8, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}.normalized()
	for attempt := 0; attempt < 8; attempt++ {
		d := policy.delay(attempt)
		if d > 5*time.Millisecond {
			t.Fatalf("attempt %d: delay %v exceeds cap plus jitter", attempt, d)
		}
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
		}
	}
}
