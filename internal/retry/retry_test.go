package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"stylist/internal/fault"
)

func newTestExecutor(t *testing.T) (*Executor, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	ex := NewExecutor(nil,
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		}),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
	return ex, &slept
}

func TestRetryableFailureUsesAllAttempts(t *testing.T) {
	ex, slept := newTestExecutor(t)
	calls := 0
	outcome := ex.Do(context.Background(), Policy{
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		RetryableKinds: []fault.Kind{fault.KindUpstreamUnavailable},
	}, func(ctx context.Context) error {
		calls++
		return fault.New(fault.KindUpstreamUnavailable, "still down")
	})

	if calls != 3 {
		t.Fatalf("operation called %d times, want 3", calls)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", outcome.Attempts)
	}
	if fault.KindOf(outcome.Err) != fault.KindUpstreamUnavailable {
		t.Fatalf("final kind = %q, want upstream_unavailable", fault.KindOf(outcome.Err))
	}
	// Backoff doubles: 1s then 2s.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestInvalidInputShortCircuits(t *testing.T) {
	ex, _ := newTestExecutor(t)
	calls := 0
	outcome := ex.Do(context.Background(), Policy{
		MaxAttempts:    5,
		RetryableKinds: []fault.Kind{fault.KindTimeout, fault.KindUpstreamUnavailable},
	}, func(ctx context.Context) error {
		calls++
		return fault.New(fault.KindInvalidInput, "not an image")
	})

	if calls != 1 {
		t.Fatalf("operation called %d times, want exactly 1", calls)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", outcome.Attempts)
	}
	if fault.KindOf(outcome.Err) != fault.KindInvalidInput {
		t.Fatalf("kind = %q, want invalid_input", fault.KindOf(outcome.Err))
	}
}

func TestSuccessAfterTransientFailure(t *testing.T) {
	ex, _ := newTestExecutor(t)
	calls := 0
	outcome := ex.Do(context.Background(), TransientOnly(3, 0), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return fault.New(fault.KindTimeout, "slow upstream")
		}
		return nil
	})

	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", outcome.Attempts)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	ex, slept := newTestExecutor(t)
	ex.Do(context.Background(), Policy{
		MaxAttempts:    5,
		BaseBackoff:    time.Second,
		MaxBackoff:     2 * time.Second,
		RetryableKinds: []fault.Kind{fault.KindUpstreamUnavailable},
	}, func(ctx context.Context) error {
		return fault.New(fault.KindUpstreamUnavailable, "down")
	})

	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestAttemptTimeoutClassifiesAsTimeout(t *testing.T) {
	ex, _ := newTestExecutor(t)
	calls := 0
	outcome := ex.Do(context.Background(), Policy{
		MaxAttempts:    2,
		AttemptTimeout: 10 * time.Millisecond,
		RetryableKinds: []fault.Kind{fault.KindTimeout},
	}, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	if calls != 2 {
		t.Fatalf("operation called %d times, want 2", calls)
	}
	if fault.KindOf(outcome.Err) != fault.KindTimeout {
		t.Fatalf("kind = %q, want timeout", fault.KindOf(outcome.Err))
	}
}

func TestCallerCancellationStopsLoop(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	outcome := ex.Do(ctx, Policy{
		MaxAttempts:    5,
		RetryableKinds: []fault.Kind{fault.KindUpstreamUnavailable},
	}, func(ctx context.Context) error {
		calls++
		cancel()
		return fault.New(fault.KindUpstreamUnavailable, "down")
	})

	if calls != 1 {
		t.Fatalf("operation called %d times, want 1 after cancellation", calls)
	}
	if !errors.Is(outcome.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", outcome.Err)
	}
}
