package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestRetry_Backoff(t *testing.T) {
	r := Retry{Attempts: 3, Base: 2, Unit: time.Second}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := r.Backoff(i + 1); got != w {
			t.Errorf("retry %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetry_ExhaustsAfterAttempts(t *testing.T) {
	var waits []time.Duration
	r := Retry{Attempts: 3, Base: 2, Unit: time.Second, sleep: recordingSleep(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errDown
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("expected exhausted error to stay transient")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if len(waits) != 3 || waits[0] != 2*time.Second || waits[2] != 8*time.Second {
		t.Errorf("unexpected waits: %v", waits)
	}
}

func TestRetry_DefinitiveErrorNotRetried(t *testing.T) {
	var waits []time.Duration
	r := Retry{Attempts: 3, Base: 2, Unit: time.Second, sleep: recordingSleep(&waits)}
	rejected := errors.New("product not found")

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return rejected
	})

	if !errors.Is(err, rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls != 1 || len(waits) != 0 {
		t.Errorf("expected a single call without waits, got %d calls, %v", calls, waits)
	}
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	var waits []time.Duration
	var retries []int
	r := Retry{
		Attempts: 3, Base: 2, Unit: time.Millisecond,
		sleep:   recordingSleep(&waits),
		OnRetry: func(n int, _ time.Duration, _ error) { retries = append(retries, n) },
	}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errDown
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[1] != 2 {
		t.Errorf("unexpected retry notifications: %v", retries)
	}
}

func TestRetry_AttemptTimeoutIsTransient(t *testing.T) {
	var waits []time.Duration
	r := Retry{Attempts: 1, Base: 2, Unit: time.Millisecond, Timeout: 10 * time.Millisecond, sleep: recordingSleep(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_StopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retry{Attempts: 3, Base: 2, Unit: time.Hour}

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errDown
	})

	if err == nil || calls != 1 {
		t.Fatalf("expected to stop after cancel, got err=%v calls=%d", err, calls)
	}
}
