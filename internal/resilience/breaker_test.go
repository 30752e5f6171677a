package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDown = Transient(errors.New("connection refused"))

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(5, 30*time.Second, WithClock(clock.Now))

	var calls atomic.Int32
	failing := func() error {
		calls.Add(1)
		return errDown
	}

	for i := 0; i < 5; i++ {
		if err := b.Do(failing); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected transport error, got %v", i+1, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", b.State())
	}

	// 6th call is short-circuited without reaching fn
	err := b.Do(failing)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 calls to reach fn, got %d", calls.Load())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Do(func() error { return errDown })
	b.Do(func() error { return errDown })
	b.Do(func() error { return nil })

	if b.Failures() != 0 {
		t.Errorf("expected failures reset, got %d", b.Failures())
	}

	b.Do(func() error { return errDown })
	b.Do(func() error { return errDown })
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_DefinitiveErrorsDoNotCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	rejected := errors.New("insufficient balance")

	for i := 0; i < 10; i++ {
		if err := b.Do(func() error { return rejected }); !errors.Is(err, rejected) {
			t.Fatalf("expected rejection to pass through, got %v", err)
		}
	}

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, 30*time.Second, WithClock(clock.Now))

	b.Do(func() error { return errDown })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	clock.Advance(29 * time.Second)
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before cooldown, got %v", err)
	}

	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half open after cooldown, got %s", b.State())
	}

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var probeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		probeErr = b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// second caller while the probe is in flight
	var reached atomic.Bool
	err := b.Do(func() error {
		reached.Store(true)
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen for concurrent caller, got %v", err)
	}
	if reached.Load() {
		t.Error("expected second caller not to reach fn")
	}

	close(release)
	wg.Wait()

	if probeErr != nil {
		t.Fatalf("probe failed: %v", probeErr)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, 30*time.Second, WithClock(clock.Now))

	b.Do(func() error { return errDown })
	clock.Advance(30 * time.Second)

	if err := b.Do(func() error { return errDown }); !errors.Is(err, errDown) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	// cooldown restarted at the probe failure
	clock.Advance(29 * time.Second)
	if b.State() != StateOpen {
		t.Errorf("expected still open, got %s", b.State())
	}
	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Errorf("expected half open, got %s", b.State())
	}
}

func TestBreaker_ReportsTransitions(t *testing.T) {
	clock := newFakeClock()

	var mu sync.Mutex
	var seen []string
	b := NewBreaker(1, time.Second, WithClock(clock.Now), OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, from.String()+"->"+to.String())
	}))

	b.Do(func() error { return errDown })
	clock.Advance(time.Second)
	b.Do(func() error { return nil })

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestBreaker_CancelledProbeKeepsHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, 30*time.Second, WithClock(clock.Now))

	b.Do(func() error { return errDown })
	clock.Advance(30 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.DoContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half open after cancelled probe, got %s", b.State())
	}

	// the probe slot is free again
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected next probe to run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_CancelledCallKeepsFailureCount(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.Do(func() error { return errDown })
	}
	b.Do(func() error { return context.Canceled })

	if b.Failures() != 4 {
		t.Fatalf("expected 4 failures, got %d", b.Failures())
	}
	b.Do(func() error { return errDown })
	if b.State() != StateOpen {
		t.Errorf("expected open after 5th failure, got %s", b.State())
	}
}
