package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		RetryCount:       3,
		RetryBase:        2,
		RetryUnit:        time.Microsecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

func TestPolicy_ExhaustedCallsTripBreaker(t *testing.T) {
	clock := newFakeClock()
	p := NewPolicy(fastConfig(), nil, WithClock(clock.Now))

	var calls atomic.Int32
	down := func(ctx context.Context) error {
		calls.Add(1)
		return errDown
	}

	for i := 0; i < 5; i++ {
		if err := p.Execute(context.Background(), down); !errors.Is(err, ErrExhausted) {
			t.Fatalf("call %d: expected ErrExhausted, got %v", i+1, err)
		}
	}
	if calls.Load() != 20 {
		t.Errorf("expected 4 attempts per call, got %d total", calls.Load())
	}

	err := p.Execute(context.Background(), down)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls.Load() != 20 {
		t.Errorf("expected no network attempt while open, got %d", calls.Load())
	}

	clock.Advance(30 * time.Second)
	if err := p.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if p.Breaker().State() != StateClosed {
		t.Errorf("expected closed after probe, got %s", p.Breaker().State())
	}
}

func TestPolicy_RejectionPassesThrough(t *testing.T) {
	p := NewPolicy(fastConfig(), nil)
	rejected := errors.New("insufficient balance")

	for i := 0; i < 10; i++ {
		calls := 0
		err := p.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return rejected
		})
		if !errors.Is(err, rejected) || calls != 1 {
			t.Fatalf("expected single rejected call, got err=%v calls=%d", err, calls)
		}
	}

	if p.Breaker().State() != StateClosed {
		t.Errorf("expected breaker to stay closed, got %s", p.Breaker().State())
	}
}

func TestPolicy_CallerCancelDoesNotCloseCircuit(t *testing.T) {
	clock := newFakeClock()
	p := NewPolicy(fastConfig(), nil, WithClock(clock.Now))

	down := func(ctx context.Context) error { return errDown }
	for i := 0; i < 5; i++ {
		p.Execute(context.Background(), down)
	}
	if p.Breaker().State() != StateOpen {
		t.Fatalf("expected open, got %s", p.Breaker().State())
	}

	clock.Advance(30 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if p.Breaker().State() != StateHalfOpen {
		t.Errorf("expected half open after cancelled probe, got %s", p.Breaker().State())
	}

	// a caller that gives up mid-retry leaves the count untouched
	clock2 := newFakeClock()
	p2 := NewPolicy(fastConfig(), nil, WithClock(clock2.Now))
	for i := 0; i < 4; i++ {
		p2.Execute(context.Background(), down)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	p2.Execute(ctx2, func(ctx context.Context) error {
		cancel2()
		return errDown
	})
	if p2.Breaker().Failures() != 4 {
		t.Errorf("expected 4 failures after cancelled call, got %d", p2.Breaker().Failures())
	}
}
