package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var ErrOpen = errors.New("circuit breaker is open")

type BreakerOption func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// OnStateChange registers a listener called after every transition. Listeners
// run outside the breaker lock.
func OnStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.listeners = append(b.listeners, fn) }
}

// CountsAsFailure overrides which errors trip the breaker.
func CountsAsFailure(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker is a consecutive-failure circuit breaker shared by every call
// that goes through it.
//
// Closed counts failures and opens after threshold in a row. Open rejects
// with ErrOpen until cooldown has elapsed, then moves to HalfOpen. HalfOpen
// lets exactly one probe through; its result closes or reopens the circuit.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	gen       uint64
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	isFailure func(error) bool
	listeners []func(from, to State)
}

type transition struct{ from, to State }

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// the call ended without learning anything about the dependency
	outcomeIgnored
)

func NewBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		isFailure: IsTransient,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	var pending []transition
	b.advance(&pending)
	state := b.state
	b.mu.Unlock()

	b.notify(pending)
	return state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn if the circuit admits the call and records its outcome.
// A context.Canceled result is not recorded.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.allow()
	if err != nil {
		return err
	}

	err = fn()
	b.record(gen, b.classify(err))
	return err
}

// DoContext is Do for calls bound to ctx. When ctx is done by the time fn
// returns, the result is not recorded: a half-open probe slot is released
// and the failure count is left as it was.
func (b *Breaker) DoContext(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.allow()
	if err != nil {
		return err
	}

	err = fn(ctx)
	result := b.classify(err)
	if err != nil && ctx.Err() != nil {
		result = outcomeIgnored
	}
	b.record(gen, result)
	return err
}

func (b *Breaker) classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeIgnored
	case b.isFailure(err):
		return outcomeFailure
	}
	return outcomeSuccess
}

func (b *Breaker) allow() (uint64, error) {
	b.mu.Lock()
	var pending []transition
	b.advance(&pending)

	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.probing {
			err = ErrOpen
		} else {
			b.probing = true
		}
	}
	gen := b.gen
	b.mu.Unlock()

	b.notify(pending)
	return gen, err
}

func (b *Breaker) record(gen uint64, result outcome) {
	b.mu.Lock()
	var pending []transition

	// results from calls admitted under an earlier state are stale
	if gen != b.gen {
		b.mu.Unlock()
		return
	}

	if result == outcomeIgnored {
		if b.state == StateHalfOpen {
			b.probing = false
		}
		b.mu.Unlock()
		return
	}

	failed := result == outcomeFailure
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip(&pending)
		}
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.trip(&pending)
		} else {
			b.failures = 0
			b.setState(StateClosed, &pending)
		}
	}
	b.mu.Unlock()

	b.notify(pending)
}

func (b *Breaker) advance(pending *[]transition) {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cooldown)) {
		b.probing = false
		b.setState(StateHalfOpen, pending)
	}
}

func (b *Breaker) trip(pending *[]transition) {
	b.openedAt = b.now()
	b.setState(StateOpen, pending)
}

func (b *Breaker) setState(to State, pending *[]transition) {
	if b.state == to {
		return
	}
	*pending = append(*pending, transition{from: b.state, to: to})
	b.state = to
	b.gen++
}

func (b *Breaker) notify(pending []transition) {
	for _, t := range pending {
		for _, fn := range b.listeners {
			fn(t.from, t.to)
		}
	}
}
