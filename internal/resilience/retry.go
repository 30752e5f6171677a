package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a connectivity or availability failure that is
// worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried and counted against
// the circuit breaker. Caller cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Err} }

// Retry re-runs an operation on transient failure, waiting Unit*Base^n
// before the n-th retry. Attempts is the number of retries, so the
// operation runs at most Attempts+1 times.
type Retry struct {
	Attempts int
	Base     float64
	Unit     time.Duration
	// Timeout bounds each attempt; zero means no per-attempt bound
	Timeout time.Duration
	OnRetry func(retry int, wait time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

func (r Retry) Backoff(retry int) time.Duration {
	return time.Duration(math.Pow(r.Base, float64(retry)) * float64(r.Unit))
}

func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		err := r.run(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= r.Attempts {
			return &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		wait := r.Backoff(attempt + 1)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r Retry) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
