package resilience

import (
	"context"
	"time"
)

type Config struct {
	RetryCount       int
	RetryBase        float64
	RetryUnit        time.Duration
	AttemptTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryCount:       3,
		RetryBase:        2,
		RetryUnit:        time.Second,
		AttemptTimeout:   10 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Policy composes a retry loop inside a circuit breaker. One Execute call
// is one breaker call regardless of how many attempts the retry makes.
type Policy struct {
	breaker *Breaker
	retry   Retry
}

func NewPolicy(cfg Config, onRetry func(int, time.Duration, error), opts ...BreakerOption) *Policy {
	return &Policy{
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, opts...),
		retry: Retry{
			Attempts: cfg.RetryCount,
			Base:     cfg.RetryBase,
			Unit:     cfg.RetryUnit,
			Timeout:  cfg.AttemptTimeout,
			OnRetry:  onRetry,
		},
	}
}

func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.breaker.DoContext(ctx, func(ctx context.Context) error {
		return p.retry.Do(ctx, fn)
	})
}

func (p *Policy) Breaker() *Breaker {
	return p.breaker
}
