package service

import (
	"context"
	"sync"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

type MaxNumberReader interface {
	MaxNumber(ctx context.Context) (int, error)
}

// NumberAllocator hands out invoice numbers as max+1. The persist callback
// runs inside the critical section so the next caller's read of the maximum
// already sees the number just used. Correct for a single allocating process.
type NumberAllocator struct {
	mu     sync.Mutex
	source MaxNumberReader
}

func NewNumberAllocator(source MaxNumberReader) *NumberAllocator {
	return &NumberAllocator{source: source}
}

func (a *NumberAllocator) Next(ctx context.Context, persist func(ctx context.Context, number int) error) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	current, err := a.source.MaxNumber(ctx)
	if err != nil {
		return 0, domain.Wrap(domain.KindUnexpected, err, "read current invoice number")
	}

	next := current + 1
	if err := persist(ctx, next); err != nil {
		return 0, err
	}
	return next, nil
}
