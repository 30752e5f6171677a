package port

import (
	"context"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

type CacheRepository interface {
	// GetProduct returns nil, nil on a cache miss
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	SetProduct(ctx context.Context, product domain.Product) error

	// InvalidateProducts drops cached entries after a mutation
	InvalidateProducts(ctx context.Context, ids ...int64) error
}

// KeyLocker provides the critical section around one idempotency key.
type KeyLocker interface {
	// Lock blocks until the caller holds key and returns the release function
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
