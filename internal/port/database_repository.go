package port

import (
	"context"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

type ProductRepository interface {
	// GetProduct returns nil, nil when the product does not exist
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// GetProductByCode returns nil, nil when no product has the code
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)

	// CreateProduct assigns ID, Version and timestamps on success
	CreateProduct(ctx context.Context, product *domain.Product) error

	// UpdateProduct updates with version check for optimistic locking
	UpdateProduct(ctx context.Context, product *domain.Product) error

	DeleteProduct(ctx context.Context, id int64) error
}

// InventoryUnitOfWork runs fn inside one database transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type InventoryUnitOfWork interface {
	Do(ctx context.Context, fn func(tx InventoryTx) error) error
}

type InventoryTx interface {
	// IsKnown reports whether the idempotency key was already recorded
	IsKnown(ctx context.Context, key string) (bool, error)

	// RecordKey stores the key; ErrDuplicateKey if another writer got there first
	RecordKey(ctx context.Context, key string) error

	// GetProductForUpdate locks and returns the row, nil, nil when absent
	GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)

	// TryDebit decrements the balance when the version still matches and
	// returns the new balance and version. A refused decrement is NotFound,
	// InsufficientBalance or ConcurrencyConflict, checked in that order.
	TryDebit(ctx context.Context, productID int64, quantity, expectedVersion int) (int, int, error)
}
