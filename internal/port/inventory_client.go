package port

import (
	"context"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

// InventoryClient is the billing side's view of the inventory service.
type InventoryClient interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	Debit(ctx context.Context, idempotencyKey string, items []domain.DebitItem) (domain.DebitOutcome, error)

	// Available probes liveness outside the retry and circuit breaker path
	Available(ctx context.Context) bool
}
