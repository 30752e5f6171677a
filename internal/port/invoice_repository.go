package port

import (
	"context"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

type InvoiceRepository interface {
	// GetInvoice returns nil, nil when the invoice does not exist
	GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error)

	// ListInvoices returns invoices with their lines, highest number first
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)

	// MaxNumber returns 0 when no invoice exists yet
	MaxNumber(ctx context.Context) (int, error)

	// CreateInvoice persists the invoice and its lines, assigning IDs
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error

	// CloseInvoice flips an open invoice to closed with version check
	CloseInvoice(ctx context.Context, invoice *domain.Invoice) error
}
