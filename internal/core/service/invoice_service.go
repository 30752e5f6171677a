package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

const maxParallelLookups = 8

type InvoiceService struct {
	repo      port.InvoiceRepository
	inventory port.InventoryClient
	allocator *NumberAllocator
	logger    *zap.Logger
	now       func() time.Time
}

func NewInvoiceService(repo port.InvoiceRepository, inventory port.InventoryClient, allocator *NumberAllocator, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		repo:      repo,
		inventory: inventory,
		allocator: allocator,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *InvoiceService) List(ctx context.Context) ([]domain.Invoice, error) {
	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "list invoices")
	}
	return invoices, nil
}

func (s *InvoiceService) Get(ctx context.Context, id int64) (*domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "get invoice")
	}
	if inv == nil {
		return nil, domain.Errorf(domain.KindNotFound, "invoice %d not found", id)
	}
	return inv, nil
}

func (s *InvoiceService) InventoryAvailable(ctx context.Context) bool {
	return s.inventory.Available(ctx)
}

// Create validates every requested product against the inventory service,
// snapshots code and description into the lines and stores the invoice
// as open under the next number.
func (s *InvoiceService) Create(ctx context.Context, lines []domain.NewInvoiceLine) (*domain.Invoice, error) {
	if len(lines) == 0 {
		return nil, domain.Errorf(domain.KindEmptyInvoice, "an invoice needs at least one line")
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, domain.Errorf(domain.KindInvalidState, "quantity for product %d must be greater than zero", l.ProductID)
		}
	}

	if !s.inventory.Available(ctx) {
		return nil, domain.Errorf(domain.KindServiceUnavailable, "inventory service is temporarily unavailable")
	}

	snapshot, err := s.lookupProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	invoice := &domain.Invoice{
		Status: domain.InvoiceStatusOpen,
		Lines:  make([]domain.InvoiceLine, 0, len(lines)),
	}
	for i, l := range lines {
		p := snapshot[i]
		invoice.Lines = append(invoice.Lines, domain.InvoiceLine{
			ProductID:          l.ProductID,
			ProductCode:        p.Code,
			ProductDescription: p.Description,
			Quantity:           l.Quantity,
		})
	}

	_, err = s.allocator.Next(ctx, func(ctx context.Context, number int) error {
		invoice.Number = number
		invoice.IssuedAt = s.now().UTC()
		return s.repo.CreateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindUnexpected, err, "create invoice")
	}

	s.logger.Info("invoice created", zap.Int64("invoice_id", invoice.ID), zap.Int("number", invoice.Number))
	return invoice, nil
}

func (s *InvoiceService) lookupProducts(ctx context.Context, lines []domain.NewInvoiceLine) ([]domain.Product, error) {
	products := make([]domain.Product, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, l := range lines {
		g.Go(func() error {
			p, err := s.inventory.GetProduct(gctx, l.ProductID)
			if err != nil {
				return err
			}
			if p.Balance < l.Quantity {
				return domain.Errorf(domain.KindInsufficientBalance,
					"insufficient balance for product %s: available %d, requested %d", p.Code, p.Balance, l.Quantity)
			}
			products[i] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}
