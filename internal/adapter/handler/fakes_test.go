package handler

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

// memInventory is an in-memory product table with idempotency records. A
// Do call holds the lock for its whole run and restores a snapshot when fn
// fails.
type memInventory struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	keys     map[string]bool
	nextID   int64
}

func newMemInventory(products ...domain.Product) *memInventory {
	m := &memInventory{products: make(map[int64]domain.Product), keys: make(map[string]bool)}
	for _, p := range products {
		m.products[p.ID] = p
		if p.ID > m.nextID {
			m.nextID = p.ID
		}
	}
	return m
}

func (m *memInventory) balance(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Balance
}

func (m *memInventory) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memInventory) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memInventory) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memInventory) CreateProduct(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.products[p.ID] = *p
	return nil
}

func (m *memInventory) UpdateProduct(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.products[p.ID]; !ok || stored.Version != p.Version {
		return domain.Errorf(domain.KindConcurrencyConflict, "product %d was modified", p.ID)
	}
	p.Version++
	m.products[p.ID] = *p
	return nil
}

func (m *memInventory) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

func (m *memInventory) Do(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make(map[int64]domain.Product, len(m.products))
	for id, p := range m.products {
		saved[id] = p
	}
	if err := fn(memTx{m}); err != nil {
		m.products = saved
		return err
	}
	return nil
}

type memTx struct{ m *memInventory }

func (t memTx) IsKnown(ctx context.Context, key string) (bool, error) {
	return t.m.keys[key], nil
}

func (t memTx) RecordKey(ctx context.Context, key string) error {
	if t.m.keys[key] {
		return domain.Errorf(domain.KindDuplicateKey, "key %s already recorded", key)
	}
	t.m.keys[key] = true
	return nil
}

func (t memTx) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	p, ok := t.m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t memTx) TryDebit(ctx context.Context, id int64, quantity, expectedVersion int) (int, int, error) {
	p, ok := t.m.products[id]
	switch {
	case !ok:
		return 0, 0, domain.Errorf(domain.KindNotFound, "product %d not found", id)
	case p.Balance < quantity:
		return 0, 0, domain.Errorf(domain.KindInsufficientBalance, "product %d short", id)
	case p.Version != expectedVersion:
		return 0, 0, domain.Errorf(domain.KindConcurrencyConflict, "product %d changed", id)
	}
	p.Balance -= quantity
	p.Version++
	t.m.products[id] = p
	return p.Balance, p.Version, nil
}

// memInvoices is an in-memory invoice table.
type memInvoices struct {
	mu       sync.Mutex
	invoices map[int64]domain.Invoice
	nextID   int64
}

func newMemInvoices() *memInvoices {
	return &memInvoices{invoices: make(map[int64]domain.Invoice)}
}

func (m *memInvoices) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	inv.Lines = append([]domain.InvoiceLine(nil), inv.Lines...)
	return &inv, nil
}

func (m *memInvoices) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (m *memInvoices) MaxNumber(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, inv := range m.invoices {
		if inv.Number > max {
			max = inv.Number
		}
	}
	return max, nil
}

func (m *memInvoices) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inv.ID = m.nextID
	for i := range inv.Lines {
		inv.Lines[i].ID = int64(i + 1)
		inv.Lines[i].InvoiceID = inv.ID
	}
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *memInvoices) CloseInvoice(ctx context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.invoices[inv.ID]
	if !ok || stored.Version != inv.Version || stored.Status != domain.InvoiceStatusOpen {
		return domain.Errorf(domain.KindConcurrencyConflict, "invoice %d was modified", inv.ID)
	}
	inv.Version++
	m.invoices[inv.ID] = *inv
	return nil
}
