package service

import (
	"context"
	"sync"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

// Mock InventoryUnitOfWork. Each Do works on a copy that is swapped in
// only when fn succeeds, so a failed batch leaves nothing behind.
type mockInventory struct {
	mu        sync.Mutex
	products  map[int64]domain.Product
	keys      map[string]bool
	recordErr error
	commits   int
}

func newMockInventory(products ...domain.Product) *mockInventory {
	m := &mockInventory{
		products: make(map[int64]domain.Product),
		keys:     make(map[string]bool),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockInventory) Do(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockInventoryTx{
		products:  make(map[int64]domain.Product, len(m.products)),
		keys:      make(map[string]bool, len(m.keys)),
		recordErr: m.recordErr,
	}
	for id, p := range m.products {
		tx.products[id] = p
	}
	for k := range m.keys {
		tx.keys[k] = true
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.products = tx.products
	m.keys = tx.keys
	m.commits++
	return nil
}

func (m *mockInventory) balance(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Balance
}

func (m *mockInventory) version(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Version
}

func (m *mockInventory) known(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key]
}

type mockInventoryTx struct {
	products  map[int64]domain.Product
	keys      map[string]bool
	recordErr error
}

func (tx *mockInventoryTx) IsKnown(ctx context.Context, key string) (bool, error) {
	return tx.keys[key], nil
}

func (tx *mockInventoryTx) RecordKey(ctx context.Context, key string) error {
	if tx.recordErr != nil {
		return tx.recordErr
	}
	if tx.keys[key] {
		return domain.Errorf(domain.KindDuplicateKey, "key %s already recorded", key)
	}
	tx.keys[key] = true
	return nil
}

func (tx *mockInventoryTx) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	p, ok := tx.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (tx *mockInventoryTx) TryDebit(ctx context.Context, productID int64, quantity, expectedVersion int) (int, int, error) {
	p, ok := tx.products[productID]
	if !ok {
		return 0, 0, domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	}
	if p.Balance < quantity {
		return 0, 0, domain.Errorf(domain.KindInsufficientBalance, "product %d short", productID)
	}
	if p.Version != expectedVersion {
		return 0, 0, domain.Errorf(domain.KindConcurrencyConflict, "product %d changed", productID)
	}
	p.Balance -= quantity
	p.Version++
	tx.products[productID] = p
	return p.Balance, p.Version, nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu          sync.Mutex
	products    map[int64]domain.Product
	invalidated []int64
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{products: make(map[int64]domain.Product)}
}

func (m *mockCacheRepo) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockCacheRepo) SetProduct(ctx context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *mockCacheRepo) InvalidateProducts(ctx context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.products, id)
		m.invalidated = append(m.invalidated, id)
	}
	return nil
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.keys = append(m.keys, key)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

// Mock InvoiceRepository
type mockInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[int64]domain.Invoice
	nextID   int64
	closeErr error
	// bumpOnLoad simulates another writer changing the row after it was read
	bumpOnLoad bool
}

func newMockInvoiceRepo(invoices ...domain.Invoice) *mockInvoiceRepo {
	m := &mockInvoiceRepo{invoices: make(map[int64]domain.Invoice)}
	for _, inv := range invoices {
		m.invoices[inv.ID] = inv
		if inv.ID > m.nextID {
			m.nextID = inv.ID
		}
	}
	return m
}

func (m *mockInvoiceRepo) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	loaded := inv
	if m.bumpOnLoad {
		inv.Version++
		m.invoices[id] = inv
	}
	return &loaded, nil
}

func (m *mockInvoiceRepo) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	return out, nil
}

func (m *mockInvoiceRepo) MaxNumber(ctx context.Context) (int, error) {
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

func (m *mockInvoiceRepo) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Number == invoice.Number {
			return domain.Errorf(domain.KindDuplicateKey, "invoice number %d already used", invoice.Number)
		}
	}
	m.nextID++
	invoice.ID = m.nextID
	for i := range invoice.Lines {
		invoice.Lines[i].ID = int64(i + 1)
		invoice.Lines[i].InvoiceID = invoice.ID
	}
	m.invoices[invoice.ID] = *invoice
	return nil
}

func (m *mockInvoiceRepo) CloseInvoice(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	stored, ok := m.invoices[invoice.ID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "invoice %d not found", invoice.ID)
	}
	if stored.Version != invoice.Version || stored.Status != domain.InvoiceStatusOpen {
		return domain.Errorf(domain.KindConcurrencyConflict, "invoice %d was modified", invoice.ID)
	}
	invoice.Version++
	m.invoices[invoice.ID] = *invoice
	return nil
}

func (m *mockInvoiceRepo) get(id int64) domain.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}

// Mock InventoryClient backed by a DebitService, so the whole protocol
// runs in process.
type mockInventoryClient struct {
	mu         sync.Mutex
	debits     *DebitService
	products   map[int64]domain.Product
	debitErr   error
	available  bool
	debitCalls int
	keys       []string
}

func (m *mockInventoryClient) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "product %d not found", id)
	}
	return &p, nil
}

func (m *mockInventoryClient) Debit(ctx context.Context, key string, items []domain.DebitItem) (domain.DebitOutcome, error) {
	m.mu.Lock()
	m.debitCalls++
	m.keys = append(m.keys, key)
	err := m.debitErr
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	return m.debits.Debit(ctx, key, items)
}

func (m *mockInventoryClient) Available(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *mockInventoryClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitCalls
}
