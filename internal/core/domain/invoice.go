package domain

import "time"

type InvoiceStatus string

const (
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusClosed InvoiceStatus = "closed"
)

type Invoice struct {
	ID       int64         `json:"id"`
	Number   int           `json:"number"`
	Status   InvoiceStatus `json:"status"`
	IssuedAt time.Time     `json:"issued_at"`
	ClosedAt *time.Time    `json:"closed_at,omitempty"`
	Lines    []InvoiceLine `json:"lines"`
	Version  int           `json:"version"`
}

// InvoiceLine keeps a snapshot of the product as it was when the invoice
// was created.
type InvoiceLine struct {
	ID                 int64  `json:"id"`
	InvoiceID          int64  `json:"invoice_id"`
	ProductID          int64  `json:"product_id"`
	ProductCode        string `json:"product_code"`
	ProductDescription string `json:"product_description"`
	Quantity           int    `json:"quantity"`
}

// CanFinalize reports whether the invoice may move from open to closed.
func (i *Invoice) CanFinalize() error {
	if i.Status != InvoiceStatusOpen {
		return Errorf(KindInvalidState, "invoice %d is %s; only open invoices can be printed", i.Number, i.Status)
	}
	if len(i.Lines) == 0 {
		return Errorf(KindEmptyInvoice, "invoice %d has no lines to print", i.Number)
	}
	return nil
}

// Close marks the invoice closed at the given instant.
func (i *Invoice) Close(at time.Time) {
	i.Status = InvoiceStatusClosed
	i.ClosedAt = &at
}

func (i *Invoice) DebitItems() []DebitItem {
	items := make([]DebitItem, 0, len(i.Lines))
	for _, l := range i.Lines {
		items = append(items, DebitItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return items
}

type NewInvoiceLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type InvoiceClosedEvent struct {
	InvoiceID      int64     `json:"invoice_id"`
	Number         int       `json:"number"`
	IdempotencyKey string    `json:"idempotency_key"`
	ClosedAt       time.Time `json:"closed_at"`
}
