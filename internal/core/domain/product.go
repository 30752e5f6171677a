package domain

import (
	"time"
	"unicode/utf8"
)

const (
	MaxCodeLength        = 50
	MaxDescriptionLength = 200
)

type Product struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Balance     int       `json:"balance"`
	Version     int       `json:"version"` // optimistic locking
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the attribute constraints of a product before it is stored.
func (p Product) Validate() error {
	switch {
	case p.Code == "":
		return Errorf(KindInvalidState, "product code is required")
	case utf8.RuneCountInString(p.Code) > MaxCodeLength:
		return Errorf(KindInvalidState, "product code must be at most %d characters", MaxCodeLength)
	case p.Description == "":
		return Errorf(KindInvalidState, "product description is required")
	case utf8.RuneCountInString(p.Description) > MaxDescriptionLength:
		return Errorf(KindInvalidState, "product description must be at most %d characters", MaxDescriptionLength)
	case p.Balance < 0:
		return Errorf(KindInvalidState, "product balance cannot be negative")
	}
	return nil
}

type DebitItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type DebitOutcome string

const (
	DebitApplied        DebitOutcome = "applied"
	DebitAlreadyApplied DebitOutcome = "already_applied"
)

// StockDebitedEvent is published once per applied debit batch.
type StockDebitedEvent struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Items          []DebitItem `json:"items"`
	OccurredAt     time.Time   `json:"occurred_at"`
}
