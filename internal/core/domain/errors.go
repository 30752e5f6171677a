package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without knowing
// which layer produced the error.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindInvalidState
	KindEmptyInvoice
	KindInsufficientBalance
	KindDuplicateKey
	KindConcurrencyConflict
	KindServiceUnavailable
)

var kindNames = map[Kind]string{
	KindUnexpected:          "unexpected",
	KindNotFound:            "not_found",
	KindInvalidState:        "invalid_state",
	KindEmptyInvoice:        "empty_invoice",
	KindInsufficientBalance: "insufficient_balance",
	KindDuplicateKey:        "duplicate_key",
	KindConcurrencyConflict: "concurrency_conflict",
	KindServiceUnavailable:  "service_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unexpected"
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnexpected.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnexpected
}

// Definitive reports whether a failure of this kind is a business answer
// that must not be retried.
func (k Kind) Definitive() bool {
	switch k {
	case KindNotFound, KindInvalidState, KindEmptyInvoice, KindInsufficientBalance, KindDuplicateKey, KindConcurrencyConflict:
		return true
	}
	return false
}

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrEmptyInvoice        = errors.New("empty invoice")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrUnexpected          = errors.New("unexpected error")
)

var kindSentinels = map[Kind]error{
	KindUnexpected:          ErrUnexpected,
	KindNotFound:            ErrNotFound,
	KindInvalidState:        ErrInvalidState,
	KindEmptyInvoice:        ErrEmptyInvoice,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindDuplicateKey:        ErrDuplicateKey,
	KindConcurrencyConflict: ErrConcurrencyConflict,
	KindServiceUnavailable:  ErrServiceUnavailable,
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. Errors that already carry a kind are
// returned unchanged so the innermost classification wins.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind carried by err, or KindUnexpected when err has
// not been classified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}
