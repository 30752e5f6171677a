package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

var (
	debitStmt  = regexp.QuoteMeta(`UPDATE products`)
	rereadStmt = regexp.QuoteMeta(`SELECT balance, version FROM products WHERE id = ?`)
)

func TestTryDebit_RefusalKinds(t *testing.T) {
	tests := []struct {
		name   string
		reread func(e *sqlmock.ExpectedQuery)
		want   error
	}{
		{
			name:   "missing product",
			reread: func(e *sqlmock.ExpectedQuery) { e.WillReturnRows(sqlmock.NewRows([]string{"balance", "version"})) },
			want:   domain.ErrNotFound,
		},
		{
			name: "short balance",
			reread: func(e *sqlmock.ExpectedQuery) {
				e.WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(3, 2))
			},
			want: domain.ErrInsufficientBalance,
		},
		{
			name: "version moved",
			reread: func(e *sqlmock.ExpectedQuery) {
				e.WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(50, 3))
			},
			want: domain.ErrConcurrencyConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
			defer db.Close()

			mock.ExpectBegin()
			mock.ExpectExec(debitStmt).
				WithArgs(5, int64(1), 2, 5).
				WillReturnResult(sqlmock.NewResult(0, 0))
			tt.reread(mock.ExpectQuery(rereadStmt).WithArgs(int64(1)))
			mock.ExpectRollback()

			adapter := NewMySQLAdapter(db)
			err = adapter.Do(context.Background(), func(tx port.InventoryTx) error {
				_, _, err := tx.TryDebit(context.Background(), 1, 5, 2)
				return err
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTryDebit_AppliedReturnsNewState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(debitStmt).
		WithArgs(30, int64(1), 0, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(rereadStmt).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(70, 1))
	mock.ExpectCommit()

	adapter := NewMySQLAdapter(db)
	var balance, version int
	err = adapter.Do(context.Background(), func(tx port.InventoryTx) error {
		var err error
		balance, version, err = tx.TryDebit(context.Background(), 1, 30, 0)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 70 || version != 1 {
		t.Errorf("expected 70/1, got %d/%d", balance, version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
