package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/port"
)

const mysqlDuplicateEntry = 1062

var ErrOptimisticLock = &domain.Error{Kind: domain.KindConcurrencyConflict, Message: "optimistic lock conflict"}

const productColumns = `id, code, description, balance, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Description, &p.Balance, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// classifyMySQL maps driver errors the domain cares about onto a kind.
func classifyMySQL(err error, message string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return &domain.Error{Kind: domain.KindDuplicateKey, Message: message, Err: err}
	}
	return fmt.Errorf("%s: %w", message, err)
}

// MySQLAdapter stores products and idempotency records.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE code = ?`, code))
	if err != nil {
		return nil, fmt.Errorf("query product by code: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p *domain.Product) error {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO products (code, description, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, NOW(6), NOW(6))`,
		p.Code, p.Description, p.Balance,
	)
	if err != nil {
		return classifyMySQL(err, "insert product")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read product id: %w", err)
	}

	created, err := m.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, p *domain.Product) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET code = ?, description = ?, balance = ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ?`,
		p.Code, p.Description, p.Balance, p.ID, p.Version,
	)
	if err != nil {
		return classifyMySQL(err, "update product")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	p.Version++
	return nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// Do runs fn in a transaction that commits only when fn succeeds.
func (m *MySQLAdapter) Do(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlInventoryTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyMySQL(err, "commit")
	}
	return nil
}

type mysqlInventoryTx struct {
	tx *sql.Tx
}

func (t *mysqlInventoryTx) IsKnown(ctx context.Context, key string) (bool, error) {
	var found int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM idempotency_records WHERE idempotency_key = ?`, key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query idempotency record: %w", err)
	}
	return true, nil
}

func (t *mysqlInventoryTx) RecordKey(ctx context.Context, key string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_records (idempotency_key, created_at) VALUES (?, NOW(6))`, key)
	if err != nil {
		return classifyMySQL(err, "insert idempotency record")
	}
	return nil
}

func (t *mysqlInventoryTx) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock product: %w", err)
	}
	return p, nil
}

func (t *mysqlInventoryTx) TryDebit(ctx context.Context, productID int64, quantity, expectedVersion int) (int, int, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET balance = balance - ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ? AND balance >= ?`,
		quantity, productID, expectedVersion, quantity,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("debit product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("debit product: %w", err)
	}

	var balance, version int
	err = t.tx.QueryRowContext(ctx,
		`SELECT balance, version FROM products WHERE id = ?`, productID).Scan(&balance, &version)
	if rows == 0 {
		return 0, 0, refusedDebit(err, productID, quantity, balance)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read debited product: %w", err)
	}
	return balance, version, nil
}

// refusedDebit tells apart why a conditional decrement matched no row,
// given the re-read of that row.
func refusedDebit(readErr error, productID int64, quantity, balance int) error {
	switch {
	case errors.Is(readErr, sql.ErrNoRows):
		return domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	case readErr != nil:
		return fmt.Errorf("read refused product: %w", readErr)
	case balance < quantity:
		return domain.Errorf(domain.KindInsufficientBalance,
			"insufficient balance for product %d: available %d, requested %d", productID, balance, quantity)
	}
	return ErrOptimisticLock
}
