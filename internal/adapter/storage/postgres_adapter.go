package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

const pgUniqueViolation = "23505"

const invoiceColumns = `id, number, status, issued_at, closed_at, version`

func classifyPostgres(err error, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &domain.Error{Kind: domain.KindDuplicateKey, Message: message, Err: err}
	}
	return fmt.Errorf("%s: %w", message, err)
}

// PostgresAdapter stores invoices and their lines.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.Number, &status, &inv.IssuedAt, &inv.ClosedAt, &inv.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return &inv, nil
}

func (p *PostgresAdapter) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	inv, err := scanInvoice(p.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("query invoice: %w", err)
	}
	if inv == nil {
		return nil, nil
	}

	lines, err := p.loadLines(ctx, []int64{inv.ID})
	if err != nil {
		return nil, err
	}
	inv.Lines = lines[inv.ID]
	return inv, nil
}

func (p *PostgresAdapter) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY number DESC`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	if len(ids) == 0 {
		return invoices, nil
	}

	lines, err := p.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Lines = lines[invoices[i].ID]
	}
	return invoices, nil
}

func (p *PostgresAdapter) loadLines(ctx context.Context, invoiceIDs []int64) (map[int64][]domain.InvoiceLine, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, invoice_id, product_id, product_code, product_description, quantity
		FROM invoice_lines WHERE invoice_id = ANY($1) ORDER BY id`, invoiceIDs)
	if err != nil {
		return nil, fmt.Errorf("query invoice lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[int64][]domain.InvoiceLine, len(invoiceIDs))
	for rows.Next() {
		var l domain.InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.ProductCode, &l.ProductDescription, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		lines[l.InvoiceID] = append(lines[l.InvoiceID], l)
	}
	return lines, rows.Err()
}

func (p *PostgresAdapter) MaxNumber(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM invoices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("query max invoice number: %w", err)
	}
	return n, nil
}

func (p *PostgresAdapter) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (number, status, issued_at, version)
		VALUES ($1, $2, $3, 0) RETURNING id`,
		inv.Number, string(inv.Status), inv.IssuedAt,
	).Scan(&inv.ID)
	if err != nil {
		return classifyPostgres(err, "insert invoice")
	}

	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.InvoiceID = inv.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (invoice_id, product_id, product_code, product_description, quantity)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			l.InvoiceID, l.ProductID, l.ProductCode, l.ProductDescription, l.Quantity,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("insert invoice line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit invoice: %w", err)
	}
	inv.Version = 0
	return nil
}

func (p *PostgresAdapter) CloseInvoice(ctx context.Context, inv *domain.Invoice) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE invoices
		SET status = $1, closed_at = $2, version = version + 1
		WHERE id = $3 AND version = $4 AND status = $5`,
		string(domain.InvoiceStatusClosed), inv.ClosedAt, inv.ID, inv.Version, string(domain.InvoiceStatusOpen),
	)
	if err != nil {
		return fmt.Errorf("close invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}

	inv.Version++
	return nil
}
