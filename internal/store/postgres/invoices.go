package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cloud.google.com/go/civil"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

const invoiceColumns = `id, number, status, sub_total, amount_due, amount_paid, due_date, COALESCE(notes, ''),
	customer_id, COALESCE(recurring_invoice_id, ''), created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR customer_id = $1)
		  AND ($2 = '' OR recurring_invoice_id = $2)
		ORDER BY created_at DESC, number DESC
	`, filter.CustomerID, filter.RecurringInvoiceID)
	if err != nil {
		return nil, err
	}
	invoices := make([]domain.Invoice, 0, 64)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadInvoiceLines(ctx, s.db, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := insertInvoice(ctx, pgTx, invoice)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	return created, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoices := []domain.Invoice{inv}
	if err := loadInvoiceLines(ctx, s.db, invoices); err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func (s *Store) UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(invoice.Number) == "" || len(invoice.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	updated, err := scanInvoice(pgTx.QueryRowContext(ctx, `
		UPDATE invoices
		SET number = $2, status = $3, sub_total = $4, amount_due = $5, amount_paid = $6,
			due_date = $7, notes = $8, customer_id = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns,
		invoice.ID, invoice.Number, invoice.Status, invoice.SubTotal, invoice.AmountDue, invoice.AmountPaid,
		dateArg(invoice.DueDate), nullIfEmpty(invoice.Notes), invoice.CustomerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteErr(err)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoice.ID); err != nil {
		return nil, err
	}
	if err := insertInvoiceLines(ctx, pgTx, invoice.ID, invoice.Items); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	updated.Items = invoice.Items
	return &updated, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "invoices", id)
}

func insertInvoice(ctx context.Context, q queryer, invoice domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(invoice.Number) == "" || len(invoice.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}

	created, err := scanInvoice(q.QueryRowContext(ctx, `
		INSERT INTO invoices (
			id, number, status, sub_total, amount_due, amount_paid, due_date, notes,
			customer_id, recurring_invoice_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		RETURNING `+invoiceColumns,
		invoice.ID, invoice.Number, invoice.Status, invoice.SubTotal, invoice.AmountDue, invoice.AmountPaid,
		dateArg(invoice.DueDate), nullIfEmpty(invoice.Notes), invoice.CustomerID, nullIfEmpty(invoice.RecurringInvoiceID)))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if err := insertInvoiceLines(ctx, q, invoice.ID, invoice.Items); err != nil {
		return nil, err
	}
	created.Items = invoice.Items
	return &created, nil
}

func insertInvoiceLines(ctx context.Context, q queryer, invoiceID string, lines []domain.InvoiceLine) error {
	for i, line := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, item_id, name, quantity, unit_price, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, invoiceID, i, line.ItemID, line.Name, line.Quantity, line.UnitPrice, line.Total)
		if err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func loadInvoiceLines(ctx context.Context, q queryer, invoices []domain.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	index := make(map[string]int, len(invoices))
	ids := make([]string, 0, len(invoices))
	for i, inv := range invoices {
		index[inv.ID] = i
		ids = append(ids, inv.ID)
		invoices[i].Items = []domain.InvoiceLine{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, item_id, name, quantity, unit_price, total
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var invoiceID string
		var line domain.InvoiceLine
		if err := rows.Scan(&invoiceID, &line.ItemID, &line.Name, &line.Quantity, &line.UnitPrice, &line.Total); err != nil {
			return err
		}
		i := index[invoiceID]
		invoices[i].Items = append(invoices[i].Items, line)
	}
	return rows.Err()
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var inv domain.Invoice
	var dueDate sql.NullTime
	err := row.Scan(&inv.ID, &inv.Number, &inv.Status, &inv.SubTotal, &inv.AmountDue, &inv.AmountPaid, &dueDate,
		&inv.Notes, &inv.CustomerID, &inv.RecurringInvoiceID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Invoice{}, err
	}
	if dueDate.Valid {
		inv.DueDate = civil.DateOf(dueDate.Time)
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}
