package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/pricing"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

const paymentColumns = `p.id, p.invoice_id, p.amount, p.payment_method, p.payment_date, COALESCE(p.reference, ''),
	COALESCE(p.notes, ''), p.created_at, p.updated_at`

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE ($1 = '' OR p.invoice_id = $1)
		  AND ($2 = '' OR i.customer_id = $2)
		ORDER BY p.payment_date DESC, p.created_at DESC, p.id DESC
	`, filter.InvoiceID, filter.CustomerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := getPayment(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	if !payment.Amount.IsPositive() || !payment.PaymentDate.IsValid() {
		return nil, nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	invoice, err := settleInvoice(ctx, pgTx, payment.InvoiceID, payment.Amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: invoice %s does not exist", store.ErrInvalidInput, payment.InvoiceID)
		}
		return nil, nil, err
	}
	created, err := scanPayment(pgTx.QueryRowContext(ctx, `
		INSERT INTO payments AS p (
			id, invoice_id, amount, payment_method, payment_date, reference, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		RETURNING `+paymentColumns,
		payment.ID, payment.InvoiceID, payment.Amount, payment.PaymentMethod, dateArg(payment.PaymentDate),
		nullIfEmpty(payment.Reference), nullIfEmpty(payment.Notes)))
	if err != nil {
		return nil, nil, mapWriteErr(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, mapWriteErr(err)
	}
	return &created, invoice, nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	if !payment.Amount.IsPositive() || !payment.PaymentDate.IsValid() {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := getPayment(ctx, pgTx, payment.ID, true)
	if err != nil {
		return nil, nil, err
	}
	invoice, err := settleInvoice(ctx, pgTx, existing.InvoiceID, payment.Amount.Sub(existing.Amount))
	if err != nil {
		return nil, nil, err
	}
	updated, err := scanPayment(pgTx.QueryRowContext(ctx, `
		UPDATE payments AS p
		SET amount = $2, payment_method = $3, payment_date = $4, reference = $5, notes = $6, updated_at = now()
		WHERE p.id = $1
		RETURNING `+paymentColumns,
		payment.ID, payment.Amount, payment.PaymentMethod, dateArg(payment.PaymentDate),
		nullIfEmpty(payment.Reference), nullIfEmpty(payment.Notes)))
	if err != nil {
		return nil, nil, mapWriteErr(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, mapWriteErr(err)
	}
	return &updated, invoice, nil
}

func (s *Store) DeletePayment(ctx context.Context, id string) (*domain.Invoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := getPayment(ctx, pgTx, id, true)
	if err != nil {
		return nil, err
	}
	invoice, err := settleInvoice(ctx, pgTx, existing.InvoiceID, existing.Amount.Neg())
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id); err != nil {
		return nil, mapWriteErr(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	return invoice, nil
}

// settleInvoice locks the invoice row and moves its amountPaid by delta.
func settleInvoice(ctx context.Context, q queryer, invoiceID string, delta decimal.Decimal) (*domain.Invoice, error) {
	invoice, err := scanInvoice(q.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := pricing.Settle(&invoice, invoice.AmountPaid.Add(delta)); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}

	settled, err := scanInvoice(q.QueryRowContext(ctx, `
		UPDATE invoices
		SET status = $2, amount_due = $3, amount_paid = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns,
		invoice.ID, invoice.Status, invoice.AmountDue, invoice.AmountPaid))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	invoices := []domain.Invoice{settled}
	if err := loadInvoiceLines(ctx, q, invoices); err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func getPayment(ctx context.Context, q queryer, id string, forUpdate bool) (domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	payment, err := scanPayment(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, store.ErrNotFound
		}
		return domain.Payment{}, err
	}
	return payment, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var p domain.Payment
	var paymentDate sql.NullTime
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentMethod, &paymentDate, &p.Reference,
		&p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	if paymentDate.Valid {
		p.PaymentDate = civil.DateOf(paymentDate.Time)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
