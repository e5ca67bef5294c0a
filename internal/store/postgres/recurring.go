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

const recurringColumns = `id, name, customer_id, frequency, status, start_date, end_date, next_invoice_date,
	day_of_month, day_of_week, due_after_days, COALESCE(notes, ''), generated_count, last_generated_at,
	version, created_at, updated_at`

func (s *Store) ListRecurringInvoices(ctx context.Context, status domain.RecurringStatus) ([]domain.RecurringInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_invoices
		WHERE ($1 = '' OR status = $1)
		ORDER BY next_invoice_date, id
	`, string(status))
	if err != nil {
		return nil, err
	}
	defs := make([]domain.RecurringInvoice, 0, 64)
	for rows.Next() {
		def, err := scanRecurring(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadRecurringLines(ctx, s.db, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (s *Store) CreateRecurringInvoice(ctx context.Context, def domain.RecurringInvoice) (*domain.RecurringInvoice, error) {
	if strings.TrimSpace(def.Name) == "" || len(def.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if def.ID == "" {
		def.ID = xid.New("rinv")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created, err := scanRecurring(pgTx.QueryRowContext(ctx, `
		INSERT INTO recurring_invoices (
			id, name, customer_id, frequency, status, start_date, end_date, next_invoice_date,
			day_of_month, day_of_week, due_after_days, notes, generated_count, last_generated_at,
			version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1,now(),now())
		RETURNING `+recurringColumns,
		def.ID, def.Name, def.CustomerID, def.Frequency, def.Status, dateArg(def.StartDate), nullDate(def.EndDate),
		dateArg(def.NextInvoiceDate), nullInt(def.DayOfMonth), nullInt(def.DayOfWeek), def.DueAfterDays,
		nullIfEmpty(def.Notes), def.GeneratedCount, nullTime(def.LastGeneratedAt)))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if err := insertRecurringLines(ctx, pgTx, def.ID, def.Items); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	created.Items = def.Items
	return &created, nil
}

func (s *Store) GetRecurringInvoice(ctx context.Context, id string) (*domain.RecurringInvoice, error) {
	def, err := scanRecurring(s.db.QueryRowContext(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defs := []domain.RecurringInvoice{def}
	if err := loadRecurringLines(ctx, s.db, defs); err != nil {
		return nil, err
	}
	return &defs[0], nil
}

func (s *Store) UpdateRecurringInvoice(ctx context.Context, def domain.RecurringInvoice, expectedVersion int64) (*domain.RecurringInvoice, error) {
	if strings.TrimSpace(def.Name) == "" || len(def.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	updated, err := updateRecurring(ctx, pgTx, def, expectedVersion)
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM recurring_invoice_items WHERE recurring_invoice_id = $1`, def.ID); err != nil {
		return nil, err
	}
	if err := insertRecurringLines(ctx, pgTx, def.ID, def.Items); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	updated.Items = def.Items
	return updated, nil
}

func (s *Store) DeleteRecurringInvoice(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "recurring_invoices", id)
}

// CommitGeneration advances the definition and inserts the generated invoice
// in one serializable transaction. The version predicate on the UPDATE makes
// a second generation of the same occurrence fail with ErrConflict.
func (s *Store) CommitGeneration(ctx context.Context, invoice domain.Invoice, def domain.RecurringInvoice, expectedVersion int64) (*domain.Invoice, *domain.RecurringInvoice, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	updated, err := updateRecurring(ctx, pgTx, def, expectedVersion)
	if err != nil {
		return nil, nil, err
	}
	created, err := insertInvoice(ctx, pgTx, invoice)
	if err != nil {
		return nil, nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, mapWriteErr(err)
	}

	updated.Items = def.Items
	return created, updated, nil
}

func updateRecurring(ctx context.Context, q queryer, def domain.RecurringInvoice, expectedVersion int64) (*domain.RecurringInvoice, error) {
	updated, err := scanRecurring(q.QueryRowContext(ctx, `
		UPDATE recurring_invoices
		SET name = $3, customer_id = $4, frequency = $5, status = $6, start_date = $7, end_date = $8,
			next_invoice_date = $9, day_of_month = $10, day_of_week = $11, due_after_days = $12, notes = $13,
			generated_count = $14, last_generated_at = $15, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+recurringColumns,
		def.ID, expectedVersion, def.Name, def.CustomerID, def.Frequency, def.Status, dateArg(def.StartDate),
		nullDate(def.EndDate), dateArg(def.NextInvoiceDate), nullInt(def.DayOfMonth), nullInt(def.DayOfWeek),
		def.DueAfterDays, nullIfEmpty(def.Notes), def.GeneratedCount, nullTime(def.LastGeneratedAt)))
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapWriteErr(err)
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM recurring_invoices WHERE id = $1)`, def.ID).Scan(&exists); err != nil {
		return nil, mapWriteErr(err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

func insertRecurringLines(ctx context.Context, q queryer, defID string, lines []domain.LineInput) error {
	for i, line := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO recurring_invoice_items (recurring_invoice_id, position, item_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, defID, i, line.ItemID, line.Quantity)
		if err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func loadRecurringLines(ctx context.Context, q queryer, defs []domain.RecurringInvoice) error {
	if len(defs) == 0 {
		return nil
	}
	index := make(map[string]int, len(defs))
	ids := make([]string, 0, len(defs))
	for i, def := range defs {
		index[def.ID] = i
		ids = append(ids, def.ID)
		defs[i].Items = []domain.LineInput{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT recurring_invoice_id, item_id, quantity
		FROM recurring_invoice_items
		WHERE recurring_invoice_id = ANY($1)
		ORDER BY recurring_invoice_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var defID string
		var line domain.LineInput
		if err := rows.Scan(&defID, &line.ItemID, &line.Quantity); err != nil {
			return err
		}
		i := index[defID]
		defs[i].Items = append(defs[i].Items, line)
	}
	return rows.Err()
}

func scanRecurring(row rowScanner) (domain.RecurringInvoice, error) {
	var def domain.RecurringInvoice
	var startDate, nextDate sql.NullTime
	var endDate, lastGenerated sql.NullTime
	var dayOfMonth, dayOfWeek sql.NullInt64
	err := row.Scan(&def.ID, &def.Name, &def.CustomerID, &def.Frequency, &def.Status, &startDate, &endDate, &nextDate,
		&dayOfMonth, &dayOfWeek, &def.DueAfterDays, &def.Notes, &def.GeneratedCount, &lastGenerated,
		&def.Version, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	def.StartDate = civil.DateOf(startDate.Time)
	def.NextInvoiceDate = civil.DateOf(nextDate.Time)
	def.EndDate = fromNullDate(endDate)
	def.DayOfMonth = fromNullInt(dayOfMonth)
	def.DayOfWeek = fromNullInt(dayOfWeek)
	if lastGenerated.Valid {
		at := lastGenerated.Time.UTC()
		def.LastGeneratedAt = &at
	}
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return def, nil
}
