package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations. It is a no-op when the
// database is already current.
func (s *Store) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	driver, err := pgxmigrate.WithConnection(ctx, conn, &pgxmigrate.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("migration setup: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, created_at, updated_at
		FROM items
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (id, name, price, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		RETURNING created_at, updated_at
	`, item.ID, item.Name, item.Price).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT id, name, price, created_at, updated_at
		FROM items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" || item.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, price = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, name, price, created_at, updated_at
	`, item.ID, item.Name, item.Price))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteErr(err)
	}
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "items", id)
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, created_at, updated_at
		FROM items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY company_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.CompanyName) == "" || strings.TrimSpace(customer.Email) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	created, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, company_name, contact_person_name, email, phone, shipping_address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING `+customerColumns,
		customer.ID, customer.CompanyName, nullIfEmpty(customer.ContactPersonName), customer.Email,
		customer.Phone, nullIfEmpty(customer.ShippingAddress)))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.CompanyName) == "" || strings.TrimSpace(customer.Email) == "" {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET company_name = $2, contact_person_name = $3, email = $4, phone = $5, shipping_address = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.CompanyName, nullIfEmpty(customer.ContactPersonName), customer.Email,
		customer.Phone, nullIfEmpty(customer.ShippingAddress)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteErr(err)
	}
	return &updated, nil
}

// DeleteCustomer relies on the foreign keys from invoices and recurring
// definitions to refuse while the customer is still referenced.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "customers", id)
}

func (s *Store) GetSettings(ctx context.Context, userID string) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT email_notifications, invoice_reminders, weekly_reports, dark_mode, updated_at
		FROM user_settings
		WHERE user_id = $1
	`, userID).Scan(&settings.EmailNotifications, &settings.InvoiceReminders, &settings.WeeklyReports, &settings.DarkMode, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, userID string, settings domain.Settings) (domain.Settings, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Settings{}, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_settings (user_id, email_notifications, invoice_reminders, weekly_reports, dark_mode, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (user_id)
		DO UPDATE SET email_notifications = EXCLUDED.email_notifications,
			invoice_reminders = EXCLUDED.invoice_reminders,
			weekly_reports = EXCLUDED.weekly_reports,
			dark_mode = EXCLUDED.dark_mode,
			updated_at = now()
		RETURNING updated_at
	`, userID, settings.EmailNotifications, settings.InvoiceReminders, settings.WeeklyReports, settings.DarkMode).Scan(&settings.UpdatedAt)
	if err != nil {
		return domain.Settings{}, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, email, password, role, customer_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,$7,now())
	`, user.ID, user.Username, user.Email, user.Password, user.Role, nullIfEmpty(user.CustomerID), user.CreatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password, role, COALESCE(customer_id, ''), active, created_at
		FROM app_users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.Role, &user.CustomerID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE email = $1
	`, email, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) deleteByID(ctx context.Context, table string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	if err := row.Scan(&item.ID, &item.Name, &item.Price, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return domain.Item{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

const customerColumns = `id, company_name, COALESCE(contact_person_name, ''), email, phone, COALESCE(shipping_address, ''), created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.CompanyName, &c.ContactPersonName, &c.Email, &c.Phone, &c.ShippingAddress, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapWriteErr translates constraint violations into store sentinels.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "23503":
		// Deletes hit the key from the referencing side, inserts from the
		// referenced side.
		if strings.HasPrefix(pgErr.Message, "update or delete") {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
	case "40001":
		return store.ErrConflict
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func nullDate(val *civil.Date) any {
	if val == nil {
		return nil
	}
	return dateArg(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func fromNullDate(val sql.NullTime) *civil.Date {
	if !val.Valid {
		return nil
	}
	d := civil.DateOf(val.Time)
	return &d
}

func fromNullInt(val sql.NullInt64) *int {
	if !val.Valid {
		return nil
	}
	v := int(val.Int64)
	return &v
}
