package store

import (
	"context"
	"errors"

	"invoiceshelf/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a write loses a version race or would
	// break a reference held by another record.
	ErrConflict  = errors.New("conflict")
	ErrDuplicate = errors.New("duplicate")
)

type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
	// GetItemsByIDs omits ids that do not exist.
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	// DeleteInvoice fails with ErrConflict while payments reference the invoice.
	DeleteInvoice(ctx context.Context, id string) error

	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	// CreatePayment, UpdatePayment and DeletePayment write the payment and the
	// settled amounts of its invoice as one unit. A payment that would push
	// the invoice's amountPaid past its total fails with ErrInvalidInput.
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error)
	DeletePayment(ctx context.Context, id string) (*domain.Invoice, error)

	// ListRecurringInvoices returns every definition when status is empty.
	ListRecurringInvoices(ctx context.Context, status domain.RecurringStatus) ([]domain.RecurringInvoice, error)
	CreateRecurringInvoice(ctx context.Context, def domain.RecurringInvoice) (*domain.RecurringInvoice, error)
	GetRecurringInvoice(ctx context.Context, id string) (*domain.RecurringInvoice, error)
	// UpdateRecurringInvoice fails with ErrConflict unless the stored version
	// equals expectedVersion. The stored version is incremented on success.
	UpdateRecurringInvoice(ctx context.Context, def domain.RecurringInvoice, expectedVersion int64) (*domain.RecurringInvoice, error)
	DeleteRecurringInvoice(ctx context.Context, id string) error
	// CommitGeneration creates invoice and writes def as one unit. Neither
	// effect is visible if the other fails.
	CommitGeneration(ctx context.Context, invoice domain.Invoice, def domain.RecurringInvoice, expectedVersion int64) (*domain.Invoice, *domain.RecurringInvoice, error)

	GetSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) (domain.Settings, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}
