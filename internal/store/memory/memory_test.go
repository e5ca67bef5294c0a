package memory

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/store"
)

func seedDefinition(t *testing.T, s *Store) (*domain.Customer, *domain.RecurringInvoice) {
	t.Helper()
	ctx := context.Background()
	customer, err := s.CreateCustomer(ctx, domain.Customer{CompanyName: "Acme", Email: "billing@acme.test", Phone: "555"})
	require.NoError(t, err)

	day := 1
	start := civil.Date{Year: 2025, Month: 1, Day: 1}
	def, err := s.CreateRecurringInvoice(ctx, domain.RecurringInvoice{
		Name:            "Hosting",
		CustomerID:      customer.ID,
		Frequency:       domain.FrequencyMonthly,
		Status:          domain.RecurringActive,
		StartDate:       start,
		NextInvoiceDate: start,
		DayOfMonth:      &day,
		DueAfterDays:    14,
		Items:           []domain.LineInput{{ItemID: "item-hosting", Quantity: 1}},
	})
	require.NoError(t, err)
	return customer, def
}

func generated(customerID, defID, number string) domain.Invoice {
	return domain.Invoice{
		Number:             number,
		Status:             domain.InvoiceDraft,
		CustomerID:         customerID,
		RecurringInvoiceID: defID,
		SubTotal:           decimal.NewFromInt(49),
		AmountDue:          decimal.NewFromInt(49),
		Items:              []domain.InvoiceLine{{ItemID: "item-hosting", Name: "Hosting", Quantity: 1, UnitPrice: decimal.NewFromInt(49), Total: decimal.NewFromInt(49)}},
	}
}

func TestCommitGenerationWritesBothRecords(t *testing.T) {
	s := NewSeeded()
	customer, def := seedDefinition(t, s)
	require.EqualValues(t, 1, def.Version)

	update := *def
	update.NextInvoiceDate = civil.Date{Year: 2025, Month: 2, Day: 1}
	update.GeneratedCount = 1

	inv, updated, err := s.CommitGeneration(context.Background(), generated(customer.ID, def.ID, "REC-1"), update, def.Version)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.ID)
	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, 1, updated.GeneratedCount)

	invoices, err := s.ListInvoices(context.Background(), domain.InvoiceFilter{RecurringInvoiceID: def.ID})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestCommitGenerationRejectsStaleVersion(t *testing.T) {
	s := NewSeeded()
	customer, def := seedDefinition(t, s)
	ctx := context.Background()

	_, _, err := s.CommitGeneration(ctx, generated(customer.ID, def.ID, "REC-1"), *def, def.Version)
	require.NoError(t, err)

	_, _, err = s.CommitGeneration(ctx, generated(customer.ID, def.ID, "REC-2"), *def, def.Version)
	assert.ErrorIs(t, err, store.ErrConflict)

	invoices, err := s.ListInvoices(ctx, domain.InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, invoices, 1, "stale commit must not leave an invoice behind")
}

func TestCommitGenerationLeavesDefinitionOnDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	customer, def := seedDefinition(t, s)
	ctx := context.Background()

	_, err := s.CreateInvoice(ctx, generated(customer.ID, "", "REC-1"))
	require.NoError(t, err)

	update := *def
	update.GeneratedCount = 1
	_, _, err = s.CommitGeneration(ctx, generated(customer.ID, def.ID, "REC-1"), update, def.Version)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	current, err := s.GetRecurringInvoice(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.GeneratedCount)
	assert.Equal(t, def.Version, current.Version)
}

func TestDeleteCustomerBlockedByReferences(t *testing.T) {
	s := NewSeeded()
	customer, def := seedDefinition(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, s.DeleteCustomer(ctx, customer.ID), store.ErrConflict)
	require.NoError(t, s.DeleteRecurringInvoice(ctx, def.ID))
	assert.NoError(t, s.DeleteCustomer(ctx, customer.ID))
	assert.ErrorIs(t, s.DeleteCustomer(ctx, customer.ID), store.ErrNotFound)
}

func TestCustomerEmailIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateCustomer(ctx, domain.Customer{CompanyName: "A", Email: "x@y.test"})
	require.NoError(t, err)
	_, err = s.CreateCustomer(ctx, domain.Customer{CompanyName: "B", Email: "X@Y.test"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := NewSeeded()
	_, def := seedDefinition(t, s)
	ctx := context.Background()

	got, err := s.GetRecurringInvoice(ctx, def.ID)
	require.NoError(t, err)
	got.Items[0].Quantity = 99
	*got.DayOfMonth = 15

	again, err := s.GetRecurringInvoice(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Equal(t, 1, *again.DayOfMonth)
}

func TestSettingsDefaultUntilSaved(t *testing.T) {
	s := New()
	ctx := context.Background()

	settings, err := s.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)

	settings.DarkMode = true
	_, err = s.SaveSettings(ctx, "user-1", settings)
	require.NoError(t, err)

	saved, err := s.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, saved.DarkMode)
}

func payment(invoiceID, amount string) domain.Payment {
	return domain.Payment{
		InvoiceID:     invoiceID,
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: domain.PaymentBankTransfer,
		PaymentDate:   civil.Date{Year: 2025, Month: 2, Day: 10},
	}
}

func TestPaymentsSettleInvoice(t *testing.T) {
	s := NewSeeded()
	customer, _ := seedDefinition(t, s)
	ctx := context.Background()
	inv, err := s.CreateInvoice(ctx, generated(customer.ID, "", "INV-1"))
	require.NoError(t, err)

	first, settled, err := s.CreatePayment(ctx, payment(inv.ID, "20"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, settled.AmountPaid.Equal(decimal.NewFromInt(20)))
	assert.True(t, settled.AmountDue.Equal(decimal.NewFromInt(29)))
	assert.Equal(t, domain.InvoiceDraft, settled.Status)

	_, settled, err = s.CreatePayment(ctx, payment(inv.ID, "29"))
	require.NoError(t, err)
	assert.True(t, settled.AmountDue.IsZero())
	assert.Equal(t, domain.InvoicePaid, settled.Status)

	_, _, err = s.CreatePayment(ctx, payment(inv.ID, "0.01"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	lowered := *first
	lowered.Amount = decimal.NewFromInt(10)
	updated, settled, err := s.UpdatePayment(ctx, lowered)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, updated.CreatedAt)
	assert.True(t, settled.AmountPaid.Equal(decimal.NewFromInt(39)))
	assert.Equal(t, domain.InvoiceUnpaid, settled.Status)

	settled, err = s.DeletePayment(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, settled.AmountPaid.Equal(decimal.NewFromInt(29)))

	stored, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.AmountDue.Equal(decimal.NewFromInt(20)))
}

func TestPaymentsFilterAndBlockInvoiceDelete(t *testing.T) {
	s := NewSeeded()
	customer, _ := seedDefinition(t, s)
	other, err := s.CreateCustomer(context.Background(), domain.Customer{CompanyName: "Other", Email: "other@acme.test"})
	require.NoError(t, err)
	ctx := context.Background()

	mine, err := s.CreateInvoice(ctx, generated(customer.ID, "", "INV-1"))
	require.NoError(t, err)
	theirs, err := s.CreateInvoice(ctx, generated(other.ID, "", "INV-2"))
	require.NoError(t, err)
	_, _, err = s.CreatePayment(ctx, payment(mine.ID, "10"))
	require.NoError(t, err)
	paid, _, err := s.CreatePayment(ctx, payment(theirs.ID, "5"))
	require.NoError(t, err)

	byCustomer, err := s.ListPayments(ctx, domain.PaymentFilter{CustomerID: customer.ID})
	require.NoError(t, err)
	require.Len(t, byCustomer, 1)
	assert.Equal(t, mine.ID, byCustomer[0].InvoiceID)

	byInvoice, err := s.ListPayments(ctx, domain.PaymentFilter{InvoiceID: theirs.ID})
	require.NoError(t, err)
	require.Len(t, byInvoice, 1)

	assert.ErrorIs(t, s.DeleteInvoice(ctx, theirs.ID), store.ErrConflict)
	_, err = s.DeletePayment(ctx, paid.ID)
	require.NoError(t, err)
	assert.NoError(t, s.DeleteInvoice(ctx, theirs.ID))

	_, _, err = s.CreatePayment(ctx, payment("inv-missing", "1"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
