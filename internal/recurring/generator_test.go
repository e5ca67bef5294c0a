package recurring_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/lock"
	"invoiceshelf/backend/internal/logger"
	"invoiceshelf/backend/internal/metrics"
	"invoiceshelf/backend/internal/recurring"
	"invoiceshelf/backend/internal/schedule"
	"invoiceshelf/backend/internal/store/memory"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func at(d civil.Date) time.Time {
	return d.In(time.UTC).Add(9 * time.Hour)
}

type fixture struct {
	store    *memory.Store
	gen      *recurring.Generator
	metrics  *metrics.Metrics
	customer *domain.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewSeeded()
	customer, err := st.CreateCustomer(context.Background(), domain.Customer{CompanyName: "Acme", Email: "billing@acme.test"})
	require.NoError(t, err)
	m := metrics.New()
	gen := recurring.NewGenerator(st, lock.NewLocalLocker(), recurring.Options{
		Concurrency: 4,
		Metrics:     m,
		Logger:      logger.Discard(),
	})
	return &fixture{store: st, gen: gen, metrics: m, customer: customer}
}

func (f *fixture) monthly(t *testing.T, start civil.Date, day int, end *civil.Date) *domain.RecurringInvoice {
	t.Helper()
	def, err := f.store.CreateRecurringInvoice(context.Background(), domain.RecurringInvoice{
		Name:            "Hosting",
		CustomerID:      f.customer.ID,
		Frequency:       domain.FrequencyMonthly,
		Status:          domain.RecurringActive,
		StartDate:       start,
		EndDate:         end,
		NextInvoiceDate: start,
		DayOfMonth:      &day,
		DueAfterDays:    schedule.DefaultDueAfterDays,
		Notes:           "Monthly hosting",
		Items: []domain.LineInput{
			{ItemID: "item-hosting", Quantity: 2},
			{ItemID: "item-domain", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return def
}

func (f *fixture) invoicesFor(t *testing.T, defID string) []domain.Invoice {
	t.Helper()
	invoices, err := f.store.ListInvoices(context.Background(), domain.InvoiceFilter{RecurringInvoiceID: defID})
	require.NoError(t, err)
	return invoices
}

func (f *fixture) reload(t *testing.T, id string) *domain.RecurringInvoice {
	t.Helper()
	def, err := f.store.GetRecurringInvoice(context.Background(), id)
	require.NoError(t, err)
	return def
}

func TestGenerateMonthlyOccurrence(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 1, 1), 1, nil)

	res, err := f.gen.Generate(context.Background(), *def, at(date(2025, 1, 1)))
	require.NoError(t, err)

	inv := res.Invoice
	assert.Equal(t, domain.InvoiceDraft, inv.Status)
	assert.Equal(t, def.ID, inv.RecurringInvoiceID)
	assert.Equal(t, f.customer.ID, inv.CustomerID)
	assert.Equal(t, date(2025, 1, 31), inv.DueDate)
	assert.Equal(t, "Monthly hosting", inv.Notes)
	assert.Equal(t, recurring.InvoiceNumber(def.ID, 1), inv.Number)
	assert.True(t, decimal.RequireFromString("113.50").Equal(inv.SubTotal), "subtotal %s", inv.SubTotal)
	assert.True(t, inv.AmountDue.Equal(inv.SubTotal))
	require.Len(t, inv.Items, 2)
	assert.Equal(t, "item-hosting", inv.Items[0].ItemID)

	assert.Equal(t, date(2025, 2, 1), res.Definition.NextInvoiceDate)
	assert.Equal(t, 1, res.Definition.GeneratedCount)
	assert.Equal(t, domain.RecurringActive, res.Definition.Status)
	require.NotNil(t, res.Definition.LastGeneratedAt)

	stored := f.reload(t, def.ID)
	assert.Equal(t, date(2025, 2, 1), stored.NextInvoiceDate)
	assert.Len(t, f.invoicesFor(t, def.ID), 1)
}

func TestGenerateNotDue(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 2, 1), 1, nil)

	_, err := f.gen.Generate(context.Background(), *def, at(date(2025, 1, 15)))
	assert.ErrorIs(t, err, recurring.ErrNotDue)
	assert.Empty(t, f.invoicesFor(t, def.ID))
}

func TestGenerateCompletesAtEndDate(t *testing.T) {
	f := newFixture(t)
	end := date(2025, 6, 30)
	def := f.monthly(t, date(2025, 6, 1), 1, &end)

	res, err := f.gen.Generate(context.Background(), *def, at(date(2025, 6, 1)))
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringCompleted, res.Definition.Status)
	assert.Equal(t, date(2025, 7, 1), res.Definition.NextInvoiceDate)

	assert.False(t, schedule.IsDue(res.Definition, at(date(2025, 7, 1))))
	_, err = f.gen.Generate(context.Background(), res.Definition, at(date(2025, 7, 1)))
	assert.ErrorIs(t, err, recurring.ErrNotDue)
}

func TestGenerateMissingItemLeavesDefinitionUntouched(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 1, 1), 1, nil)
	require.NoError(t, f.store.DeleteItem(context.Background(), "item-domain"))

	_, err := f.gen.Generate(context.Background(), *def, at(date(2025, 1, 1)))
	require.ErrorIs(t, err, recurring.ErrItemNotFound)
	assert.Contains(t, err.Error(), "item-domain")

	stored := f.reload(t, def.ID)
	assert.Equal(t, date(2025, 1, 1), stored.NextInvoiceDate)
	assert.Equal(t, 0, stored.GeneratedCount)
	assert.Equal(t, def.Version, stored.Version)
	assert.Empty(t, f.invoicesFor(t, def.ID))
}

func TestGenerateUsesCurrentItemPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.monthly(t, date(2025, 1, 1), 1, nil)

	item, err := f.store.GetItem(ctx, "item-domain")
	require.NoError(t, err)
	item.Price = decimal.RequireFromString("20.00")
	_, err = f.store.UpdateItem(ctx, *item)
	require.NoError(t, err)

	res, err := f.gen.Generate(ctx, *def, at(date(2025, 1, 1)))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("118.00").Equal(res.Invoice.SubTotal), "subtotal %s", res.Invoice.SubTotal)
}

func TestGenerateConcurrentCallsProduceOneInvoice(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 1, 1), 1, nil)
	now := at(date(2025, 1, 1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gen.Generate(context.Background(), *def, now)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			reason := recurring.ReasonFor(err)
			assert.Contains(t, []string{recurring.ReasonInProgress, recurring.ReasonNotDue, recurring.ReasonConflict}, reason)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.invoicesFor(t, def.ID), 1)
	assert.Equal(t, 1, f.reload(t, def.ID).GeneratedCount)
}

func TestGenerateReportsHeldLock(t *testing.T) {
	st := memory.NewSeeded()
	customer, err := st.CreateCustomer(context.Background(), domain.Customer{CompanyName: "Acme", Email: "billing@acme.test"})
	require.NoError(t, err)
	locker := lock.NewLocalLocker()
	gen := recurring.NewGenerator(st, locker, recurring.Options{Logger: logger.Discard()})

	day := 1
	def, err := st.CreateRecurringInvoice(context.Background(), domain.RecurringInvoice{
		Name: "Hosting", CustomerID: customer.ID, Frequency: domain.FrequencyMonthly, Status: domain.RecurringActive,
		StartDate: date(2025, 1, 1), NextInvoiceDate: date(2025, 1, 1), DayOfMonth: &day, DueAfterDays: 30,
		Items: []domain.LineInput{{ItemID: "item-hosting", Quantity: 1}},
	})
	require.NoError(t, err)

	unlock, err := locker.TryLock(context.Background(), "recurring:"+def.ID, time.Minute)
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	_, err = gen.Generate(context.Background(), *def, at(date(2025, 1, 1)))
	assert.ErrorIs(t, err, recurring.ErrGenerationInProgress)
}

func TestRunTriggerIsIdempotentForSameDay(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 1, 1), 1, nil)
	now := at(date(2025, 1, 1))

	first, err := f.gen.RunTrigger(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, first.Generated, 1)
	assert.Equal(t, def.ID, first.Generated[0].DefinitionID)
	assert.Equal(t, date(2025, 2, 1), first.Generated[0].NextInvoiceDate)

	second, err := f.gen.RunTrigger(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, second.Generated)
	assert.Empty(t, second.Failed)
	assert.Len(t, f.invoicesFor(t, def.ID), 1)
}

func TestRunTriggerSkipsPausedAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.monthly(t, date(2025, 1, 1), 1, nil)

	paused := *def
	paused.Status = domain.RecurringPaused
	_, err := f.store.UpdateRecurringInvoice(ctx, paused, def.Version)
	require.NoError(t, err)

	result, err := f.gen.RunTrigger(ctx, at(date(2025, 1, 1)))
	require.NoError(t, err)
	assert.Empty(t, result.Generated)

	current := f.reload(t, def.ID)
	current.Status = domain.RecurringActive
	_, err = f.store.UpdateRecurringInvoice(ctx, *current, current.Version)
	require.NoError(t, err)

	result, err = f.gen.RunTrigger(ctx, at(date(2025, 1, 3)))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	assert.Equal(t, date(2025, 2, 1), result.Generated[0].NextInvoiceDate)
}

func TestRunTriggerCatchesUpOneOccurrencePerRun(t *testing.T) {
	f := newFixture(t)
	def := f.monthly(t, date(2025, 1, 1), 1, nil)
	now := at(date(2025, 3, 15))

	for i, want := range []civil.Date{date(2025, 2, 1), date(2025, 3, 1), date(2025, 4, 1)} {
		result, err := f.gen.RunTrigger(context.Background(), now)
		require.NoError(t, err)
		require.Len(t, result.Generated, 1, "run %d", i)
		assert.Equal(t, want, result.Generated[0].NextInvoiceDate)
	}

	result, err := f.gen.RunTrigger(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, result.Generated)
	assert.Len(t, f.invoicesFor(t, def.ID), 3)
}

func TestRunTriggerIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.monthly(t, date(2025, 1, 1), 1, nil)

	day := 1
	broken, err := f.store.CreateRecurringInvoice(ctx, domain.RecurringInvoice{
		Name: "Ghost", CustomerID: f.customer.ID, Frequency: domain.FrequencyMonthly, Status: domain.RecurringActive,
		StartDate: date(2025, 1, 1), NextInvoiceDate: date(2025, 1, 1), DayOfMonth: &day, DueAfterDays: 30,
		Items: []domain.LineInput{{ItemID: "item-missing", Quantity: 1}},
	})
	require.NoError(t, err)

	result, err := f.gen.RunTrigger(recurring.WithSource(ctx, "cron"), at(date(2025, 1, 1)))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	assert.Equal(t, good.ID, result.Generated[0].DefinitionID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, broken.ID, result.Failed[0].DefinitionID)
	assert.Equal(t, recurring.ReasonItemNotFound, result.Failed[0].Reason)

	assert.Equal(t, date(2025, 1, 1), f.reload(t, broken.ID).NextInvoiceDate)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TriggerRunsTotal.WithLabelValues("cron")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.InvoicesGenerated), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.GenerationFailures.WithLabelValues(recurring.ReasonItemNotFound)), 0.001)
}

type failingCommit struct {
	*memory.Store
	failFor string
}

func (f failingCommit) CommitGeneration(ctx context.Context, invoice domain.Invoice, def domain.RecurringInvoice, expectedVersion int64) (*domain.Invoice, *domain.RecurringInvoice, error) {
	if def.ID == f.failFor {
		return nil, nil, errors.New("connection reset")
	}
	return f.Store.CommitGeneration(ctx, invoice, def, expectedVersion)
}

func TestRunTriggerReportsPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ok := f.monthly(t, date(2025, 1, 1), 1, nil)
	bad := f.monthly(t, date(2025, 1, 1), 1, nil)

	gen := recurring.NewGenerator(failingCommit{Store: f.store, failFor: bad.ID}, nil, recurring.Options{Logger: logger.Discard()})
	result, err := gen.RunTrigger(context.Background(), at(date(2025, 1, 1)))
	require.NoError(t, err)

	require.Len(t, result.Generated, 1)
	assert.Equal(t, ok.ID, result.Generated[0].DefinitionID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, recurring.ReasonPersistence, result.Failed[0].Reason)

	stored := f.reload(t, bad.ID)
	assert.Equal(t, date(2025, 1, 1), stored.NextInvoiceDate)
	assert.Equal(t, 0, stored.GeneratedCount)
}

func TestGenerateHonorsLocation(t *testing.T) {
	st := memory.NewSeeded()
	ctx := context.Background()
	customer, err := st.CreateCustomer(ctx, domain.Customer{CompanyName: "Acme", Email: "billing@acme.test"})
	require.NoError(t, err)
	loc := time.FixedZone("UTC+10", 10*60*60)
	gen := recurring.NewGenerator(st, nil, recurring.Options{Location: loc, Logger: logger.Discard()})

	day := 1
	def, err := st.CreateRecurringInvoice(ctx, domain.RecurringInvoice{
		Name: "Hosting", CustomerID: customer.ID, Frequency: domain.FrequencyMonthly, Status: domain.RecurringActive,
		StartDate: date(2025, 2, 1), NextInvoiceDate: date(2025, 2, 1), DayOfMonth: &day, DueAfterDays: 7,
		Items: []domain.LineInput{{ItemID: "item-hosting", Quantity: 1}},
	})
	require.NoError(t, err)

	// 2025-01-31 20:00 UTC is already 2025-02-01 in UTC+10.
	now := time.Date(2025, 1, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, date(2025, 2, 1), gen.Today(now))

	res, err := gen.Generate(ctx, *def, now)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 8), res.Invoice.DueDate)
}

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "REC-89ABCDEF-0001", recurring.InvoiceNumber("rinv_0123-4567-89ab-cdef", 1))
	assert.Equal(t, "REC-SHORT-0012", recurring.InvoiceNumber("short", 12))
	assert.Equal(t, "REC-SHORT-0012-5B6C7D", recurring.SuffixedInvoiceNumber("REC-SHORT-0012", "inv-0a1b2c3d4e5b6c7d"))
}

func TestGenerateSurvivesTakenInvoiceNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.monthly(t, date(2025, 1, 1), 1, nil)

	taken := recurring.InvoiceNumber(def.ID, 1)
	_, err := f.store.CreateInvoice(ctx, domain.Invoice{
		Number:     taken,
		Status:     domain.InvoiceDraft,
		SubTotal:   decimal.NewFromInt(1),
		AmountDue:  decimal.NewFromInt(1),
		DueDate:    date(2025, 1, 31),
		CustomerID: f.customer.ID,
		Items:      []domain.InvoiceLine{{ItemID: "item-domain", Name: "Domain", Quantity: 1}},
	})
	require.NoError(t, err)

	result, err := f.gen.RunTrigger(ctx, at(date(2025, 1, 1)))
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	require.Len(t, result.Generated, 1)

	number := result.Generated[0].InvoiceNumber
	assert.NotEqual(t, taken, number)
	assert.True(t, strings.HasPrefix(number, taken+"-"), "number %s", number)

	stored := f.reload(t, def.ID)
	assert.Equal(t, 1, stored.GeneratedCount)
	assert.Equal(t, date(2025, 2, 1), stored.NextInvoiceDate)

	// The next occurrence is back on the plain number.
	result, err = f.gen.RunTrigger(ctx, at(date(2025, 2, 1)))
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	assert.Equal(t, recurring.InvoiceNumber(def.ID, 2), result.Generated[0].InvoiceNumber)
}
