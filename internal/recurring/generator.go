// Package recurring materializes invoices from due recurring definitions.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/lock"
	"invoiceshelf/backend/internal/metrics"
	"invoiceshelf/backend/internal/pricing"
	"invoiceshelf/backend/internal/schedule"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

var (
	ErrItemNotFound         = errors.New("item not found")
	ErrPersistence          = errors.New("persistence failure")
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrNotDue               = errors.New("recurring invoice is not due")
)

// Failure reason codes reported in trigger results and metrics.
const (
	ReasonItemNotFound      = "item_not_found"
	ReasonPersistence       = "persistence_failure"
	ReasonInProgress        = "generation_in_progress"
	ReasonNotDue            = "not_due"
	ReasonConflict          = "conflict"
	ReasonInvalidDefinition = "invalid_definition"
	ReasonNotFound          = "not_found"
)

// Repository is the slice of store.Repository the generator needs.
type Repository interface {
	ListRecurringInvoices(ctx context.Context, status domain.RecurringStatus) ([]domain.RecurringInvoice, error)
	GetRecurringInvoice(ctx context.Context, id string) (*domain.RecurringInvoice, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)
	CommitGeneration(ctx context.Context, invoice domain.Invoice, def domain.RecurringInvoice, expectedVersion int64) (*domain.Invoice, *domain.RecurringInvoice, error)
}

type Options struct {
	// Location decides which calendar day "now" falls on. Defaults to UTC.
	Location    *time.Location
	Concurrency int
	LockTTL     time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Generator struct {
	repo        Repository
	locker      lock.Locker
	loc         *time.Location
	concurrency int
	lockTTL     time.Duration
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

type Result struct {
	Invoice    domain.Invoice
	Definition domain.RecurringInvoice
}

func NewGenerator(repo Repository, locker lock.Locker, opts Options) *Generator {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}

	return &Generator{
		repo:        repo,
		locker:      locker,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		lockTTL:     opts.LockTTL,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
}

// Today is the calendar date of now in the generator's location.
func (g *Generator) Today(now time.Time) civil.Date {
	return civil.DateOf(now.In(g.loc))
}

// Generate materializes the occurrence at def.NextInvoiceDate. The stored
// definition is re-read under the per-definition lock, so a caller holding a
// stale copy gets ErrNotDue instead of a second invoice.
func (g *Generator) Generate(ctx context.Context, def domain.RecurringInvoice, now time.Time) (*Result, error) {
	localNow := now.In(g.loc)
	if !schedule.IsDue(def, localNow) {
		return nil, ErrNotDue
	}

	unlock, err := g.locker.TryLock(ctx, "recurring:"+def.ID, g.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, ErrGenerationInProgress
		}
		return nil, fmt.Errorf("%w: acquire lock: %w", ErrPersistence, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			g.log.Warn().Err(err).Str("definition_id", def.ID).Msg("failed to release generation lock")
		}
	}()

	current, err := g.repo.GetRecurringInvoice(ctx, def.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load definition: %w", ErrPersistence, err)
	}
	if !schedule.IsDue(*current, localNow) {
		return nil, ErrNotDue
	}

	items, err := g.repo.GetItemsByIDs(ctx, pricing.ItemIDs(current.Items))
	if err != nil {
		return nil, fmt.Errorf("%w: load items: %w", ErrPersistence, err)
	}
	lines, subtotal, missing := pricing.Lines(current.Items, items)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, strings.Join(missing, ", "))
	}

	next, err := schedule.Advance(*current)
	if err != nil {
		return nil, err
	}

	generatedAt := now.UTC()
	update := *current
	update.NextInvoiceDate = next
	update.GeneratedCount = current.GeneratedCount + 1
	update.LastGeneratedAt = &generatedAt
	if schedule.Completes(*current, next) {
		update.Status = domain.RecurringCompleted
	}

	invoice := domain.Invoice{
		ID:                 xid.New("inv"),
		Number:             InvoiceNumber(current.ID, update.GeneratedCount),
		Status:             domain.InvoiceDraft,
		SubTotal:           subtotal,
		AmountDue:          subtotal,
		AmountPaid:         decimal.Zero,
		DueDate:            schedule.DueDate(localNow, current.DueAfterDays),
		Notes:              current.Notes,
		CustomerID:         current.CustomerID,
		RecurringInvoiceID: current.ID,
		Items:              lines,
	}

	created, updated, err := g.repo.CommitGeneration(ctx, invoice, update, current.Version)
	if errors.Is(err, store.ErrDuplicate) {
		// Another invoice already holds the number. Retrying the same number
		// would fail on every later run, so suffix it with the invoice id.
		g.log.Warn().
			Str("definition_id", current.ID).
			Str("invoice_number", invoice.Number).
			Msg("invoice number taken, using suffixed number")
		invoice.Number = SuffixedInvoiceNumber(invoice.Number, invoice.ID)
		created, updated, err = g.repo.CommitGeneration(ctx, invoice, update, current.Version)
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("commit generation: %w", err)
		}
		return nil, fmt.Errorf("%w: commit generation: %w", ErrPersistence, err)
	}

	g.log.Info().
		Str("definition_id", updated.ID).
		Str("invoice_id", created.ID).
		Str("invoice_number", created.Number).
		Str("next_invoice_date", updated.NextInvoiceDate.String()).
		Str("status", string(updated.Status)).
		Msg("recurring invoice generated")

	return &Result{Invoice: *created, Definition: *updated}, nil
}

type sourceKey struct{}

// WithSource labels trigger runs started from ctx ("cron", "manual", "cli").
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the label set by WithSource, defaulting to "manual".
func SourceFrom(ctx context.Context) string {
	if source, ok := ctx.Value(sourceKey{}).(string); ok && source != "" {
		return source
	}
	return "manual"
}

// RunTrigger generates one occurrence for every due ACTIVE definition.
// Failures are isolated per definition and reported in the result; the
// returned error is only set when the definitions could not be listed.
func (g *Generator) RunTrigger(ctx context.Context, now time.Time) (domain.TriggerResult, error) {
	started := time.Now()
	result := domain.TriggerResult{
		Generated: []domain.GeneratedInvoice{},
		Failed:    []domain.GenerationFailure{},
		Skipped:   []domain.GenerationFailure{},
		RanAt:     now.UTC(),
	}

	defs, err := g.repo.ListRecurringInvoices(ctx, domain.RecurringActive)
	if err != nil {
		g.log.Error().Err(err).Msg("failed to list recurring invoices")
		return result, fmt.Errorf("%w: list recurring invoices: %w", ErrPersistence, err)
	}

	today := g.Today(now)
	due := make([]domain.RecurringInvoice, 0, len(defs))
	for _, def := range defs {
		if schedule.IsDueOn(def, today) {
			due = append(due, def)
		}
	}
	if len(due) == 0 {
		g.log.Debug().Str("date", today.String()).Msg("no recurring invoices due")
		g.metrics.ObserveTrigger(SourceFrom(ctx), started, 0, 0, nil)
		return result, nil
	}
	g.log.Info().Int("count", len(due)).Str("date", today.String()).Msg("found recurring invoices to generate")

	var mu sync.Mutex
	failures := make(map[string]int)
	var group errgroup.Group
	group.SetLimit(g.concurrency)
	for _, def := range due {
		group.Go(func() error {
			res, err := g.Generate(ctx, def, now)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				result.Generated = append(result.Generated, domain.GeneratedInvoice{
					DefinitionID:    res.Definition.ID,
					InvoiceID:       res.Invoice.ID,
					InvoiceNumber:   res.Invoice.Number,
					NextInvoiceDate: res.Definition.NextInvoiceDate,
					Status:          res.Definition.Status,
				})
				return nil
			}

			reason := ReasonFor(err)
			entry := domain.GenerationFailure{DefinitionID: def.ID, Reason: reason, Error: err.Error()}
			if reason == ReasonNotDue || reason == ReasonInProgress {
				result.Skipped = append(result.Skipped, entry)
				return nil
			}
			failures[reason]++
			result.Failed = append(result.Failed, entry)
			g.log.Error().Err(err).Str("definition_id", def.ID).Str("reason", reason).Msg("failed to generate recurring invoice")
			return nil
		})
	}
	_ = group.Wait()

	slices.SortFunc(result.Generated, func(a, b domain.GeneratedInvoice) int {
		return strings.Compare(a.DefinitionID, b.DefinitionID)
	})
	slices.SortFunc(result.Failed, func(a, b domain.GenerationFailure) int {
		return strings.Compare(a.DefinitionID, b.DefinitionID)
	})
	slices.SortFunc(result.Skipped, func(a, b domain.GenerationFailure) int {
		return strings.Compare(a.DefinitionID, b.DefinitionID)
	})

	g.metrics.ObserveTrigger(SourceFrom(ctx), started, len(due), len(result.Generated), failures)
	g.log.Info().
		Int("generated", len(result.Generated)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Dur("elapsed", time.Since(started)).
		Msg("recurring trigger finished")
	return result, nil
}

// ReasonFor maps a Generate error onto its reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return ReasonItemNotFound
	case errors.Is(err, ErrNotDue):
		return ReasonNotDue
	case errors.Is(err, ErrGenerationInProgress):
		return ReasonInProgress
	case errors.Is(err, schedule.ErrInvalidDefinition):
		return ReasonInvalidDefinition
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return ReasonConflict
	case errors.Is(err, store.ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonPersistence
	}
}

// InvoiceNumberPrefix marks generated invoice numbers.
const InvoiceNumberPrefix = "REC-"

// InvoiceNumber is REC-<last 8 id chars>-<seq>, unique per occurrence.
func InvoiceNumber(definitionID string, seq int) string {
	suffix := strings.ReplaceAll(definitionID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("%s%s-%04d", InvoiceNumberPrefix, strings.ToUpper(suffix), seq)
}

// SuffixedInvoiceNumber appends the last 6 characters of the invoice id to
// number. Used when the plain number is already taken.
func SuffixedInvoiceNumber(number, invoiceID string) string {
	suffix := invoiceID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return number + "-" + strings.ToUpper(suffix)
}
