package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/pricing"
	"invoiceshelf/backend/internal/schedule"
	"invoiceshelf/backend/internal/store"
)

func (s *Service) ListRecurringInvoices(ctx context.Context, status domain.RecurringStatus) ([]domain.RecurringInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	status = domain.RecurringStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	switch status {
	case "", domain.RecurringActive, domain.RecurringPaused, domain.RecurringCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, status)
	}
	return s.repo.ListRecurringInvoices(ctx, status)
}

func (s *Service) GetRecurringInvoice(ctx context.Context, id string) (domain.RecurringInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.RecurringInvoice{}, err
	}
	def, err := s.repo.GetRecurringInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	return *def, nil
}

// CreateRecurringInvoice starts the schedule at startDate: the first
// occurrence is generated on the start date itself.
func (s *Service) CreateRecurringInvoice(ctx context.Context, req domain.RecurringInvoiceCreateRequest) (domain.RecurringInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.RecurringInvoice{}, err
	}

	def := domain.RecurringInvoice{
		Name:            strings.TrimSpace(req.Name),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Frequency:       domain.Frequency(strings.ToUpper(strings.TrimSpace(string(req.Frequency)))),
		Status:          domain.RecurringActive,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		NextInvoiceDate: req.StartDate,
		DayOfMonth:      req.DayOfMonth,
		DayOfWeek:       req.DayOfWeek,
		DueAfterDays:    schedule.DefaultDueAfterDays,
		Notes:           strings.TrimSpace(req.Notes),
		Items:           req.Items,
	}
	if req.DueAfterDays != nil {
		def.DueAfterDays = *req.DueAfterDays
	}
	if err := s.validateRecurring(ctx, def); err != nil {
		return domain.RecurringInvoice{}, err
	}

	created, err := s.repo.CreateRecurringInvoice(ctx, def)
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	s.logAudit(ctx, "recurring_create", "recurring_invoice", created.ID,
		fmt.Sprintf("name=%s,frequency=%s,start=%s", created.Name, created.Frequency, created.StartDate))
	return *created, nil
}

func (s *Service) UpdateRecurringInvoice(ctx context.Context, id string, req domain.RecurringInvoiceUpdateRequest) (domain.RecurringInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.RecurringInvoice{}, err
	}

	existing, err := s.repo.GetRecurringInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	if existing.Status == domain.RecurringCompleted {
		return domain.RecurringInvoice{}, fmt.Errorf("%w: completed schedules cannot be edited", schedule.ErrInvalidTransition)
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.CustomerID != nil {
		updated.CustomerID = strings.TrimSpace(*req.CustomerID)
	}
	if req.Frequency != nil {
		updated.Frequency = domain.Frequency(strings.ToUpper(strings.TrimSpace(string(*req.Frequency))))
	}
	if req.StartDate != nil && *req.StartDate != existing.StartDate {
		updated.StartDate = *req.StartDate
		if existing.GeneratedCount == 0 || updated.NextInvoiceDate.Before(updated.StartDate) {
			updated.NextInvoiceDate = updated.StartDate
		}
	}
	if req.ClearEndDate {
		updated.EndDate = nil
	} else if req.EndDate != nil {
		end := *req.EndDate
		updated.EndDate = &end
	}
	if req.DayOfMonth != nil {
		day := *req.DayOfMonth
		updated.DayOfMonth = &day
	}
	if req.DayOfWeek != nil {
		day := *req.DayOfWeek
		updated.DayOfWeek = &day
	}
	if req.DueAfterDays != nil {
		updated.DueAfterDays = *req.DueAfterDays
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Items != nil {
		updated.Items = *req.Items
	}
	if err := s.validateRecurring(ctx, updated); err != nil {
		return domain.RecurringInvoice{}, err
	}
	// A new end date before the cursor ends the schedule right away.
	if schedule.Completes(updated, updated.NextInvoiceDate) {
		updated.Status = domain.RecurringCompleted
	}

	saved, err := s.repo.UpdateRecurringInvoice(ctx, updated, existing.Version)
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	s.logAudit(ctx, "recurring_update", "recurring_invoice", saved.ID,
		fmt.Sprintf("frequency=%s,next=%s,status=%s", saved.Frequency, saved.NextInvoiceDate, saved.Status))
	return *saved, nil
}

// SetRecurringStatus pauses or resumes a schedule. Resuming keeps the stored
// nextInvoiceDate, so missed occurrences are caught up by later trigger runs.
func (s *Service) SetRecurringStatus(ctx context.Context, id string, req domain.RecurringStatusRequest) (domain.RecurringInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.RecurringInvoice{}, err
	}

	existing, err := s.repo.GetRecurringInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	target := domain.RecurringStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if err := schedule.CanTransition(existing.Status, target); err != nil {
		return domain.RecurringInvoice{}, err
	}
	if existing.Status == target {
		return *existing, nil
	}

	updated := *existing
	updated.Status = target
	saved, err := s.repo.UpdateRecurringInvoice(ctx, updated, existing.Version)
	if err != nil {
		return domain.RecurringInvoice{}, err
	}
	s.logAudit(ctx, "recurring_status", "recurring_invoice", saved.ID,
		fmt.Sprintf("from=%s,to=%s", existing.Status, saved.Status))
	return *saved, nil
}

// DeleteRecurringInvoice removes the template only; invoices it produced stay.
func (s *Service) DeleteRecurringInvoice(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteRecurringInvoice(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "recurring_delete", "recurring_invoice", id, "")
	return nil
}

// TriggerRecurring runs one trigger pass. It is shared by the cron job, the
// manual endpoint and the CLI, so the actor is optional.
func (s *Service) TriggerRecurring(ctx context.Context, now time.Time) (domain.TriggerResult, error) {
	result, err := s.generator.RunTrigger(ctx, now)
	if err != nil {
		return result, err
	}
	for _, generated := range result.Generated {
		s.logAudit(ctx, "recurring_generate", "invoice", generated.InvoiceID,
			fmt.Sprintf("definition=%s,number=%s,next=%s,status=%s",
				generated.DefinitionID, generated.InvoiceNumber, generated.NextInvoiceDate, generated.Status))
	}
	return result, nil
}

func (s *Service) validateRecurring(ctx context.Context, def domain.RecurringInvoice) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", schedule.ErrInvalidDefinition)
	}
	if err := schedule.Validate(def); err != nil {
		return err
	}
	if err := s.ensureCustomer(ctx, def.CustomerID); err != nil {
		return err
	}
	items, err := s.repo.GetItemsByIDs(ctx, pricing.ItemIDs(def.Items))
	if err != nil {
		return err
	}
	if _, _, missing := pricing.Lines(def.Items, items); len(missing) > 0 {
		return fmt.Errorf("%w: unknown items %s", store.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
