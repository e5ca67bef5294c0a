package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/pricing"
	"invoiceshelf/backend/internal/recurring"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/xid"
)

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	filter.RecurringInvoiceID = strings.TrimSpace(filter.RecurringInvoiceID)
	return s.repo.ListInvoices(ctx, filter)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Invoice{}, err
	}

	id := xid.New("inv")
	number := strings.TrimSpace(req.Number)
	if number == "" {
		number = "INV-" + strings.ToUpper(id[len(id)-8:])
	}
	if err := validateManualNumber(number); err != nil {
		return domain.Invoice{}, err
	}
	if !req.DueDate.IsValid() {
		return domain.Invoice{}, fmt.Errorf("%w: dueDate is required", store.ErrInvalidInput)
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return domain.Invoice{}, err
	}
	lines, subtotal, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return domain.Invoice{}, err
	}

	created, err := s.repo.CreateInvoice(ctx, domain.Invoice{
		ID:         id,
		Number:     number,
		Status:     domain.InvoiceDraft,
		SubTotal:   subtotal,
		AmountDue:  subtotal,
		AmountPaid: decimal.Zero,
		DueDate:    req.DueDate,
		Notes:      strings.TrimSpace(req.Notes),
		CustomerID: customerID,
		Items:      lines,
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	s.logAudit(ctx, "invoice_create", "invoice", created.ID, fmt.Sprintf("number=%s,total=%s", created.Number, created.SubTotal))
	return *created, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, id string, req domain.InvoiceUpdateRequest) (domain.Invoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Invoice{}, err
	}

	existing, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	updated := *existing
	if req.Number != nil {
		number := strings.TrimSpace(*req.Number)
		if number == "" {
			return domain.Invoice{}, fmt.Errorf("%w: number is required", store.ErrInvalidInput)
		}
		if number != existing.Number {
			if err := validateManualNumber(number); err != nil {
				return domain.Invoice{}, err
			}
		}
		updated.Number = number
	}
	if req.CustomerID != nil {
		customerID := strings.TrimSpace(*req.CustomerID)
		if err := s.ensureCustomer(ctx, customerID); err != nil {
			return domain.Invoice{}, err
		}
		updated.CustomerID = customerID
	}
	if req.DueDate != nil {
		if !req.DueDate.IsValid() {
			return domain.Invoice{}, fmt.Errorf("%w: dueDate is invalid", store.ErrInvalidInput)
		}
		updated.DueDate = *req.DueDate
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Items != nil {
		lines, subtotal, err := s.priceLines(ctx, *req.Items)
		if err != nil {
			return domain.Invoice{}, err
		}
		updated.Items = lines
		updated.SubTotal = subtotal
		if err := pricing.Settle(&updated, updated.AmountPaid); err != nil {
			return domain.Invoice{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
		}
	}
	if req.Status != nil {
		if err := applyInvoiceStatus(&updated, *req.Status); err != nil {
			return domain.Invoice{}, err
		}
	}

	saved, err := s.repo.UpdateInvoice(ctx, updated)
	if err != nil {
		return domain.Invoice{}, err
	}
	s.logAudit(ctx, "invoice_update", "invoice", saved.ID, fmt.Sprintf("number=%s,status=%s", saved.Number, saved.Status))
	return *saved, nil
}

func (s *Service) SetInvoiceStatus(ctx context.Context, id string, req domain.InvoiceStatusRequest) (domain.Invoice, error) {
	status := req.Status
	return s.UpdateInvoice(ctx, id, domain.InvoiceUpdateRequest{Status: &status})
}

func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "invoice_delete", "invoice", id, "")
	return nil
}

// ListPortalInvoices returns the invoices of the calling portal customer.
func (s *Service) ListPortalInvoices(ctx context.Context) ([]domain.Invoice, error) {
	actor, err := requireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return nil, err
	}
	if actor.CustomerID == "" {
		return nil, fmt.Errorf("%w: account is not linked to a customer", ErrForbidden)
	}
	return s.repo.ListInvoices(ctx, domain.InvoiceFilter{CustomerID: actor.CustomerID})
}

// GetPortalInvoice hides invoices of other customers behind ErrNotFound.
func (s *Service) GetPortalInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	actor, err := requireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	if actor.CustomerID == "" || invoice.CustomerID != actor.CustomerID {
		return domain.Invoice{}, store.ErrNotFound
	}
	return *invoice, nil
}

func (s *Service) ensureCustomer(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: customerId is required", store.ErrInvalidInput)
	}
	if _, err := s.repo.GetCustomer(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: customer %s does not exist", store.ErrInvalidInput, id)
		}
		return err
	}
	return nil
}

func (s *Service) priceLines(ctx context.Context, inputs []domain.LineInput) ([]domain.InvoiceLine, decimal.Decimal, error) {
	if err := validateLines(inputs); err != nil {
		return nil, decimal.Zero, err
	}
	items, err := s.repo.GetItemsByIDs(ctx, pricing.ItemIDs(inputs))
	if err != nil {
		return nil, decimal.Zero, err
	}
	lines, subtotal, missing := pricing.Lines(inputs, items)
	if len(missing) > 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: unknown items %s", store.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return lines, subtotal, nil
}

// validateManualNumber keeps the REC- prefix for generated invoices.
func validateManualNumber(number string) error {
	if strings.HasPrefix(strings.ToUpper(number), recurring.InvoiceNumberPrefix) {
		return fmt.Errorf("%w: invoice numbers starting with %s are reserved for recurring invoices", store.ErrInvalidInput, recurring.InvoiceNumberPrefix)
	}
	return nil
}

func validateLines(inputs []domain.LineInput) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: at least one item is required", store.ErrInvalidInput)
	}
	for _, in := range inputs {
		if strings.TrimSpace(in.ItemID) == "" || in.Quantity < 1 {
			return fmt.Errorf("%w: each item needs an itemId and a quantity of at least 1", store.ErrInvalidInput)
		}
	}
	return nil
}

func applyInvoiceStatus(invoice *domain.Invoice, status domain.InvoiceStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown invoice status %q", store.ErrInvalidInput, status)
	}
	if status == domain.InvoicePaid {
		if err := pricing.Settle(invoice, invoice.SubTotal); err != nil {
			return err
		}
	}
	invoice.Status = status
	return nil
}
