package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/store"
)

func (s *Service) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	filter.InvoiceID = strings.TrimSpace(filter.InvoiceID)
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	return s.repo.ListPayments(ctx, filter)
}

// ListInvoicePayments returns ErrNotFound for an unknown invoice instead of
// an empty list.
func (s *Service) ListInvoicePayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return nil, err
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, domain.PaymentFilter{InvoiceID: invoiceID})
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Payment{}, err
	}
	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	return *payment, nil
}

// PaymentSummary totals every recorded payment, overall and per method.
func (s *Service) PaymentSummary(ctx context.Context) (domain.PaymentSummary, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.PaymentSummary{}, err
	}
	payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{})
	if err != nil {
		return domain.PaymentSummary{}, err
	}

	summary := domain.PaymentSummary{
		TotalReceived: decimal.Zero,
		PaymentCount:  len(payments),
		ByMethod:      make(map[string]decimal.Decimal),
	}
	for _, payment := range payments {
		summary.TotalReceived = summary.TotalReceived.Add(payment.Amount)
		method := string(payment.PaymentMethod)
		summary.ByMethod[method] = summary.ByMethod[method].Add(payment.Amount)
	}
	return summary, nil
}

// CreatePayment records money received against an invoice. The payment date
// defaults to today; the amount may not exceed what is still due.
func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentCreateRequest) (domain.PaymentReceipt, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.PaymentReceipt{}, err
	}

	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return domain.PaymentReceipt{}, fmt.Errorf("%w: invoiceId is required", store.ErrInvalidInput)
	}
	invoice, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PaymentReceipt{}, fmt.Errorf("%w: invoice %s does not exist", store.ErrInvalidInput, invoiceID)
		}
		return domain.PaymentReceipt{}, err
	}

	payment := domain.Payment{
		InvoiceID:     invoiceID,
		Amount:        req.Amount,
		PaymentMethod: normalizeMethod(req.PaymentMethod),
		PaymentDate:   s.generator.Today(time.Now()),
		Reference:     strings.TrimSpace(req.Reference),
		Notes:         strings.TrimSpace(req.Notes),
	}
	if req.PaymentDate != nil {
		payment.PaymentDate = *req.PaymentDate
	}
	if err := validatePayment(payment, invoice.AmountDue); err != nil {
		return domain.PaymentReceipt{}, err
	}

	created, settled, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	s.logAudit(ctx, "payment_create", "payment", created.ID,
		fmt.Sprintf("invoice=%s,amount=%s,method=%s,status=%s", settled.ID, created.Amount, created.PaymentMethod, settled.Status))
	return domain.PaymentReceipt{Payment: *created, Invoice: *settled}, nil
}

func (s *Service) UpdatePayment(ctx context.Context, id string, req domain.PaymentUpdateRequest) (domain.PaymentReceipt, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.PaymentReceipt{}, err
	}

	existing, err := s.repo.GetPayment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, existing.InvoiceID)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}

	updated := *existing
	if req.Amount != nil {
		updated.Amount = *req.Amount
	}
	if req.PaymentMethod != nil {
		updated.PaymentMethod = normalizeMethod(*req.PaymentMethod)
	}
	if req.PaymentDate != nil {
		updated.PaymentDate = *req.PaymentDate
	}
	if req.Reference != nil {
		updated.Reference = strings.TrimSpace(*req.Reference)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	// The payment's own amount is already counted in amountPaid.
	if err := validatePayment(updated, invoice.AmountDue.Add(existing.Amount)); err != nil {
		return domain.PaymentReceipt{}, err
	}

	saved, settled, err := s.repo.UpdatePayment(ctx, updated)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	s.logAudit(ctx, "payment_update", "payment", saved.ID,
		fmt.Sprintf("invoice=%s,amount=%s,method=%s,status=%s", settled.ID, saved.Amount, saved.PaymentMethod, settled.Status))
	return domain.PaymentReceipt{Payment: *saved, Invoice: *settled}, nil
}

// DeletePayment removes a payment and returns its invoice with the amount
// added back to what is due.
func (s *Service) DeletePayment(ctx context.Context, id string) (domain.Invoice, error) {
	if _, err := requireRole(ctx, domain.RoleUser); err != nil {
		return domain.Invoice{}, err
	}
	id = strings.TrimSpace(id)
	settled, err := s.repo.DeletePayment(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	s.logAudit(ctx, "payment_delete", "payment", id, fmt.Sprintf("invoice=%s,status=%s", settled.ID, settled.Status))
	return *settled, nil
}

// ListPortalPayments returns the payments made on the calling customer's invoices.
func (s *Service) ListPortalPayments(ctx context.Context) ([]domain.Payment, error) {
	actor, err := requireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return nil, err
	}
	if actor.CustomerID == "" {
		return nil, fmt.Errorf("%w: account is not linked to a customer", ErrForbidden)
	}
	return s.repo.ListPayments(ctx, domain.PaymentFilter{CustomerID: actor.CustomerID})
}

func normalizeMethod(method domain.PaymentMethod) domain.PaymentMethod {
	return domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
}

func validatePayment(payment domain.Payment, due decimal.Decimal) error {
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", store.ErrInvalidInput)
	}
	if !payment.Amount.Equal(payment.Amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than two decimal places", store.ErrInvalidInput)
	}
	if payment.Amount.GreaterThan(due) {
		return fmt.Errorf("%w: amount %s exceeds the %s still due", store.ErrInvalidInput, payment.Amount, due)
	}
	if !payment.PaymentMethod.IsValid() {
		return fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidInput, payment.PaymentMethod)
	}
	if !payment.PaymentDate.IsValid() {
		return fmt.Errorf("%w: paymentDate is invalid", store.ErrInvalidInput)
	}
	return nil
}
