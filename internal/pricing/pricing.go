// Package pricing turns (itemId, quantity) pairs into priced invoice lines.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"invoiceshelf/backend/internal/domain"
)

var (
	ErrOverpaid     = errors.New("payments exceed the invoice total")
	ErrNegativePaid = errors.New("amount paid cannot be negative")
)

// Lines prices inputs against the current item catalogue. Missing item ids
// are returned in input order and no lines are produced in that case.
func Lines(inputs []domain.LineInput, items map[string]domain.Item) ([]domain.InvoiceLine, decimal.Decimal, []string) {
	var missing []string
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if _, ok := items[in.ItemID]; !ok && !seen[in.ItemID] {
			missing = append(missing, in.ItemID)
			seen[in.ItemID] = true
		}
	}
	if len(missing) > 0 {
		return nil, decimal.Zero, missing
	}

	lines := make([]domain.InvoiceLine, 0, len(inputs))
	subtotal := decimal.Zero
	for _, in := range inputs {
		item := items[in.ItemID]
		total := item.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
		lines = append(lines, domain.InvoiceLine{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  in.Quantity,
			UnitPrice: item.Price,
			Total:     total,
		})
		subtotal = subtotal.Add(total)
	}
	return lines, subtotal, nil
}

// ItemIDs returns the distinct item ids referenced by inputs.
func ItemIDs(inputs []domain.LineInput) []string {
	ids := make([]string, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.ItemID] {
			continue
		}
		seen[in.ItemID] = true
		ids = append(ids, in.ItemID)
	}
	return ids
}

// Settle records paid against the invoice total. A fully paid invoice
// becomes PAID and a PAID invoice with an outstanding balance falls back to
// UNPAID.
func Settle(invoice *domain.Invoice, paid decimal.Decimal) error {
	if paid.IsNegative() {
		return ErrNegativePaid
	}
	due := invoice.SubTotal.Sub(paid)
	if due.IsNegative() {
		return ErrOverpaid
	}
	invoice.AmountPaid = paid
	invoice.AmountDue = due
	switch {
	case due.IsZero() && paid.IsPositive():
		invoice.Status = domain.InvoicePaid
	case !due.IsZero() && invoice.Status == domain.InvoicePaid:
		invoice.Status = domain.InvoiceUnpaid
	}
	return nil
}
