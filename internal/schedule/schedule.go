// Package schedule holds the calendar rules for recurring invoices: when a
// definition is due and which date its next occurrence falls on.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"invoiceshelf/backend/internal/domain"
)

var (
	ErrInvalidDefinition = errors.New("invalid recurring invoice definition")
	ErrInvalidTransition = errors.New("invalid recurring invoice status transition")
)

const DefaultDueAfterDays = 30

// IsDue reports whether def should produce an invoice at now. Only the
// calendar date of now (in its own location) matters.
func IsDue(def domain.RecurringInvoice, now time.Time) bool {
	return IsDueOn(def, civil.DateOf(now))
}

func IsDueOn(def domain.RecurringInvoice, today civil.Date) bool {
	if def.Status != domain.RecurringActive {
		return false
	}
	if def.NextInvoiceDate.After(today) {
		return false
	}
	if def.EndDate != nil && def.NextInvoiceDate.After(*def.EndDate) {
		return false
	}
	return true
}

// Advance returns the occurrence that follows def.NextInvoiceDate.
func Advance(def domain.RecurringInvoice) (civil.Date, error) {
	current := def.NextInvoiceDate
	switch def.Frequency {
	case domain.FrequencyDaily:
		return current.AddDays(1), nil
	case domain.FrequencyWeekly:
		if def.DayOfWeek == nil || *def.DayOfWeek < 0 || *def.DayOfWeek > 6 {
			return civil.Date{}, fmt.Errorf("%w: weekly schedule needs dayOfWeek 0-6", ErrInvalidDefinition)
		}
		delta := (*def.DayOfWeek - int(weekday(current)) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return current.AddDays(delta), nil
	case domain.FrequencyMonthly:
		if def.DayOfMonth == nil || *def.DayOfMonth < 1 || *def.DayOfMonth > 31 {
			return civil.Date{}, fmt.Errorf("%w: monthly schedule needs dayOfMonth 1-31", ErrInvalidDefinition)
		}
		year, month := current.Year, current.Month+1
		if month > time.December {
			year, month = year+1, time.January
		}
		return clampDate(year, month, *def.DayOfMonth), nil
	case domain.FrequencyYearly:
		// Anchored on the start date so a Feb 29 schedule returns to Feb 29
		// in leap years after being clamped to Feb 28.
		anchor := def.StartDate
		if !anchor.IsValid() {
			anchor = current
		}
		next := clampDate(current.Year, anchor.Month, anchor.Day)
		if !next.After(current) {
			next = clampDate(current.Year+1, anchor.Month, anchor.Day)
		}
		return next, nil
	default:
		return civil.Date{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidDefinition, def.Frequency)
	}
}

// Completes reports whether moving the cursor to next ends the schedule.
func Completes(def domain.RecurringInvoice, next civil.Date) bool {
	return def.EndDate != nil && next.After(*def.EndDate)
}

// DueDate is the due date of an invoice generated at now.
func DueDate(now time.Time, dueAfterDays int) civil.Date {
	return civil.DateOf(now).AddDays(dueAfterDays)
}

// Validate checks the fields a definition must carry before it may enter the
// trigger loop.
func Validate(def domain.RecurringInvoice) error {
	if !def.Frequency.IsValid() {
		return fmt.Errorf("%w: frequency must be one of DAILY, WEEKLY, MONTHLY, YEARLY", ErrInvalidDefinition)
	}
	if !def.StartDate.IsValid() {
		return fmt.Errorf("%w: startDate is required", ErrInvalidDefinition)
	}
	switch def.Frequency {
	case domain.FrequencyMonthly:
		if def.DayOfMonth == nil {
			return fmt.Errorf("%w: dayOfMonth is required for MONTHLY", ErrInvalidDefinition)
		}
		if *def.DayOfMonth < 1 || *def.DayOfMonth > 31 {
			return fmt.Errorf("%w: dayOfMonth must be between 1 and 31", ErrInvalidDefinition)
		}
	case domain.FrequencyWeekly:
		if def.DayOfWeek == nil {
			return fmt.Errorf("%w: dayOfWeek is required for WEEKLY", ErrInvalidDefinition)
		}
		if *def.DayOfWeek < 0 || *def.DayOfWeek > 6 {
			return fmt.Errorf("%w: dayOfWeek must be between 0 and 6", ErrInvalidDefinition)
		}
	}
	if def.EndDate != nil {
		if !def.EndDate.IsValid() {
			return fmt.Errorf("%w: endDate is not a valid date", ErrInvalidDefinition)
		}
		if def.EndDate.Before(def.StartDate) {
			return fmt.Errorf("%w: endDate is before startDate", ErrInvalidDefinition)
		}
	}
	if def.DueAfterDays < 1 {
		return fmt.Errorf("%w: dueAfterDays must be positive", ErrInvalidDefinition)
	}
	if len(def.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidDefinition)
	}
	for _, line := range def.Items {
		if line.ItemID == "" {
			return fmt.Errorf("%w: itemId is required", ErrInvalidDefinition)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidDefinition)
		}
	}
	return nil
}

// CanTransition covers the user-driven edges of the status machine.
// COMPLETED is only ever entered by the generator.
func CanTransition(from, to domain.RecurringStatus) error {
	switch {
	case from == domain.RecurringCompleted:
		return fmt.Errorf("%w: completed schedules cannot change status", ErrInvalidTransition)
	case to != domain.RecurringActive && to != domain.RecurringPaused:
		return fmt.Errorf("%w: status must be ACTIVE or PAUSED", ErrInvalidTransition)
	}
	return nil
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDate(year int, month time.Month, day int) civil.Date {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}
