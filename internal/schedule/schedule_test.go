package schedule_test

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceshelf/backend/internal/domain"
	"invoiceshelf/backend/internal/schedule"
)

func date(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return d
}

func intPtr(v int) *int { return &v }

func monthly(t *testing.T, day int, next string) domain.RecurringInvoice {
	return domain.RecurringInvoice{
		Frequency:       domain.FrequencyMonthly,
		Status:          domain.RecurringActive,
		StartDate:       date(t, next),
		NextInvoiceDate: date(t, next),
		DayOfMonth:      intPtr(day),
		DueAfterDays:    14,
		Items:           []domain.LineInput{{ItemID: "item-1", Quantity: 1}},
	}
}

func TestAdvance_MonthlyClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name string
		from string
		want string
	}{
		{"non-leap february", "2025-01-31", "2025-02-28"},
		{"leap february", "2024-01-31", "2024-02-29"},
		{"thirty day month", "2025-03-31", "2025-04-30"},
		{"december rolls year", "2025-12-31", "2026-01-31"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := schedule.Advance(monthly(t, 31, tc.from))
			require.NoError(t, err)
			assert.Equal(t, date(t, tc.want), next)
		})
	}
}

func TestAdvance_MonthlyRestoresDayAfterShortMonth(t *testing.T) {
	def := monthly(t, 31, "2025-02-28")
	next, err := schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-03-31"), next)
}

func TestAdvance_MonthlyFirstOfMonth(t *testing.T) {
	next, err := schedule.Advance(monthly(t, 1, "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-02-01"), next)
}

func TestAdvance_WeeklySameWeekdayAddsSevenDays(t *testing.T) {
	def := domain.RecurringInvoice{
		Frequency:       domain.FrequencyWeekly,
		NextInvoiceDate: date(t, "2025-03-03"), // Monday
		DayOfWeek:       intPtr(1),
	}
	next, err := schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-03-10"), next)
}

func TestAdvance_WeeklyMovesToNextMatchingWeekday(t *testing.T) {
	def := domain.RecurringInvoice{
		Frequency:       domain.FrequencyWeekly,
		NextInvoiceDate: date(t, "2025-03-03"), // Monday
		DayOfWeek:       intPtr(5),
	}
	next, err := schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-03-07"), next)

	def.DayOfWeek = intPtr(0)
	next, err = schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-03-09"), next)
}

func TestAdvance_DailyAndYearly(t *testing.T) {
	daily := domain.RecurringInvoice{Frequency: domain.FrequencyDaily, NextInvoiceDate: date(t, "2024-12-31")}
	next, err := schedule.Advance(daily)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-01-01"), next)

	yearly := domain.RecurringInvoice{Frequency: domain.FrequencyYearly, NextInvoiceDate: date(t, "2024-02-29")}
	next, err = schedule.Advance(yearly)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-02-28"), next)

	yearly.NextInvoiceDate = date(t, "2025-07-15")
	next, err = schedule.Advance(yearly)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2026-07-15"), next)
}

func TestAdvance_YearlyReturnsToLeapDay(t *testing.T) {
	def := domain.RecurringInvoice{
		Frequency:       domain.FrequencyYearly,
		StartDate:       date(t, "2024-02-29"),
		NextInvoiceDate: date(t, "2024-02-29"),
	}
	want := []string{"2025-02-28", "2026-02-28", "2027-02-28", "2028-02-29", "2029-02-28"}
	for _, expected := range want {
		next, err := schedule.Advance(def)
		require.NoError(t, err)
		assert.Equal(t, date(t, expected), next)
		def.NextInvoiceDate = next
	}
}

func TestAdvance_YearlyFollowsMovedStartDate(t *testing.T) {
	def := domain.RecurringInvoice{
		Frequency:       domain.FrequencyYearly,
		StartDate:       date(t, "2025-09-01"),
		NextInvoiceDate: date(t, "2026-03-01"),
	}
	next, err := schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2026-09-01"), next)
}

func TestAdvance_MissingConstraintIsInvalid(t *testing.T) {
	_, err := schedule.Advance(domain.RecurringInvoice{Frequency: domain.FrequencyMonthly, NextInvoiceDate: date(t, "2025-01-01")})
	assert.ErrorIs(t, err, schedule.ErrInvalidDefinition)

	_, err = schedule.Advance(domain.RecurringInvoice{Frequency: domain.FrequencyWeekly, NextInvoiceDate: date(t, "2025-01-01")})
	assert.ErrorIs(t, err, schedule.ErrInvalidDefinition)

	_, err = schedule.Advance(domain.RecurringInvoice{Frequency: "HOURLY", NextInvoiceDate: date(t, "2025-01-01")})
	assert.ErrorIs(t, err, schedule.ErrInvalidDefinition)
}

func TestIsDue(t *testing.T) {
	def := monthly(t, 1, "2025-01-01")

	assert.True(t, schedule.IsDue(def, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, schedule.IsDue(def, time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)), "time of day is ignored")
	assert.True(t, schedule.IsDue(def, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)), "overdue occurrences stay due")
	assert.False(t, schedule.IsDue(def, time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)))

	def.NextInvoiceDate = date(t, "2025-02-01")
	assert.False(t, schedule.IsDue(def, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)))
}

func TestIsDue_UsesLocationOfNow(t *testing.T) {
	def := monthly(t, 1, "2025-01-01")
	jakarta := time.FixedZone("WIB", 7*60*60)
	// 2024-12-31T18:00Z is already 2025-01-01 in Jakarta.
	now := time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)
	assert.False(t, schedule.IsDue(def, now))
	assert.True(t, schedule.IsDue(def, now.In(jakarta)))
}

func TestIsDue_StatusAndEndDate(t *testing.T) {
	today := date(t, "2025-06-01")

	paused := monthly(t, 1, "2025-06-01")
	paused.Status = domain.RecurringPaused
	assert.False(t, schedule.IsDueOn(paused, today))

	completed := monthly(t, 1, "2025-06-01")
	completed.Status = domain.RecurringCompleted
	assert.False(t, schedule.IsDueOn(completed, today))

	ended := monthly(t, 1, "2025-07-01")
	end := date(t, "2025-06-30")
	ended.EndDate = &end
	assert.False(t, schedule.IsDueOn(ended, date(t, "2025-07-01")))

	onEnd := monthly(t, 30, "2025-06-30")
	onEnd.EndDate = &end
	assert.True(t, schedule.IsDueOn(onEnd, end))
}

func TestCompletes(t *testing.T) {
	def := monthly(t, 1, "2025-06-01")
	end := date(t, "2025-06-30")
	def.EndDate = &end

	next, err := schedule.Advance(def)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2025-07-01"), next)
	assert.True(t, schedule.Completes(def, next))
	assert.False(t, schedule.Completes(def, end))

	def.EndDate = nil
	assert.False(t, schedule.Completes(def, next))
}

func TestDueDate(t *testing.T) {
	now := time.Date(2025, 1, 20, 16, 30, 0, 0, time.UTC)
	assert.Equal(t, date(t, "2025-02-19"), schedule.DueDate(now, 30))
}

func TestValidate(t *testing.T) {
	valid := monthly(t, 15, "2025-01-15")
	require.NoError(t, schedule.Validate(valid))

	cases := map[string]func(d *domain.RecurringInvoice){
		"unknown frequency":   func(d *domain.RecurringInvoice) { d.Frequency = "HOURLY" },
		"monthly without day": func(d *domain.RecurringInvoice) { d.DayOfMonth = nil },
		"monthly day too big": func(d *domain.RecurringInvoice) { d.DayOfMonth = intPtr(32) },
		"weekly without day":  func(d *domain.RecurringInvoice) { d.Frequency = domain.FrequencyWeekly },
		"weekly day too big":  func(d *domain.RecurringInvoice) { d.Frequency = domain.FrequencyWeekly; d.DayOfWeek = intPtr(7) },
		"zero due after days": func(d *domain.RecurringInvoice) { d.DueAfterDays = 0 },
		"no items":            func(d *domain.RecurringInvoice) { d.Items = nil },
		"zero quantity":       func(d *domain.RecurringInvoice) { d.Items = []domain.LineInput{{ItemID: "item-1"}} },
		"blank item id":       func(d *domain.RecurringInvoice) { d.Items = []domain.LineInput{{Quantity: 2}} },
		"missing start date":  func(d *domain.RecurringInvoice) { d.StartDate = civil.Date{} },
		"end before start":    func(d *domain.RecurringInvoice) { end := date(t, "2024-12-31"); d.EndDate = &end },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := valid
			def.Items = append([]domain.LineInput(nil), valid.Items...)
			mutate(&def)
			assert.ErrorIs(t, schedule.Validate(def), schedule.ErrInvalidDefinition)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.NoError(t, schedule.CanTransition(domain.RecurringActive, domain.RecurringPaused))
	assert.NoError(t, schedule.CanTransition(domain.RecurringPaused, domain.RecurringActive))
	assert.NoError(t, schedule.CanTransition(domain.RecurringActive, domain.RecurringActive))

	assert.ErrorIs(t, schedule.CanTransition(domain.RecurringActive, domain.RecurringCompleted), schedule.ErrInvalidTransition)
	assert.ErrorIs(t, schedule.CanTransition(domain.RecurringCompleted, domain.RecurringActive), schedule.ErrInvalidTransition)
	assert.ErrorIs(t, schedule.CanTransition(domain.RecurringPaused, "ARCHIVED"), schedule.ErrInvalidTransition)
}
