package domain

import (
	"fmt"
	"time"
)

// DefaultDueDay is used for leases that do not carry a due day.
const DefaultDueDay = 10

// Period is a billing month, rendered as "MM/YYYY".
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the billing period containing t, in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "MM/YYYY".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("01/2006", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid billing period %q: want MM/YYYY", s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// String renders the period as "MM/YYYY".
func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", int(p.Month), p.Year)
}

// LastDay returns the number of days in the period's month.
func (p Period) LastDay() int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueDate returns the due date for dueDay within the period, at midnight in
// loc. A dueDay of 0 means DefaultDueDay. Days past the end of the month are
// clamped to its last day (31 in a 30-day month is the 30th, 30 in a
// non-leap February is the 28th) instead of rolling into the next month.
func (p Period) DueDate(dueDay int, loc *time.Location) time.Time {
	if dueDay <= 0 {
		dueDay = DefaultDueDay
	}
	if last := p.LastDay(); dueDay > last {
		dueDay = last
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, dueDay, 0, 0, 0, 0, loc)
}

// DateOnly truncates t to midnight of its calendar day in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
