package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodString(t *testing.T) {
	p := PeriodOf(time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "03/2026", p.String())

	parsed, err := ParsePeriod("12/2025")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2025, Month: time.December}, parsed)

	for _, bad := range []string{"", "2025-12", "13/2025", "1/2025x"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestDueDate_ClampsToLastDayOfMonth(t *testing.T) {
	cases := []struct {
		name   string
		period Period
		dueDay int
		want   int
	}{
		{"day 31 in 30-day month", Period{2026, time.April}, 31, 30},
		{"day 31 in 31-day month", Period{2026, time.January}, 31, 31},
		{"day 30 in non-leap february", Period{2026, time.February}, 30, 28},
		{"day 29 in leap february", Period{2028, time.February}, 29, 29},
		{"day 31 in december", Period{2026, time.December}, 31, 31},
		{"unset defaults to 10", Period{2026, time.June}, 0, 10},
		{"regular day", Period{2026, time.June}, 15, 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due := tc.period.DueDate(tc.dueDay, time.UTC)
			assert.Equal(t, tc.period.Month, due.Month(), "must not roll into the next month")
			assert.Equal(t, tc.period.Year, due.Year())
			assert.Equal(t, tc.want, due.Day())
		})
	}
}

func TestDueDate_UsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	due := Period{2026, time.May}.DueDate(5, loc)
	assert.Equal(t, loc, due.Location())
	assert.Equal(t, 0, due.Hour())
}
