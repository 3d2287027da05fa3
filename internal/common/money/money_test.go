package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimal_RoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"2500.00", 250000},
		{"0.005", 1},
		{"0.004", 0},
		{"10.125", 1013},
		{"-10.125", -1013},
		{"1234.5", 123450},
	}
	for _, tc := range cases {
		got := FromDecimal(decimal.RequireFromString(tc.in), BRL)
		assert.Equal(t, tc.want, got.AmountMinor, tc.in)
	}
}

func TestPercent(t *testing.T) {
	rent := MustParse("2500.00", BRL)
	assert.Equal(t, int64(25000), rent.Percent(decimal.NewFromInt(10)).AmountMinor)

	// 1333.33 * 8.5% = 113.33305
	odd := MustParse("1333.33", BRL)
	assert.Equal(t, int64(11333), odd.Percent(decimal.RequireFromString("8.5")).AmountMinor)

	// 0.05 * 10% = 0.005 rounds up to one centavo
	tiny := MustParse("0.05", BRL)
	assert.Equal(t, int64(1), tiny.Percent(decimal.NewFromInt(10)).AmountMinor)
}

func TestAddCurrencyMismatch(t *testing.T) {
	_, err := New(100, BRL).Add(New(100, USD))
	require.Error(t, err)

	sum, err := Sum(New(100, BRL), New(250, BRL), New(-50, BRL))
	require.NoError(t, err)
	assert.Equal(t, int64(300), sum.AmountMinor)
}

func TestDecimalAndString(t *testing.T) {
	m := New(225000, BRL)
	assert.True(t, m.Decimal().Equal(decimal.RequireFromString("2250")))
	assert.Equal(t, "R$2250.00", m.String())
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(New(123456, BRL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount_minor":123456,"amount":"1234.56","currency":"BRL"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, New(123456, BRL), back)
}
