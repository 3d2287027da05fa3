package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/common/money"
)

func brl(s string) money.Money { return money.MustParse(s, money.BRL) }

func testInvoice(t *testing.T, terms ChargeTerms) *Invoice {
	t.Helper()
	if terms.LeaseID == "" {
		terms.LeaseID = "lease-1"
	}
	if terms.Rent.IsZero() {
		terms.Rent = brl("2500.00")
	}
	inv, err := NewInvoice("inv-1", terms, time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return inv
}

func TestNewInvoice(t *testing.T) {
	asOf := time.Date(2026, time.October, 12, 14, 30, 0, 0, time.UTC)

	t.Run("pending when due date is ahead", func(t *testing.T) {
		inv, err := NewInvoice("inv-1", ChargeTerms{LeaseID: "l1", DueDay: 15, Rent: brl("2500.00")}, asOf)
		require.NoError(t, err)
		assert.Equal(t, InvoicePending, inv.Status)
		assert.Equal(t, "10/2026", inv.Period)
		assert.Equal(t, time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC), inv.DueDate)
		assert.Equal(t, brl("2500.00"), inv.Total)
		assert.Equal(t, money.Zero(money.BRL), inv.Condo)
		assert.Equal(t, asOf, inv.GeneratedAt)
	})

	t.Run("pending on the due date itself", func(t *testing.T) {
		inv, err := NewInvoice("inv-1", ChargeTerms{LeaseID: "l1", DueDay: 12, Rent: brl("100")}, asOf)
		require.NoError(t, err)
		assert.Equal(t, InvoicePending, inv.Status)
	})

	t.Run("late when due date has passed", func(t *testing.T) {
		inv, err := NewInvoice("inv-1", ChargeTerms{LeaseID: "l1", DueDay: 5, Rent: brl("100")}, asOf)
		require.NoError(t, err)
		assert.Equal(t, InvoiceLate, inv.Status)
	})

	t.Run("default due day is 10", func(t *testing.T) {
		inv, err := NewInvoice("inv-1", ChargeTerms{LeaseID: "l1", Rent: brl("100")}, asOf)
		require.NoError(t, err)
		assert.Equal(t, 10, inv.DueDate.Day())
		assert.Equal(t, InvoiceLate, inv.Status)
	})

	t.Run("total includes lease charges", func(t *testing.T) {
		inv, err := NewInvoice("inv-1", ChargeTerms{
			LeaseID:  "l1",
			DueDay:   20,
			Rent:     brl("2000.00"),
			Condo:    brl("450.50"),
			IPTU:     brl("120.25"),
			Extras:   brl("30.00"),
			Discount: brl("100.00"),
		}, asOf)
		require.NoError(t, err)
		assert.Equal(t, brl("2500.75"), inv.Total)
	})

	t.Run("rejects missing rent", func(t *testing.T) {
		_, err := NewInvoice("inv-1", ChargeTerms{LeaseID: "l1"}, asOf)
		assert.Error(t, err)
	})
}
