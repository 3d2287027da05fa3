package domain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/common/money"
)

func TestComputeSplit(t *testing.T) {
	inv := testInvoice(t, ChargeTerms{})

	split, err := ComputeSplit(brl("2500.00"), decimal.NewFromInt(10), inv)
	require.NoError(t, err)
	assert.Equal(t, brl("250.00"), split.Fee)
	assert.Equal(t, brl("2250.00"), split.Net)

	withExtras := testInvoice(t, ChargeTerms{Condo: brl("400.00"), IPTU: brl("80.10"), Extras: brl("19.90")})
	split, err = ComputeSplit(brl("1999.99"), decimal.RequireFromString("8.5"), withExtras)
	require.NoError(t, err)
	// 1999.99 * 8.5% = 169.99915 -> 170.00
	assert.Equal(t, brl("170.00"), split.Fee)
	// 1999.99 - 170.00 + 400.00 + 80.10 + 19.90
	assert.Equal(t, brl("2329.99"), split.Net)

	_, err = ComputeSplit(brl("100"), decimal.NewFromInt(101), inv)
	assert.ErrorIs(t, err, ErrInvalidTerms)

	_, err = ComputeSplit(brl("100"), decimal.NewFromInt(-1), inv)
	assert.ErrorIs(t, err, ErrInvalidTerms)

	_, err = ComputeSplit(money.MustParse("100", money.USD), decimal.NewFromInt(10), inv)
	assert.ErrorIs(t, err, ErrInvalidTerms)
}

func TestComputeSplit_Property(t *testing.T) {
	inv := testInvoice(t, ChargeTerms{Condo: brl("12.34")})
	pcts := []string{"0", "5", "7.25", "10", "12.5", "33.33", "100"}
	for minor := int64(1); minor < 500000; minor += 7919 {
		for _, p := range pcts {
			pct := decimal.RequireFromString(p)
			gross := money.New(minor, money.BRL)
			split, err := ComputeSplit(gross, pct, inv)
			require.NoError(t, err)

			exact := gross.Decimal().Mul(pct).Div(decimal.NewFromInt(100))
			diff := split.Fee.Decimal().Sub(exact).Abs()
			assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.005")), "fee off by %s for %s at %s%%", diff, gross, p)
			assert.Equal(t, gross.AmountMinor-split.Fee.AmountMinor+1234, split.Net.AmountMinor)
		}
	}
}

func TestSettle(t *testing.T) {
	now := time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)
	credit := time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC)
	payment := Payment{
		ID:          "pay_123",
		Value:       brl("2500.00"),
		PaymentDate: time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC),
		CreditDate:  &credit,
		ReceiptURL:  "https://provider.example/receipt/1",
		Raw:         json.RawMessage(`{"id":"pay_123"}`),
	}
	terms := PayoutTerms{PayoutID: "po-1", OwnerName: "Maria Souza", FeePct: decimal.NewFromInt(10)}

	t.Run("pending invoice becomes paid with scheduled payout", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{DueDay: 15})
		s, err := Settle(inv, nil, payment, terms, now)
		require.NoError(t, err)
		assert.False(t, s.Duplicate)
		assert.Equal(t, InvoicePaid, inv.Status)
		assert.Equal(t, brl("2500.00"), *inv.PaidAmount)
		assert.Equal(t, payment.PaymentDate, *inv.PaidDate)
		assert.Equal(t, "pay_123", inv.PaymentReference)
		assert.Equal(t, brl("2500.00"), inv.Total, "total is fixed at creation")

		require.NotNil(t, s.Payout)
		assert.Equal(t, PayoutScheduled, s.Payout.Status)
		assert.Equal(t, brl("250.00"), s.Payout.Fee)
		assert.Equal(t, brl("2250.00"), s.Payout.Net)
		assert.Equal(t, credit, s.Payout.ExpectedTransferDate)
		assert.Equal(t, "Maria Souza", s.Payout.OwnerName)
		assert.Equal(t, inv.ID, s.Payout.InvoiceID)
	})

	t.Run("transfer date falls back to payment date", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		p := payment
		p.CreditDate = nil
		s, err := Settle(inv, nil, p, terms, now)
		require.NoError(t, err)
		assert.Equal(t, p.PaymentDate, s.Payout.ExpectedTransferDate)
	})

	t.Run("paid invoice with payout is a duplicate", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		first, err := Settle(inv, nil, payment, terms, now)
		require.NoError(t, err)

		again, err := Settle(inv, first.Payout, payment, PayoutTerms{PayoutID: "po-2", FeePct: decimal.NewFromInt(10)}, now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, "po-1", again.Payout.ID)
		assert.Equal(t, now, inv.UpdatedAt)
	})

	t.Run("paid invoice without payout still gets one", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		inv.Status = InvoicePaid
		s, err := Settle(inv, nil, payment, terms, now)
		require.NoError(t, err)
		assert.False(t, s.Duplicate)
		assert.NotNil(t, s.Payout)
	})

	t.Run("late invoice can be paid", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		inv.Status = InvoiceLate
		_, err := Settle(inv, nil, payment, terms, now)
		require.NoError(t, err)
		assert.Equal(t, InvoicePaid, inv.Status)
	})

	t.Run("cancelled invoice is rejected", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		inv.Status = InvoiceCancelled
		_, err := Settle(inv, nil, payment, terms, now)
		assert.ErrorIs(t, err, ErrInvoiceCancelled)
		assert.False(t, IsRetryable(err))
		assert.Nil(t, inv.PaidAmount)
	})

	t.Run("fee above 100% leaves invoice untouched", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		bad := terms
		bad.FeePct = decimal.NewFromInt(150)
		s, err := Settle(inv, nil, payment, bad, now)
		assert.ErrorIs(t, err, ErrInvalidTerms)
		assert.False(t, IsRetryable(err))
		assert.Nil(t, s)
		assert.Equal(t, InvoicePending, inv.Status)
		assert.Nil(t, inv.PaidAmount)
	})

	t.Run("payment without value or date is rejected", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		p := payment
		p.Value = money.Zero(money.BRL)
		_, err := Settle(inv, nil, p, terms, now)
		assert.ErrorIs(t, err, ErrInvalidPayment)

		p = payment
		p.PaymentDate = time.Time{}
		_, err = Settle(inv, nil, p, terms, now)
		assert.ErrorIs(t, err, ErrInvalidPayment)
		assert.False(t, IsRetryable(err))
	})

	t.Run("payout without paid invoice is inconsistent", func(t *testing.T) {
		inv := testInvoice(t, ChargeTerms{})
		_, err := Settle(inv, &Payout{ID: "po-x"}, payment, terms, now)
		assert.ErrorIs(t, err, ErrInconsistentState)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrInvoiceNotFound))
	assert.False(t, IsRetryable(fmt.Errorf("split: %w", ErrInvalidTerms)))
	assert.False(t, IsRetryable(ErrInvalidPayment))
	assert.True(t, IsRetryable(ErrUpstreamUnavailable))
	assert.True(t, IsRetryable(assert.AnError))
}
