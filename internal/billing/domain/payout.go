package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rentbilling/internal/common/money"
)

// DefaultAdminFeePct is the commission retained when a lease has none.
var DefaultAdminFeePct = decimal.NewFromInt(10)

// PayoutStatus represents the status of an owner payout
type PayoutStatus string

const (
	PayoutScheduled PayoutStatus = "SCHEDULED"
	PayoutSent      PayoutStatus = "SENT"
	PayoutConfirmed PayoutStatus = "CONFIRMED"
	PayoutError     PayoutStatus = "ERROR"
)

// Payout is the transfer owed to the property owner for a paid invoice.
type Payout struct {
	ID                   string          `json:"id"`
	InvoiceID            string          `json:"invoice_id"`
	LeaseID              string          `json:"lease_id"`
	OwnerName            string          `json:"owner_name"`
	Period               string          `json:"period"`
	ExpectedTransferDate time.Time       `json:"expected_transfer_date"`
	Gross                money.Money     `json:"gross"`
	FeePct               decimal.Decimal `json:"fee_pct"`
	Fee                  money.Money     `json:"fee"`
	Net                  money.Money     `json:"net"`
	Status               PayoutStatus    `json:"status"`
	TransferredAt        *time.Time      `json:"transferred_at,omitempty"`
	TransferReference    string          `json:"transfer_reference,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Split is the commission split of a received payment.
type Split struct {
	Gross  money.Money
	FeePct decimal.Decimal
	Fee    money.Money
	Net    money.Money
}

// ComputeSplit derives the admin fee and owner net for a payment of gross
// against inv:
//
//	fee = round(gross * feePct / 100, 2)
//	net = gross - fee + condo + iptu + extras
//
// Rounding happens once, on the fee; every other step is exact integer
// arithmetic in minor units.
func ComputeSplit(gross money.Money, feePct decimal.Decimal, inv *Invoice) (Split, error) {
	if feePct.IsNegative() || feePct.GreaterThan(decimal.NewFromInt(100)) {
		return Split{}, fmt.Errorf("%w: admin fee %s%% out of range", ErrInvalidTerms, feePct.String())
	}

	fee := gross.Percent(feePct)
	reimbursables, err := inv.Reimbursables()
	if err != nil {
		return Split{}, err
	}
	share, err := gross.Sub(fee)
	if err != nil {
		return Split{}, err
	}
	net, err := share.Add(reimbursables)
	if err != nil {
		return Split{}, fmt.Errorf("%w: payment and invoice currencies differ: %v", ErrInvalidTerms, err)
	}

	return Split{Gross: gross, FeePct: feePct, Fee: fee, Net: net}, nil
}

// Payment is a provider-confirmed payment, normalized from a webhook event.
type Payment struct {
	ID                string
	Value             money.Money
	NetValue          money.Money
	PaymentDate       time.Time
	CreditDate        *time.Time
	ReceiptURL        string
	ExternalReference string
	Raw               json.RawMessage
}

// PayoutTerms carries what the payout needs beyond the invoice itself.
type PayoutTerms struct {
	PayoutID  string
	OwnerName string
	FeePct    decimal.Decimal
}

// Settlement is the result of applying a payment to an invoice.
type Settlement struct {
	Invoice   *Invoice
	Payout    *Payout
	Duplicate bool
}

// Settle is the reconciliation state transition. Given the invoice and its
// payout (nil when none exists) it either recognizes a duplicate delivery
// or moves the invoice PENDING/LATE -> PAID and creates a SCHEDULED payout.
// inv is updated in place; the caller persists both records atomically.
// Rent, condo, IPTU, extras, discount and total are never touched.
func Settle(inv *Invoice, existing *Payout, p Payment, terms PayoutTerms, now time.Time) (*Settlement, error) {
	if existing != nil {
		if inv.Status == InvoicePaid {
			return &Settlement{Invoice: inv, Payout: existing, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("%w: invoice %s is %s but has payout %s", ErrInconsistentState, inv.ID, inv.Status, existing.ID)
	}

	switch inv.Status {
	case InvoiceCancelled:
		return nil, fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.ID)
	case InvoicePending, InvoiceLate, InvoicePaid:
		// PAID without a payout was marked paid outside reconciliation; the
		// payout is still owed.
	default:
		return nil, fmt.Errorf("%w: invoice %s has unknown status %q", ErrInconsistentState, inv.ID, inv.Status)
	}

	if !p.Value.IsPositive() {
		return nil, fmt.Errorf("%w: value must be positive", ErrInvalidPayment)
	}
	if p.PaymentDate.IsZero() {
		return nil, fmt.Errorf("%w: payment date is required", ErrInvalidPayment)
	}

	split, err := ComputeSplit(p.Value, terms.FeePct, inv)
	if err != nil {
		return nil, err
	}

	paid := p.Value
	paidDate := DateOnly(p.PaymentDate)
	inv.Status = InvoicePaid
	inv.PaidAmount = &paid
	inv.PaidDate = &paidDate
	inv.PaymentReference = p.ID
	inv.ReceiptURL = p.ReceiptURL
	inv.PaymentPayload = p.Raw
	inv.UpdatedAt = now

	transferDate := paidDate
	if p.CreditDate != nil && !p.CreditDate.IsZero() {
		transferDate = DateOnly(*p.CreditDate)
	}

	payout := &Payout{
		ID:                   terms.PayoutID,
		InvoiceID:            inv.ID,
		LeaseID:              inv.LeaseID,
		OwnerName:            terms.OwnerName,
		Period:               inv.Period,
		ExpectedTransferDate: transferDate,
		Gross:                split.Gross,
		FeePct:               split.FeePct,
		Fee:                  split.Fee,
		Net:                  split.Net,
		Status:               PayoutScheduled,
		CreatedAt:            now,
	}

	return &Settlement{Invoice: inv, Payout: payout}, nil
}
