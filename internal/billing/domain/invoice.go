package domain

import (
	"encoding/json"
	"errors"
	"time"

	"rentbilling/internal/common/money"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceLate      InvoiceStatus = "LATE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is one billing-period charge derived from a lease.
type Invoice struct {
	ID               string          `json:"id"`
	LeaseID          string          `json:"lease_id"`
	TenantID         string          `json:"tenant_id"`
	PropertyID       string          `json:"property_id"`
	Period           string          `json:"period"`
	DueDate          time.Time       `json:"due_date"`
	Rent             money.Money     `json:"rent"`
	Condo            money.Money     `json:"condo"`
	IPTU             money.Money     `json:"iptu"`
	Extras           money.Money     `json:"extras"`
	Discount         money.Money     `json:"discount"`
	Total            money.Money     `json:"total"`
	Status           InvoiceStatus   `json:"status"`
	PaidAmount       *money.Money    `json:"paid_amount,omitempty"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	ReceiptURL       string          `json:"receipt_url,omitempty"`
	PaymentPayload   json.RawMessage `json:"payment_payload,omitempty"`
	GeneratedAt      time.Time       `json:"generated_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ChargeTerms are the lease terms an invoice is generated from.
type ChargeTerms struct {
	LeaseID    string
	TenantID   string
	PropertyID string
	DueDay     int
	Rent       money.Money
	Condo      money.Money
	IPTU       money.Money
	Extras     money.Money
	Discount   money.Money
}

// NewInvoice builds the invoice for terms in the period containing asOf.
// Dates are evaluated in asOf's location. The invoice starts LATE when its
// due date is a calendar day before asOf, PENDING otherwise.
func NewInvoice(id string, terms ChargeTerms, asOf time.Time) (*Invoice, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if terms.LeaseID == "" {
		return nil, errors.New("lease_id is required")
	}
	if !terms.Rent.IsPositive() {
		return nil, errors.New("rent must be positive")
	}

	currency := terms.Rent.Currency
	zero := money.Zero(currency)
	condo, iptu, extras, discount := orZero(terms.Condo, zero), orZero(terms.IPTU, zero), orZero(terms.Extras, zero), orZero(terms.Discount, zero)

	charges, err := money.Sum(terms.Rent, condo, iptu, extras)
	if err != nil {
		return nil, err
	}
	total, err := charges.Sub(discount)
	if err != nil {
		return nil, err
	}
	if total.IsNegative() {
		return nil, errors.New("discount exceeds charges")
	}

	period := PeriodOf(asOf)
	due := period.DueDate(terms.DueDay, asOf.Location())

	status := InvoicePending
	if due.Before(DateOnly(asOf)) {
		status = InvoiceLate
	}

	return &Invoice{
		ID:          id,
		LeaseID:     terms.LeaseID,
		TenantID:    terms.TenantID,
		PropertyID:  terms.PropertyID,
		Period:      period.String(),
		DueDate:     due,
		Rent:        terms.Rent,
		Condo:       condo,
		IPTU:        iptu,
		Extras:      extras,
		Discount:    discount,
		Total:       total,
		Status:      status,
		GeneratedAt: asOf,
		UpdatedAt:   asOf,
	}, nil
}

// orZero substitutes zero for an unset amount so every component carries the
// invoice currency.
func orZero(m, zero money.Money) money.Money {
	if m.Currency == "" && m.AmountMinor == 0 {
		return zero
	}
	return m
}

// Reimbursables returns condo + IPTU + extras, the amounts passed through to
// the owner on top of the rent share.
func (i *Invoice) Reimbursables() (money.Money, error) {
	return money.Sum(i.Condo, i.IPTU, i.Extras)
}

// IsLive reports whether the invoice counts toward the one-per-period rule.
func (i *Invoice) IsLive() bool {
	return i.Status != InvoiceCancelled
}
