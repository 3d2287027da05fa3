package asaas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/api"
	"rentbilling/internal/common/money"
)

// Payment event types that confirm money was received.
const (
	EventPaymentReceived  = "PAYMENT_RECEIVED"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
)

// WebhookPayload is the envelope Asaas posts for every event.
type WebhookPayload struct {
	ID      string          `json:"id"`
	Event   string          `json:"event" validate:"required"`
	Payment *PaymentPayload `json:"payment"`
}

// PaymentPayload is the payment object of a payment event.
type PaymentPayload struct {
	ID                    string          `json:"id" validate:"required"`
	Customer              string          `json:"customer"`
	Value                 decimal.Decimal `json:"value"`
	NetValue              decimal.Decimal `json:"netValue"`
	BillingType           string          `json:"billingType"`
	Status                string          `json:"status"`
	PaymentDate           *Date           `json:"paymentDate"`
	ConfirmedDate         *Date           `json:"confirmedDate"`
	ClientPaymentDate     *Date           `json:"clientPaymentDate"`
	CreditDate            *Date           `json:"creditDate"`
	TransactionReceiptURL string          `json:"transactionReceiptUrl"`
	ExternalReference     string          `json:"externalReference"`
}

// IsPaymentEvent reports whether the event confirms a received payment.
func (p *WebhookPayload) IsPaymentEvent() bool {
	return p.Event == EventPaymentReceived || p.Event == EventPaymentConfirmed
}

// PaymentID returns the payment id, or "" for events without a payment.
func (p *WebhookPayload) PaymentID() string {
	if p.Payment == nil {
		return ""
	}
	return p.Payment.ID
}

// ParsePayload decodes and validates a webhook body. Payment events must
// carry a payment with an id and a positive value.
func ParsePayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := api.Validate.Struct(&payload); err != nil {
		return nil, err
	}

	if !payload.IsPaymentEvent() {
		return &payload, nil
	}
	if payload.Payment == nil {
		return nil, errors.New("payment is required for payment events")
	}
	if err := api.Validate.Struct(payload.Payment); err != nil {
		return nil, err
	}
	if !payload.Payment.Value.IsPositive() {
		return nil, fmt.Errorf("payment value must be positive, got %s", payload.Payment.Value)
	}
	return &payload, nil
}

// toDomain normalizes the payment. The payment date falls back to the
// confirmation date, then the client's payment date, then today.
func (p *PaymentPayload) toDomain(raw json.RawMessage, today time.Time) domain.Payment {
	payment := domain.Payment{
		ID:                p.ID,
		Value:             money.FromDecimal(p.Value, money.BRL),
		NetValue:          money.FromDecimal(p.NetValue, money.BRL),
		ReceiptURL:        p.TransactionReceiptURL,
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		Raw:               raw,
	}

	switch {
	case isSet(p.PaymentDate):
		payment.PaymentDate = p.PaymentDate.Time
	case isSet(p.ConfirmedDate):
		payment.PaymentDate = p.ConfirmedDate.Time
	case isSet(p.ClientPaymentDate):
		payment.PaymentDate = p.ClientPaymentDate.Time
	default:
		payment.PaymentDate = domain.DateOnly(today)
	}
	if isSet(p.CreditDate) {
		credit := p.CreditDate.Time
		payment.CreditDate = &credit
	}
	return payment
}

// Date accepts "2006-01-02" and RFC 3339 timestamps. null and "" decode to
// the zero date.
type Date struct {
	time.Time
}

func isSet(d *Date) bool {
	return d != nil && !d.Time.IsZero()
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	d.Time = domain.DateOnly(t)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(time.DateOnly))
}
