package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Billing event types
const (
	EventInvoiceGenerated = "billing.invoice.generated"
	EventInvoicePaid      = "billing.invoice.paid"
	EventPayoutScheduled  = "billing.payout.scheduled"
)

// InvoiceGeneratedData is the data for billing.invoice.generated events
type InvoiceGeneratedData struct {
	InvoiceID   string `json:"invoice_id"`
	LeaseID     string `json:"lease_id"`
	Period      string `json:"period"`
	DueDate     string `json:"due_date"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// InvoicePaidData is the data for billing.invoice.paid events
type InvoicePaidData struct {
	InvoiceID        string `json:"invoice_id"`
	LeaseID          string `json:"lease_id"`
	PaymentReference string `json:"payment_reference"`
	PaidAmount       int64  `json:"paid_amount"`
	PaidDate         string `json:"paid_date"`
	Currency         string `json:"currency"`
}

// PayoutScheduledData is the data for billing.payout.scheduled events
type PayoutScheduledData struct {
	PayoutID             string `json:"payout_id"`
	InvoiceID            string `json:"invoice_id"`
	LeaseID              string `json:"lease_id"`
	OwnerName            string `json:"owner_name"`
	GrossAmount          int64  `json:"gross_amount"`
	FeeAmount            int64  `json:"fee_amount"`
	NetAmount            int64  `json:"net_amount"`
	Currency             string `json:"currency"`
	ExpectedTransferDate string `json:"expected_transfer_date"`
}
