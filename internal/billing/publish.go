package billing

import (
	"context"
	"log/slog"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/events"
	"rentbilling/internal/common/middleware"
)

const dateLayout = "2006-01-02"

// eventSink publishes domain events after the state they describe is
// committed. Publishing is best effort: a failure is logged and never undoes
// or fails the operation.
type eventSink struct {
	publisher events.Publisher
	logger    *slog.Logger
}

func (s eventSink) publish(ctx context.Context, eventType, aggregateType, aggregateID string, data any) {
	if s.publisher == nil {
		return
	}

	event, err := events.NewEvent(eventType, aggregateType, aggregateID, data)
	if err != nil {
		s.logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}

	event.WithCorrelation(middleware.GetCorrelationID(ctx))

	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish event",
			"type", eventType,
			"aggregate_id", aggregateID,
			"error", err,
		)
	}
}

func (s eventSink) invoiceGenerated(ctx context.Context, inv *domain.Invoice) {
	s.publish(ctx, events.EventInvoiceGenerated, "invoice", inv.ID, events.InvoiceGeneratedData{
		InvoiceID:   inv.ID,
		LeaseID:     inv.LeaseID,
		Period:      inv.Period,
		DueDate:     inv.DueDate.Format(dateLayout),
		TotalAmount: inv.Total.AmountMinor,
		Currency:    string(inv.Total.Currency),
		Status:      string(inv.Status),
	})
}

func (s eventSink) invoicePaid(ctx context.Context, inv *domain.Invoice) {
	data := events.InvoicePaidData{
		InvoiceID:        inv.ID,
		LeaseID:          inv.LeaseID,
		PaymentReference: inv.PaymentReference,
		Currency:         string(inv.Total.Currency),
	}
	if inv.PaidAmount != nil {
		data.PaidAmount = inv.PaidAmount.AmountMinor
	}
	if inv.PaidDate != nil {
		data.PaidDate = inv.PaidDate.Format(dateLayout)
	}
	s.publish(ctx, events.EventInvoicePaid, "invoice", inv.ID, data)
}

func (s eventSink) payoutScheduled(ctx context.Context, p *domain.Payout) {
	s.publish(ctx, events.EventPayoutScheduled, "payout", p.ID, events.PayoutScheduledData{
		PayoutID:             p.ID,
		InvoiceID:            p.InvoiceID,
		LeaseID:              p.LeaseID,
		OwnerName:            p.OwnerName,
		GrossAmount:          p.Gross.AmountMinor,
		FeeAmount:            p.Fee.AmountMinor,
		NetAmount:            p.Net.AmountMinor,
		Currency:             string(p.Gross.Currency),
		ExpectedTransferDate: p.ExpectedTransferDate.Format(dateLayout),
	})
}
