package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/events"
	"rentbilling/internal/common/metrics"
	"rentbilling/internal/lease"
)

// Outcome is the business result of a successful reconciliation.
type Outcome string

const (
	// OutcomeApplied means the invoice was marked PAID and a payout scheduled.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the payment had already been applied.
	OutcomeDuplicate Outcome = "duplicate"
)

// PaymentEvent is a provider payment notification that confirms money was
// received.
type PaymentEvent struct {
	EventType string
	Payment   domain.Payment
}

// ReconciliationResult describes what Reconcile did.
type ReconciliationResult struct {
	Outcome        Outcome        `json:"outcome"`
	InvoiceID      string         `json:"invoice_id"`
	Payout         *domain.Payout `json:"payout,omitempty"`
	AmountMismatch bool           `json:"amount_mismatch,omitempty"`
	Expected       string         `json:"expected,omitempty"`
	Paid           string         `json:"paid,omitempty"`
}

// Summary renders the result for the audit log.
func (r *ReconciliationResult) Summary() string {
	s := fmt.Sprintf("%s invoice=%s", r.Outcome, r.InvoiceID)
	if r.Payout != nil {
		s += " payout=" + r.Payout.ID
	}
	if r.AmountMismatch {
		s += fmt.Sprintf(" amount_mismatch expected=%s paid=%s", r.Expected, r.Paid)
	}
	return s
}

// Reconciler applies confirmed payments to invoices and schedules owner
// payouts. Applying the same payment any number of times, concurrently or
// not, leaves exactly one PAID invoice and one payout.
type Reconciler struct {
	store  domain.ReconciliationStore
	leases lease.Reader
	events eventSink
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewReconciler creates a new reconciler. publisher may be nil.
func NewReconciler(store domain.ReconciliationStore, leases lease.Reader, publisher events.Publisher, cfg Config, logger *slog.Logger) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		store:  store,
		leases: leases,
		events: eventSink{publisher: publisher, logger: logger},
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return ulid.Make().String() },
	}, nil
}

// Reconcile applies ev's payment to its invoice in one transaction.
//
// Errors wrap the domain sentinels; use domain.IsRetryable to decide whether
// the provider should redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, ev PaymentEvent) (*ReconciliationResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DownstreamTimeout)
	defer cancel()

	res, err := r.reconcileOnce(ctx, ev.Payment)
	if errors.Is(err, domain.ErrPayoutExists) {
		// A concurrent delivery committed first; the retry sees its payout.
		r.logger.Info("payout created concurrently, retrying reconciliation", "payment_id", ev.Payment.ID)
		res, err = r.reconcileOnce(ctx, ev.Payment)
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		metrics.ObserveReconcile(errorOutcome(err), time.Since(start))
		return nil, err
	}

	metrics.ObserveReconcile(string(res.Outcome), time.Since(start))

	switch res.Outcome {
	case OutcomeDuplicate:
		r.logger.Info("duplicate payment event",
			"event", ev.EventType,
			"payment_id", ev.Payment.ID,
			"invoice_id", res.InvoiceID,
		)
	case OutcomeApplied:
		metrics.IncPayoutScheduled()
		if res.AmountMismatch {
			r.logger.Warn("paid amount differs from invoice total",
				"invoice_id", res.InvoiceID,
				"payment_id", ev.Payment.ID,
				"expected", res.Expected,
				"paid", res.Paid,
			)
		}
		r.logger.Info("payment reconciled",
			"event", ev.EventType,
			"payment_id", ev.Payment.ID,
			"invoice_id", res.InvoiceID,
			"payout_id", res.Payout.ID,
			"gross", res.Payout.Gross.AmountMinor,
			"fee", res.Payout.Fee.AmountMinor,
			"net", res.Payout.Net.AmountMinor,
		)
	}

	return res, nil
}

func (r *Reconciler) reconcileOnce(ctx context.Context, p domain.Payment) (*ReconciliationResult, error) {
	var res *ReconciliationResult
	var paid *domain.Invoice

	err := r.store.InTx(ctx, func(tx domain.ReconciliationTx) error {
		inv, err := r.lockInvoice(ctx, tx, p)
		if err != nil {
			return err
		}

		existing, err := tx.PayoutForInvoice(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("loading payout of invoice %s: %w", inv.ID, err)
		}

		var terms domain.PayoutTerms
		if existing == nil {
			terms, err = r.payoutTerms(ctx, inv)
			if err != nil {
				return err
			}
		}

		settlement, err := domain.Settle(inv, existing, p, terms, r.now())
		if err != nil {
			return err
		}
		if settlement.Duplicate {
			res = &ReconciliationResult{Outcome: OutcomeDuplicate, InvoiceID: inv.ID, Payout: settlement.Payout}
			return nil
		}

		if err := tx.SavePayment(ctx, settlement.Invoice); err != nil {
			return fmt.Errorf("saving payment of invoice %s: %w", inv.ID, err)
		}
		if err := tx.CreatePayout(ctx, settlement.Payout); err != nil {
			return fmt.Errorf("creating payout of invoice %s: %w", inv.ID, err)
		}

		res = &ReconciliationResult{Outcome: OutcomeApplied, InvoiceID: inv.ID, Payout: settlement.Payout}
		r.checkAmount(res, settlement.Invoice, p)
		paid = settlement.Invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	if paid != nil {
		r.events.invoicePaid(ctx, paid)
		r.events.payoutScheduled(ctx, res.Payout)
	}
	return res, nil
}

// lockInvoice finds the invoice a payment belongs to: the one carrying the
// payment id as its reference or, failing that, the unbound invoice named by
// the payment's external reference.
func (r *Reconciler) lockInvoice(ctx context.Context, tx domain.ReconciliationTx, p domain.Payment) (*domain.Invoice, error) {
	inv, err := tx.LockInvoiceByPaymentReference(ctx, p.ID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("locking invoice for payment %s: %w", p.ID, err)
	}

	if p.ExternalReference == "" {
		return nil, fmt.Errorf("%w: payment %s", domain.ErrInvoiceNotFound, p.ID)
	}

	inv, err = tx.LockInvoice(ctx, p.ExternalReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %s, external reference %s", domain.ErrInvoiceNotFound, p.ID, p.ExternalReference)
		}
		return nil, fmt.Errorf("locking invoice %s: %w", p.ExternalReference, err)
	}
	if inv.PaymentReference != "" && inv.PaymentReference != p.ID {
		return nil, fmt.Errorf("%w: payment %s, invoice %s is bound to %s", domain.ErrInvoiceNotFound, p.ID, inv.ID, inv.PaymentReference)
	}

	r.logger.Info("binding payment to invoice by external reference",
		"payment_id", p.ID,
		"invoice_id", inv.ID,
	)
	return inv, nil
}

// payoutTerms resolves the owner and admin fee from the invoice's lease.
func (r *Reconciler) payoutTerms(ctx context.Context, inv *domain.Invoice) (domain.PayoutTerms, error) {
	terms := domain.PayoutTerms{PayoutID: r.newID(), FeePct: r.cfg.DefaultFeePct}

	l, err := r.leases.Get(ctx, inv.LeaseID)
	switch {
	case err == nil:
		terms.OwnerName = l.OwnerName
		terms.FeePct = l.FeePct(r.cfg.DefaultFeePct)
	case errors.Is(err, lease.ErrNotFound):
		r.logger.Warn("lease not found, using default admin fee",
			"lease_id", inv.LeaseID,
			"invoice_id", inv.ID,
		)
	default:
		return terms, fmt.Errorf("%w: reading lease %s: %w", domain.ErrUpstreamUnavailable, inv.LeaseID, err)
	}
	return terms, nil
}

// checkAmount flags payments that differ from the invoice total by more than
// the configured tolerance. The payment is applied either way.
func (r *Reconciler) checkAmount(res *ReconciliationResult, inv *domain.Invoice, p domain.Payment) {
	diff := p.Value.Decimal().Sub(inv.Total.Decimal()).Abs()
	if diff.GreaterThan(r.cfg.AmountTolerance) {
		res.AmountMismatch = true
		res.Expected = inv.Total.String()
		res.Paid = p.Value.String()
	}
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvoiceNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvoiceCancelled):
		return "cancelled"
	case domain.IsRetryable(err):
		return "retryable_error"
	default:
		return "rejected"
	}
}
