package domain

import "errors"

var (
	// ErrUpstreamUnavailable marks a transient failure of a backing store or
	// collaborator. Callers should retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvoiceNotFound means no invoice matches a payment event.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceCancelled means a payment arrived for a cancelled invoice.
	ErrInvoiceCancelled = errors.New("invoice is cancelled")

	// ErrInconsistentState means invoice and payout disagree, e.g. a payout
	// exists for an invoice that is not PAID.
	ErrInconsistentState = errors.New("invoice and payout state disagree")

	// ErrInvoiceExists is returned when inserting a second live invoice for the
	// same lease and period.
	ErrInvoiceExists = errors.New("invoice already exists for lease and period")

	// ErrPayoutExists is returned when inserting a second payout for an invoice.
	ErrPayoutExists = errors.New("payout already exists for invoice")

	// ErrInvoiceSettled is returned when changing the payment binding of an
	// invoice that is already paid.
	ErrInvoiceSettled = errors.New("invoice is already paid")

	// ErrPaymentReferenceTaken is returned when a payment reference is already
	// bound to another invoice.
	ErrPaymentReferenceTaken = errors.New("payment reference already bound to another invoice")

	// ErrInvalidTerms means a payment cannot be split under the lease's payout
	// terms, e.g. an admin fee outside 0-100% or a currency that differs from
	// the invoice.
	ErrInvalidTerms = errors.New("invalid payout terms")

	// ErrInvalidPayment means a confirmed payment lacks a positive value or a
	// payment date.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether a reconciliation error should make the payment
// provider redeliver the event. Business anomalies are not retryable: a retry
// would fail the same way, so they are acknowledged and left for manual
// follow-up through the audit log.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, ErrInvoiceCancelled),
		errors.Is(err, ErrInconsistentState),
		errors.Is(err, ErrPaymentReferenceTaken),
		errors.Is(err, ErrInvoiceSettled),
		errors.Is(err, ErrInvalidTerms),
		errors.Is(err, ErrInvalidPayment):
		return false
	default:
		return true
	}
}
