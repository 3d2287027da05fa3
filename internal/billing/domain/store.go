package domain

import "context"

// InvoiceStore persists invoices.
type InvoiceStore interface {
	// Create inserts an invoice. It returns ErrInvoiceExists when a live
	// invoice already exists for the same lease and period.
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	// ListByPeriod returns the invoices of a period, cancelled ones included.
	ListByPeriod(ctx context.Context, period Period) ([]*Invoice, error)
	// SetPaymentReference binds the provider charge id to an unpaid invoice.
	SetPaymentReference(ctx context.Context, id, paymentRef string) error
}

// PayoutStore reads payouts.
type PayoutStore interface {
	GetByInvoice(ctx context.Context, invoiceID string) (*Payout, error)
	ListByPeriod(ctx context.Context, period Period) ([]*Payout, error)
}

// ReconciliationTx is the set of operations reconciliation performs while
// holding the invoice row.
type ReconciliationTx interface {
	// LockInvoiceByPaymentReference returns ErrNotFound when no invoice
	// carries the reference.
	LockInvoiceByPaymentReference(ctx context.Context, paymentRef string) (*Invoice, error)
	LockInvoice(ctx context.Context, id string) (*Invoice, error)
	// PayoutForInvoice returns nil, nil when the invoice has no payout.
	PayoutForInvoice(ctx context.Context, invoiceID string) (*Payout, error)
	SavePayment(ctx context.Context, inv *Invoice) error
	// CreatePayout returns ErrPayoutExists on a second payout for an invoice.
	CreatePayout(ctx context.Context, payout *Payout) error
}

// ReconciliationStore runs fn as one atomic unit: either everything fn wrote
// is committed or nothing is.
type ReconciliationStore interface {
	InTx(ctx context.Context, fn func(tx ReconciliationTx) error) error
}
