// Package store persists invoices and payouts in PostgreSQL and in memory.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/database"
	"rentbilling/internal/common/money"
)

const (
	constraintLeasePeriod     = "uq_invoices_lease_period"
	constraintPaymentRef      = "uq_invoices_payment_reference"
	constraintPayoutInvoice   = "uq_payouts_invoice"
	invoiceUnpaidStatusFilter = `status IN ('PENDING', 'LATE')`
)

const invoiceColumns = `
	id, lease_id, tenant_id, property_id, period, due_date, currency,
	rent_amount, condo_amount, iptu_amount, extras_amount, discount_amount, total_amount,
	status, paid_amount, paid_date, payment_reference, receipt_url, payment_payload,
	generated_at, updated_at
`

const payoutColumns = `
	id, invoice_id, lease_id, owner_name, period, currency, expected_transfer_date,
	gross_amount, fee_pct::text, fee_amount, net_amount, status,
	transferred_at, transfer_reference, created_at
`

// PostgresInvoiceStore implements domain.InvoiceStore with PostgreSQL.
type PostgresInvoiceStore struct {
	db *database.DB
}

var _ domain.InvoiceStore = (*PostgresInvoiceStore)(nil)

// NewPostgresInvoiceStore creates a new PostgreSQL invoice store.
func NewPostgresInvoiceStore(db *database.DB) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{db: db}
}

// Create inserts a new invoice.
func (s *PostgresInvoiceStore) Create(ctx context.Context, inv *domain.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, lease_id, tenant_id, property_id, period, due_date, currency,
			rent_amount, condo_amount, iptu_amount, extras_amount, discount_amount, total_amount,
			status, payment_reference, generated_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.db.Exec(ctx, query,
		inv.ID,
		inv.LeaseID,
		inv.TenantID,
		inv.PropertyID,
		inv.Period,
		inv.DueDate,
		string(inv.Total.Currency),
		inv.Rent.AmountMinor,
		inv.Condo.AmountMinor,
		inv.IPTU.AmountMinor,
		inv.Extras.AmountMinor,
		inv.Discount.AmountMinor,
		inv.Total.AmountMinor,
		inv.Status,
		nullableString(inv.PaymentReference),
		inv.GeneratedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			switch database.ConstraintName(err) {
			case constraintPaymentRef:
				return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, inv.PaymentReference)
			case constraintLeasePeriod:
				return fmt.Errorf("%w: lease %s period %s", domain.ErrInvoiceExists, inv.LeaseID, inv.Period)
			}
		}
		return wrapErr("insert invoice", err)
	}

	return nil
}

// Get retrieves an invoice by ID.
func (s *PostgresInvoiceStore) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return getInvoice(ctx, s.db, query, id)
}

// ListByPeriod returns a period's invoices ordered by lease.
func (s *PostgresInvoiceStore) ListByPeriod(ctx context.Context, period domain.Period) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE period = $1 ORDER BY lease_id, generated_at`

	rows, err := s.db.Query(ctx, query, period.String())
	if err != nil {
		return nil, wrapErr("query invoices", err)
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}

	return invoices, wrapErr("iterate invoices", rows.Err())
}

// SetPaymentReference binds a provider charge id to an unpaid invoice.
func (s *PostgresInvoiceStore) SetPaymentReference(ctx context.Context, id, paymentRef string) error {
	query := `
		UPDATE invoices
		SET payment_reference = $2, updated_at = $3
		WHERE id = $1 AND ` + invoiceUnpaidStatusFilter

	result, err := s.db.Exec(ctx, query, id, paymentRef, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, paymentRef)
		}
		return wrapErr("update payment reference", err)
	}

	if result.RowsAffected() == 0 {
		inv, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return notPayable(inv)
	}

	return nil
}

// PostgresPayoutStore implements domain.PayoutStore with PostgreSQL.
type PostgresPayoutStore struct {
	db *database.DB
}

var _ domain.PayoutStore = (*PostgresPayoutStore)(nil)

// NewPostgresPayoutStore creates a new PostgreSQL payout store.
func NewPostgresPayoutStore(db *database.DB) *PostgresPayoutStore {
	return &PostgresPayoutStore{db: db}
}

// GetByInvoice retrieves the payout of an invoice.
func (s *PostgresPayoutStore) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payout, error) {
	p, err := payoutForInvoice(ctx, s.db, invoiceID, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: payout for invoice %s", domain.ErrNotFound, invoiceID)
	}
	return p, nil
}

// ListByPeriod returns a period's payouts ordered by owner and lease.
func (s *PostgresPayoutStore) ListByPeriod(ctx context.Context, period domain.Period) ([]*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE period = $1 ORDER BY owner_name, lease_id`

	rows, err := s.db.Query(ctx, query, period.String())
	if err != nil {
		return nil, wrapErr("query payouts", err)
	}
	defer rows.Close()

	var payouts []*domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}

	return payouts, wrapErr("iterate payouts", rows.Err())
}

// PostgresReconciliationStore runs reconciliation units in a read-committed
// transaction, holding the invoice row with SELECT ... FOR UPDATE.
type PostgresReconciliationStore struct {
	db *database.DB
}

var _ domain.ReconciliationStore = (*PostgresReconciliationStore)(nil)

// NewPostgresReconciliationStore creates a new PostgreSQL reconciliation store.
func NewPostgresReconciliationStore(db *database.DB) *PostgresReconciliationStore {
	return &PostgresReconciliationStore{db: db}
}

// InTx runs fn in a transaction.
func (s *PostgresReconciliationStore) InTx(ctx context.Context, fn func(tx domain.ReconciliationTx) error) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgReconciliationTx{tx: tx})
	})
	if err != nil && database.IsUnavailable(err) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return err
}

type pgReconciliationTx struct {
	tx pgx.Tx
}

func (t *pgReconciliationTx) LockInvoiceByPaymentReference(ctx context.Context, paymentRef string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE payment_reference = $1 FOR UPDATE`
	return getInvoice(ctx, t.tx, query, paymentRef)
}

func (t *pgReconciliationTx) LockInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	return getInvoice(ctx, t.tx, query, id)
}

func (t *pgReconciliationTx) PayoutForInvoice(ctx context.Context, invoiceID string) (*domain.Payout, error) {
	return payoutForInvoice(ctx, t.tx, invoiceID, true)
}

// SavePayment writes the payment fields of inv. Charge amounts are never
// written after creation.
func (t *pgReconciliationTx) SavePayment(ctx context.Context, inv *domain.Invoice) error {
	query := `
		UPDATE invoices
		SET status = $2, paid_amount = $3, paid_date = $4, payment_reference = $5,
			receipt_url = $6, payment_payload = $7, updated_at = $8
		WHERE id = $1
	`

	var paid *int64
	if inv.PaidAmount != nil {
		paid = &inv.PaidAmount.AmountMinor
	}

	result, err := t.tx.Exec(ctx, query,
		inv.ID,
		inv.Status,
		paid,
		inv.PaidDate,
		nullableString(inv.PaymentReference),
		nullableString(inv.ReceiptURL),
		nullableBytes(inv.PaymentPayload),
		inv.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, inv.PaymentReference)
		}
		return wrapErr("update invoice payment", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s", domain.ErrNotFound, inv.ID)
	}

	return nil
}

func (t *pgReconciliationTx) CreatePayout(ctx context.Context, p *domain.Payout) error {
	query := `
		INSERT INTO payouts (
			id, invoice_id, lease_id, owner_name, period, currency, expected_transfer_date,
			gross_amount, fee_pct, fee_amount, net_amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := t.tx.Exec(ctx, query,
		p.ID,
		p.InvoiceID,
		p.LeaseID,
		p.OwnerName,
		p.Period,
		string(p.Gross.Currency),
		p.ExpectedTransferDate,
		p.Gross.AmountMinor,
		p.FeePct.String(),
		p.Fee.AmountMinor,
		p.Net.AmountMinor,
		p.Status,
		p.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) && database.ConstraintName(err) == constraintPayoutInvoice {
			return fmt.Errorf("%w: invoice %s", domain.ErrPayoutExists, p.InvoiceID)
		}
		return wrapErr("insert payout", err)
	}

	return nil
}

func getInvoice(ctx context.Context, q database.Querier, query string, arg any) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %v", domain.ErrNotFound, arg)
		}
		return nil, err
	}
	return inv, nil
}

func payoutForInvoice(ctx context.Context, q database.Querier, invoiceID string, lock bool) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE invoice_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	p, err := scanPayout(q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	var currency string
	var rent, condo, iptu, extras, discount, total int64
	var paidAmount *int64
	var paymentRef, receiptURL *string
	var payload []byte

	err := row.Scan(
		&inv.ID,
		&inv.LeaseID,
		&inv.TenantID,
		&inv.PropertyID,
		&inv.Period,
		&inv.DueDate,
		&currency,
		&rent,
		&condo,
		&iptu,
		&extras,
		&discount,
		&total,
		&inv.Status,
		&paidAmount,
		&inv.PaidDate,
		&paymentRef,
		&receiptURL,
		&payload,
		&inv.GeneratedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, wrapErr("scan invoice", err)
	}

	cur := money.Currency(currency)
	inv.Rent = money.New(rent, cur)
	inv.Condo = money.New(condo, cur)
	inv.IPTU = money.New(iptu, cur)
	inv.Extras = money.New(extras, cur)
	inv.Discount = money.New(discount, cur)
	inv.Total = money.New(total, cur)
	if paidAmount != nil {
		paid := money.New(*paidAmount, cur)
		inv.PaidAmount = &paid
	}
	if paymentRef != nil {
		inv.PaymentReference = *paymentRef
	}
	if receiptURL != nil {
		inv.ReceiptURL = *receiptURL
	}
	if len(payload) > 0 {
		inv.PaymentPayload = json.RawMessage(payload)
	}

	return &inv, nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	var currency, feePct string
	var gross, fee, net int64
	var transferRef *string

	err := row.Scan(
		&p.ID,
		&p.InvoiceID,
		&p.LeaseID,
		&p.OwnerName,
		&p.Period,
		&currency,
		&p.ExpectedTransferDate,
		&gross,
		&feePct,
		&fee,
		&net,
		&p.Status,
		&p.TransferredAt,
		&transferRef,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, wrapErr("scan payout", err)
	}

	cur := money.Currency(currency)
	p.Gross = money.New(gross, cur)
	p.Fee = money.New(fee, cur)
	p.Net = money.New(net, cur)
	p.FeePct, err = decimal.NewFromString(feePct)
	if err != nil {
		return nil, fmt.Errorf("payout %s: parse fee_pct %q: %w", p.ID, feePct, err)
	}
	if transferRef != nil {
		p.TransferReference = *transferRef
	}

	return &p, nil
}

// notPayable explains why an invoice no longer accepts a payment binding.
func notPayable(inv *domain.Invoice) error {
	switch inv.Status {
	case domain.InvoiceCancelled:
		return fmt.Errorf("%w: %s", domain.ErrInvoiceCancelled, inv.ID)
	case domain.InvoicePaid:
		return fmt.Errorf("%w: %s", domain.ErrInvoiceSettled, inv.ID)
	default:
		return fmt.Errorf("%w: invoice %s has status %s", domain.ErrInconsistentState, inv.ID, inv.Status)
	}
}

// wrapErr marks connectivity failures as domain.ErrUpstreamUnavailable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if database.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
