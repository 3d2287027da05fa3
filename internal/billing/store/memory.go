package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rentbilling/internal/billing/domain"
)

// Memory keeps invoices and payouts in process. It enforces the same
// uniqueness rules as the PostgreSQL schema and serializes reconciliation
// units, which is what the row lock gives the database implementation.
type Memory struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
	payouts  map[string]*domain.Payout // keyed by invoice id

	err        error
	createErrs map[string]error // keyed by lease id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		invoices:   make(map[string]*domain.Invoice),
		payouts:    make(map[string]*domain.Payout),
		createErrs: make(map[string]error),
	}
}

// SetErr makes every subsequent call fail with err; nil clears it.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailCreate makes invoice creation for leaseID fail with err.
func (m *Memory) FailCreate(leaseID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErrs[leaseID] = err
}

// Invoices returns the domain.InvoiceStore view of m.
func (m *Memory) Invoices() *MemoryInvoices { return &MemoryInvoices{m: m} }

// Payouts returns the domain.PayoutStore view of m.
func (m *Memory) Payouts() *MemoryPayouts { return &MemoryPayouts{m: m} }

// InTx runs fn holding the store lock. Writes are staged and applied only
// when fn returns nil.
func (m *Memory) InTx(ctx context.Context, fn func(tx domain.ReconciliationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	tx := &memoryTx{
		m:        m,
		invoices: make(map[string]*domain.Invoice),
		payouts:  make(map[string]*domain.Payout),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, inv := range tx.invoices {
		m.invoices[id] = inv
	}
	for invoiceID, p := range tx.payouts {
		m.payouts[invoiceID] = p
	}
	return nil
}

// check must be called with mu held.
func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return m.err
}

// refOwner returns the id of the invoice carrying paymentRef, if any.
func (m *Memory) refOwner(paymentRef string, staged map[string]*domain.Invoice) string {
	if paymentRef == "" {
		return ""
	}
	for id, inv := range staged {
		if inv.PaymentReference == paymentRef {
			return id
		}
	}
	for id, inv := range m.invoices {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		if inv.PaymentReference == paymentRef {
			return id
		}
	}
	return ""
}

// MemoryInvoices implements domain.InvoiceStore over Memory.
type MemoryInvoices struct {
	m *Memory
}

var _ domain.InvoiceStore = (*MemoryInvoices)(nil)

func (s *MemoryInvoices) Create(ctx context.Context, inv *domain.Invoice) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if err := m.createErrs[inv.LeaseID]; err != nil {
		return err
	}

	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice id %s already used", inv.ID)
	}
	if inv.IsLive() {
		for _, other := range m.invoices {
			if other.LeaseID == inv.LeaseID && other.Period == inv.Period && other.IsLive() {
				return fmt.Errorf("%w: lease %s period %s", domain.ErrInvoiceExists, inv.LeaseID, inv.Period)
			}
		}
	}
	if owner := m.refOwner(inv.PaymentReference, nil); owner != "" {
		return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, inv.PaymentReference)
	}

	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *MemoryInvoices) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, id)
	}
	return cloneInvoice(inv), nil
}

func (s *MemoryInvoices) ListByPeriod(ctx context.Context, period domain.Period) ([]*domain.Invoice, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	key := period.String()
	var out []*domain.Invoice
	for _, inv := range m.invoices {
		if inv.Period == key {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeaseID != out[j].LeaseID {
			return out[i].LeaseID < out[j].LeaseID
		}
		return out[i].GeneratedAt.Before(out[j].GeneratedAt)
	})
	return out, nil
}

func (s *MemoryInvoices) SetPaymentReference(ctx context.Context, id, paymentRef string) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}

	inv, ok := m.invoices[id]
	if !ok {
		return fmt.Errorf("%w: invoice %s", domain.ErrNotFound, id)
	}
	if inv.Status != domain.InvoicePending && inv.Status != domain.InvoiceLate {
		return notPayable(inv)
	}
	if owner := m.refOwner(paymentRef, nil); owner != "" && owner != id {
		return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, paymentRef)
	}

	inv.PaymentReference = paymentRef
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryPayouts implements domain.PayoutStore over Memory.
type MemoryPayouts struct {
	m *Memory
}

var _ domain.PayoutStore = (*MemoryPayouts)(nil)

func (s *MemoryPayouts) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payout, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	p, ok := m.payouts[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: payout for invoice %s", domain.ErrNotFound, invoiceID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPayouts) ListByPeriod(ctx context.Context, period domain.Period) ([]*domain.Payout, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	key := period.String()
	var out []*domain.Payout
	for _, p := range m.payouts {
		if p.Period == key {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerName != out[j].OwnerName {
			return out[i].OwnerName < out[j].OwnerName
		}
		return out[i].LeaseID < out[j].LeaseID
	})
	return out, nil
}

// memoryTx runs with Memory.mu held.
type memoryTx struct {
	m        *Memory
	invoices map[string]*domain.Invoice
	payouts  map[string]*domain.Payout
}

func (t *memoryTx) invoice(id string) (*domain.Invoice, bool) {
	if inv, ok := t.invoices[id]; ok {
		return inv, true
	}
	inv, ok := t.m.invoices[id]
	return inv, ok
}

func (t *memoryTx) LockInvoiceByPaymentReference(_ context.Context, paymentRef string) (*domain.Invoice, error) {
	id := t.m.refOwner(paymentRef, t.invoices)
	if id == "" {
		return nil, fmt.Errorf("%w: invoice with payment reference %s", domain.ErrNotFound, paymentRef)
	}
	inv, _ := t.invoice(id)
	return cloneInvoice(inv), nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	inv, ok := t.invoice(id)
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, id)
	}
	return cloneInvoice(inv), nil
}

func (t *memoryTx) PayoutForInvoice(_ context.Context, invoiceID string) (*domain.Payout, error) {
	p, ok := t.payouts[invoiceID]
	if !ok {
		p, ok = t.m.payouts[invoiceID]
	}
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *memoryTx) SavePayment(_ context.Context, inv *domain.Invoice) error {
	current, ok := t.invoice(inv.ID)
	if !ok {
		return fmt.Errorf("%w: invoice %s", domain.ErrNotFound, inv.ID)
	}
	if owner := t.m.refOwner(inv.PaymentReference, t.invoices); owner != "" && owner != inv.ID {
		return fmt.Errorf("%w: %s", domain.ErrPaymentReferenceTaken, inv.PaymentReference)
	}

	updated := cloneInvoice(current)
	updated.Status = inv.Status
	updated.PaidAmount = inv.PaidAmount
	updated.PaidDate = inv.PaidDate
	updated.PaymentReference = inv.PaymentReference
	updated.ReceiptURL = inv.ReceiptURL
	updated.PaymentPayload = inv.PaymentPayload
	updated.UpdatedAt = inv.UpdatedAt
	t.invoices[inv.ID] = cloneInvoice(updated)
	return nil
}

func (t *memoryTx) CreatePayout(_ context.Context, p *domain.Payout) error {
	if _, ok := t.payouts[p.InvoiceID]; ok {
		return fmt.Errorf("%w: invoice %s", domain.ErrPayoutExists, p.InvoiceID)
	}
	if _, ok := t.m.payouts[p.InvoiceID]; ok {
		return fmt.Errorf("%w: invoice %s", domain.ErrPayoutExists, p.InvoiceID)
	}
	if _, ok := t.invoice(p.InvoiceID); !ok {
		return fmt.Errorf("%w: invoice %s", domain.ErrNotFound, p.InvoiceID)
	}
	cp := *p
	t.payouts[p.InvoiceID] = &cp
	return nil
}

func cloneInvoice(inv *domain.Invoice) *domain.Invoice {
	cp := *inv
	if inv.PaidAmount != nil {
		paid := *inv.PaidAmount
		cp.PaidAmount = &paid
	}
	if inv.PaidDate != nil {
		d := *inv.PaidDate
		cp.PaidDate = &d
	}
	if inv.PaymentPayload != nil {
		cp.PaymentPayload = append([]byte(nil), inv.PaymentPayload...)
	}
	return &cp
}
