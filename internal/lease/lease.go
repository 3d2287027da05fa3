// Package lease provides a read-only snapshot of lease terms owned by the
// contract service.
package lease

import (
	"context"

	"github.com/shopspring/decimal"

	"rentbilling/internal/common/money"
)

// Status represents the status of a lease
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusTerminated Status = "TERMINATED"
	StatusSuspended  Status = "SUSPENDED"
)

// Lease is the billing-relevant view of a rental agreement.
type Lease struct {
	ID          string
	TenantID    string
	PropertyID  string
	OwnerName   string
	Rent        money.Money
	Condo       money.Money
	IPTU        money.Money
	Extras      money.Money
	DueDay      int              // 0 when the lease does not set one
	AdminFeePct *decimal.Decimal // nil when the lease does not set one
	Status      Status
}

// IsActive reports whether the lease is eligible for invoicing.
func (l *Lease) IsActive() bool {
	return l.Status == StatusActive
}

// FeePct returns the lease's admin fee, or fallback when unset.
func (l *Lease) FeePct(fallback decimal.Decimal) decimal.Decimal {
	if l.AdminFeePct == nil {
		return fallback
	}
	return *l.AdminFeePct
}

// Reader reads lease snapshots. It has no side effects.
type Reader interface {
	ListActive(ctx context.Context) ([]*Lease, error)
	Get(ctx context.Context, id string) (*Lease, error)
}
