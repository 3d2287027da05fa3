package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"rentbilling/internal/common/database"
	"rentbilling/internal/common/money"
)

// ErrNotFound is returned for unknown lease ids.
var ErrNotFound = errors.New("lease not found")

// PostgresStore reads leases from the contract service's table.
type PostgresStore struct {
	db database.Querier
}

var _ Reader = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL lease reader.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const leaseColumns = `
	id, tenant_id, property_id, owner_name,
	rent_amount, condo_amount, iptu_amount, extras_amount, currency,
	due_day, admin_fee_pct::text, status
`

// ListActive returns all ACTIVE leases.
func (s *PostgresStore) ListActive(ctx context.Context) ([]*Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE status = $1 ORDER BY id`

	rows, err := s.db.Query(ctx, query, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active leases: %w", err)
	}
	defer rows.Close()

	var leases []*Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}

	return leases, rows.Err()
}

// Get returns one lease by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE id = $1`

	l, err := scanLease(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return l, nil
}

func scanLease(row pgx.Row) (*Lease, error) {
	var l Lease
	var rent, condo, iptu, extras int64
	var currency string
	var dueDay *int16
	var feePct *string

	err := row.Scan(
		&l.ID,
		&l.TenantID,
		&l.PropertyID,
		&l.OwnerName,
		&rent,
		&condo,
		&iptu,
		&extras,
		&currency,
		&dueDay,
		&feePct,
		&l.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan lease: %w", err)
	}

	cur := money.Currency(currency)
	l.Rent = money.New(rent, cur)
	l.Condo = money.New(condo, cur)
	l.IPTU = money.New(iptu, cur)
	l.Extras = money.New(extras, cur)

	if dueDay != nil {
		l.DueDay = int(*dueDay)
	}
	if feePct != nil {
		pct, err := decimal.NewFromString(*feePct)
		if err != nil {
			return nil, fmt.Errorf("lease %s: parse admin_fee_pct %q: %w", l.ID, *feePct, err)
		}
		l.AdminFeePct = &pct
	}

	return &l, nil
}
