package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/events"
	"rentbilling/internal/lease"
)

func TestGenerateMissingInvoices_Idempotent(t *testing.T) {
	terminated := activeLease("lease-4", "900.00", 5)
	terminated.Status = lease.StatusTerminated
	f := newFixture(t,
		activeLease("lease-1", "2500.00", 15),
		activeLease("lease-2", "1800.00", 10),
		activeLease("lease-3", "3200.00", 0),
		terminated,
	)
	ctx := context.Background()
	asOf := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

	first, err := f.generator.GenerateMissingInvoices(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, "10/2026", first.Period)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 0, first.Skipped)
	assert.Equal(t, 0, first.Failed)
	require.Len(t, first.Invoices, 3)
	assert.Equal(t, "lease-1", first.Invoices[0].LeaseID)

	second, err := f.generator.GenerateMissingInvoices(ctx, asOf.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Skipped)

	all, err := f.mem.Invoices().ListByPeriod(ctx, domain.Period{Year: 2026, Month: time.October})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 3, f.publisher.count(events.EventInvoiceGenerated))
}

func TestGenerateMissingInvoices_InvoiceFields(t *testing.T) {
	l := activeLease("lease-1", "2000.00", 31)
	l.Condo = brl("450.00")
	l.IPTU = brl("80.00")
	f := newFixture(t, l, activeLease("lease-2", "1000.00", 5))

	summary, err := f.generator.GenerateMissingInvoices(context.Background(), time.Date(2026, time.April, 8, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, summary.Invoices, 2)

	inv := summary.Invoices[0]
	assert.Equal(t, "04/2026", inv.Period)
	assert.Equal(t, time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC), inv.DueDate, "day 31 clamps to the 30th")
	assert.Equal(t, domain.InvoicePending, inv.Status)
	assert.Equal(t, brl("2530.00"), inv.Total)
	assert.Equal(t, "tenant-lease-1", inv.TenantID)

	late := summary.Invoices[1]
	assert.Equal(t, domain.InvoiceLate, late.Status)
	assert.Equal(t, brl("1000.00"), late.Total)
}

func TestGenerateMissingInvoices_UsesBillingTimeZone(t *testing.T) {
	f := newFixture(t, activeLease("lease-1", "1500.00", 10))
	cfg := testConfig()
	cfg.TimeZone = "America/Sao_Paulo"
	gen, err := NewGenerator(f.leases, f.mem.Invoices(), nil, cfg, testLogger())
	require.NoError(t, err)

	// 01:00 UTC on Nov 1st is still October 31st in Sao Paulo
	summary, err := gen.GenerateMissingInvoices(context.Background(), time.Date(2026, time.November, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "10/2026", summary.Period)
	require.Len(t, summary.Invoices, 1)
	assert.Equal(t, domain.InvoiceLate, summary.Invoices[0].Status)
}

func TestGenerateMissingInvoices_IsolatesLeaseFailures(t *testing.T) {
	f := newFixture(t,
		activeLease("lease-1", "1000.00", 10),
		activeLease("lease-2", "1000.00", 10),
		activeLease("lease-3", "1000.00", 10),
	)
	f.mem.FailCreate("lease-2", errors.New("disk full"))

	summary, err := f.generator.GenerateMissingInvoices(context.Background(), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "lease-2", summary.Failures[0].LeaseID)
	assert.Contains(t, summary.Failures[0].Error, "disk full")
}

func TestGenerateMissingInvoices_LeaseReadFailureAborts(t *testing.T) {
	f := newFixture(t, activeLease("lease-1", "1000.00", 10))
	f.leases.SetErr(errors.New("connection refused"))

	summary, err := f.generator.GenerateMissingInvoices(context.Background(), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC))
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	all, err := f.mem.Invoices().ListByPeriod(context.Background(), domain.Period{Year: 2026, Month: time.October})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGenerateMissingInvoices_ConcurrentRunsCreateOnce(t *testing.T) {
	var leases []*lease.Lease
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		leases = append(leases, activeLease("lease-"+id, "1000.00", 10))
	}
	f := newFixture(t, leases...)
	asOf := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	const runs = 4
	summaries := make([]*GenerationSummary, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.generator.GenerateMissingInvoices(context.Background(), asOf)
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	created := 0
	for _, s := range summaries {
		require.NotNil(t, s)
		assert.Equal(t, 0, s.Failed)
		assert.Equal(t, len(leases), s.Created+s.Skipped)
		created += s.Created
	}
	assert.Equal(t, len(leases), created)

	all, err := f.mem.Invoices().ListByPeriod(context.Background(), domain.PeriodOf(asOf))
	require.NoError(t, err)
	assert.Len(t, all, len(leases))
}

func TestGenerateMissingInvoices_CancelledInvoiceIsReplaced(t *testing.T) {
	f := newFixture(t, activeLease("lease-1", "1000.00", 10))
	ctx := context.Background()
	asOf := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	cancelled, err := domain.NewInvoice("inv-old", domain.ChargeTerms{LeaseID: "lease-1", Rent: brl("1000.00")}, asOf)
	require.NoError(t, err)
	cancelled.Status = domain.InvoiceCancelled
	require.NoError(t, f.mem.Invoices().Create(ctx, cancelled))

	summary, err := f.generator.GenerateMissingInvoices(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	all, err := f.mem.Invoices().ListByPeriod(ctx, domain.PeriodOf(asOf))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNewGenerator_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 0
	_, err := NewGenerator(lease.NewMemoryStore(), nil, nil, cfg, testLogger())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TimeZone = "Mars/Olympus"
	_, err = NewGenerator(lease.NewMemoryStore(), nil, nil, cfg, testLogger())
	assert.Error(t, err)
}
