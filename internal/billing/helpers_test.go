package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/billing/store"
	"rentbilling/internal/common/events"
	"rentbilling/internal/common/money"
	"rentbilling/internal/lease"
)

func brl(s string) money.Money { return money.MustParse(s, money.BRL) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeZone = "UTC"
	return cfg
}

func activeLease(id string, rent string, dueDay int) *lease.Lease {
	return &lease.Lease{
		ID:         id,
		TenantID:   "tenant-" + id,
		PropertyID: "property-" + id,
		OwnerName:  "Owner " + id,
		Rent:       brl(rent),
		DueDay:     dueDay,
		Status:     lease.StatusActive,
	}
}

func withFee(l *lease.Lease, pct string) *lease.Lease {
	d := decimal.RequireFromString(pct)
	l.AdminFeePct = &d
	return l
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	leases     *lease.MemoryStore
	mem        *store.Memory
	publisher  *recordingPublisher
	generator  *Generator
	reconciler *Reconciler
}

func newFixture(t *testing.T, leases ...*lease.Lease) *fixture {
	t.Helper()
	f := &fixture{
		leases:    lease.NewMemoryStore(leases...),
		mem:       store.NewMemory(),
		publisher: &recordingPublisher{},
	}

	var err error
	f.generator, err = NewGenerator(f.leases, f.mem.Invoices(), f.publisher, testConfig(), testLogger())
	require.NoError(t, err)
	f.reconciler, err = NewReconciler(f.mem, f.leases, f.publisher, testConfig(), testLogger())
	require.NoError(t, err)
	return f
}
