package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/events"
	"rentbilling/internal/common/metrics"
	"rentbilling/internal/lease"
)

// Generator creates the current period's invoice for every active lease that
// does not have one yet.
type Generator struct {
	leases   lease.Reader
	invoices domain.InvoiceStore
	events   eventSink
	cfg      Config
	loc      *time.Location
	logger   *slog.Logger
	newID    func() string
}

// NewGenerator creates a new invoice generator. publisher may be nil.
func NewGenerator(leases lease.Reader, invoices domain.InvoiceStore, publisher events.Publisher, cfg Config, logger *slog.Logger) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &Generator{
		leases:   leases,
		invoices: invoices,
		events:   eventSink{publisher: publisher, logger: logger},
		cfg:      cfg,
		loc:      loc,
		logger:   logger,
		newID:    func() string { return ulid.Make().String() },
	}, nil
}

// LeaseFailure records why one lease's invoice could not be created.
type LeaseFailure struct {
	LeaseID string `json:"lease_id"`
	Error   string `json:"error"`
}

// GenerationSummary is the result of one generation run.
type GenerationSummary struct {
	Period   string            `json:"period"`
	AsOf     time.Time         `json:"as_of"`
	Created  int               `json:"created"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Invoices []*domain.Invoice `json:"invoices"`
	Failures []LeaseFailure    `json:"failures,omitempty"`
}

// GenerateMissingInvoices creates the invoices of the period containing asOf
// (in the billing time zone). Leases that already have a live invoice for the
// period are skipped, so running it repeatedly creates nothing new.
//
// An error is returned only when the run could not start: the lease snapshot
// or the existing invoices could not be read. Per-lease failures are reported
// in the summary and never stop the other leases.
func (g *Generator) GenerateMissingInvoices(ctx context.Context, asOf time.Time) (*GenerationSummary, error) {
	start := time.Now()
	summary, err := g.generate(ctx, asOf.In(g.loc))

	if err != nil {
		metrics.ObserveGeneration(metrics.ResultError, 0, 0, 0, time.Since(start))
		g.logger.Error("invoice generation failed", "as_of", asOf, "error", err)
		return nil, err
	}

	metrics.ObserveGeneration(metrics.ResultSuccess, summary.Created, summary.Skipped, summary.Failed, time.Since(start))
	g.logger.Info("invoice generation completed",
		"period", summary.Period,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary, nil
}

func (g *Generator) generate(ctx context.Context, asOf time.Time) (*GenerationSummary, error) {
	period := domain.PeriodOf(asOf)
	summary := &GenerationSummary{
		Period:   period.String(),
		AsOf:     asOf,
		Invoices: []*domain.Invoice{},
	}

	active, err := g.listActive(ctx)
	if err != nil {
		return nil, err
	}

	covered, err := g.coveredLeases(ctx, period)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)

	for _, l := range active {
		if covered[l.ID] {
			summary.Skipped++
			continue
		}

		l := l
		eg.Go(func() error {
			inv, err := g.createInvoice(ctx, l, asOf)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Created++
				summary.Invoices = append(summary.Invoices, inv)
			case errors.Is(err, domain.ErrInvoiceExists):
				// another run created it concurrently
				summary.Skipped++
			default:
				summary.Failed++
				summary.Failures = append(summary.Failures, LeaseFailure{LeaseID: l.ID, Error: err.Error()})
				g.logger.Error("failed to create invoice",
					"lease_id", l.ID,
					"period", summary.Period,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(summary.Invoices, func(i, j int) bool { return summary.Invoices[i].LeaseID < summary.Invoices[j].LeaseID })
	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].LeaseID < summary.Failures[j].LeaseID })

	for _, inv := range summary.Invoices {
		g.events.invoiceGenerated(ctx, inv)
	}

	return summary, nil
}

func (g *Generator) listActive(ctx context.Context) ([]*lease.Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.DownstreamTimeout)
	defer cancel()

	leases, err := g.leases.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing active leases: %w", domain.ErrUpstreamUnavailable, err)
	}
	return leases, nil
}

// coveredLeases returns the ids of leases that already have a live invoice
// for period.
func (g *Generator) coveredLeases(ctx context.Context, period domain.Period) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.DownstreamTimeout)
	defer cancel()

	existing, err := g.invoices.ListByPeriod(ctx, period)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			return nil, fmt.Errorf("listing invoices for %s: %w", period, err)
		}
		return nil, fmt.Errorf("%w: listing invoices for %s: %w", domain.ErrUpstreamUnavailable, period, err)
	}

	covered := make(map[string]bool, len(existing))
	for _, inv := range existing {
		if inv.IsLive() {
			covered[inv.LeaseID] = true
		}
	}
	return covered, nil
}

func (g *Generator) createInvoice(ctx context.Context, l *lease.Lease, asOf time.Time) (*domain.Invoice, error) {
	inv, err := domain.NewInvoice(g.newID(), domain.ChargeTerms{
		LeaseID:    l.ID,
		TenantID:   l.TenantID,
		PropertyID: l.PropertyID,
		DueDay:     l.DueDay,
		Rent:       l.Rent,
		Condo:      l.Condo,
		IPTU:       l.IPTU,
		Extras:     l.Extras,
	}, asOf)
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", l.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.DownstreamTimeout)
	defer cancel()

	if err := g.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
