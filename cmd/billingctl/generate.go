package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rentbilling/internal/billing"
	"rentbilling/internal/billing/store"
	"rentbilling/internal/common/database"
	"rentbilling/internal/lease"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create missing invoices for the current billing period",
		Long: `Creates one invoice per active lease for the billing period containing
--as-of (default: now, in BILLING_TIMEZONE). Leases that already have an
invoice for the period are skipped, so the command is safe to re-run.

Events are not published from the CLI.`,
		Example: `  # Generate for the current month
  billingctl generate

  # Generate October 2026 as if run on the 1st
  billingctl generate --as-of 2026-10-01`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}

	cmd.Flags().String("as-of", "", "Run date (format: YYYY-MM-DD, default: now)")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	asOfStr, _ := cmd.Flags().GetString("as-of")
	asOf, err := parseAsOf(asOfStr, cfg.Billing, time.Now())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	generator, err := billing.NewGenerator(lease.NewPostgresStore(db), store.NewPostgresInvoiceStore(db), nil, cfg.Billing, logger)
	if err != nil {
		return err
	}

	summary, err := generator.GenerateMissingInvoices(ctx, asOf)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d leases failed", summary.Failed, summary.Created+summary.Skipped+summary.Failed)
	}
	return nil
}

// parseAsOf reads a YYYY-MM-DD date as noon in the billing time zone, so the
// period does not shift when the zone is converted. An empty string is now.
func parseAsOf(s string, cfg billing.Config, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q, use YYYY-MM-DD: %w", s, err)
	}
	return t.Add(12 * time.Hour), nil
}
