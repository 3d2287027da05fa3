// Package billing generates rent invoices and reconciles provider payments
// into paid invoices and owner payouts.
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rentbilling/internal/billing/domain"
)

// Config holds billing engine configuration
type Config struct {
	TimeZone          string          `envconfig:"BILLING_TIMEZONE" default:"America/Sao_Paulo"`
	Concurrency       int             `envconfig:"GENERATOR_CONCURRENCY" default:"8"`
	DownstreamTimeout time.Duration   `envconfig:"DOWNSTREAM_TIMEOUT" default:"5s"`
	DefaultFeePct     decimal.Decimal `envconfig:"DEFAULT_ADMIN_FEE_PCT" default:"10"`
	AmountTolerance   decimal.Decimal `envconfig:"RECONCILE_AMOUNT_TOLERANCE" default:"0.00"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		TimeZone:          "America/Sao_Paulo",
		Concurrency:       8,
		DownstreamTimeout: 5 * time.Second,
		DefaultFeePct:     domain.DefaultAdminFeePct,
		AmountTolerance:   decimal.Zero,
	}
}

// Location resolves TimeZone. An empty zone means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading billing time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("generator concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.DownstreamTimeout <= 0 {
		return fmt.Errorf("downstream timeout must be positive, got %s", c.DownstreamTimeout)
	}
	if c.DefaultFeePct.IsNegative() || c.DefaultFeePct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("default admin fee %s%% out of range", c.DefaultFeePct)
	}
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance must not be negative, got %s", c.AmountTolerance)
	}
	return nil
}
