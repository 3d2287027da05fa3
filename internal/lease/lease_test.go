package lease

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/common/money"
)

func TestMemoryStore_ListActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(
		&Lease{ID: "l-2", Rent: money.MustParse("900.00", money.BRL), Status: StatusActive},
		&Lease{ID: "l-1", Rent: money.MustParse("1200.00", money.BRL), Status: StatusActive},
		&Lease{ID: "l-3", Status: StatusTerminated},
	)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "l-1", active[0].ID)
	assert.Equal(t, "l-2", active[1].ID)

	// callers get copies
	active[0].Rent = money.Zero(money.BRL)
	got, err := s.Get(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("1200.00", money.BRL), got.Rent)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s.SetErr(errors.New("contract service down"))
	_, err = s.ListActive(ctx)
	assert.Error(t, err)
}

func TestLease_FeePct(t *testing.T) {
	fallback := decimal.NewFromInt(10)
	l := &Lease{}
	assert.True(t, l.FeePct(fallback).Equal(fallback))

	pct := decimal.RequireFromString("8.5")
	l.AdminFeePct = &pct
	assert.Equal(t, "8.5", l.FeePct(fallback).String())
}
