package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbilling/internal/billing"
)

func TestParseAsOf(t *testing.T) {
	cfg := billing.DefaultConfig()
	now := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

	got, err := parseAsOf("", cfg, now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	got, err = parseAsOf("2026-11-01", cfg, now)
	require.NoError(t, err)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.November, 1, 12, 0, 0, 0, loc), got)
	assert.Equal(t, time.November, got.UTC().Month())

	_, err = parseAsOf("01/11/2026", cfg, now)
	assert.Error(t, err)
}

func TestMigrateCmd_RejectsUnknownDirection(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "sideways"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")
}

func TestGenerateCmd_RejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"generate", "extra"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}
