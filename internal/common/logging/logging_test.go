package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "invoice_id", "inv-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "inv-1", line["invoice_id"])
}

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, New(Config{Level: "DEBUG"}, &bytes.Buffer{}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, New(Config{Level: "bogus"}, &bytes.Buffer{}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, New(Config{Level: "error"}, &bytes.Buffer{}).Enabled(ctx, slog.LevelWarn))
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "text"}, &buf).Info("hello", "period", "10/2026")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "period=10/2026")
}
