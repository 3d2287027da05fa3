// Package audit keeps an append-only log of every authenticated webhook
// delivery, written before any business state changes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the processing status of a delivery
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusProcessed Status = "PROCESSED"
	StatusError     Status = "ERROR"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessed, StatusError:
		return true
	}
	return false
}

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("audit record not found")

// Record is one webhook delivery. Payload is stored exactly as received and
// never changes; only Status, Outcome and ProcessedAt are updated.
type Record struct {
	ID          string          `json:"id"`
	Provider    string          `json:"provider"`
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id,omitempty"`
	PaymentID   string          `json:"payment_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Outcome     string          `json:"outcome,omitempty"`
	ReplayOf    string          `json:"replay_of,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Filter selects records for List. Zero fields match everything.
type Filter struct {
	Status    Status
	PaymentID string
	Limit     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Log is the webhook audit log.
type Log interface {
	// Record appends rec with status RECEIVED and returns its id. An empty
	// ID or ReceivedAt is filled in.
	Record(ctx context.Context, rec *Record) (string, error)
	// MarkProcessed sets the final status and outcome of a record.
	MarkProcessed(ctx context.Context, id string, status Status, outcome string) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns matching records, newest first.
	List(ctx context.Context, filter Filter) ([]*Record, error)
}
