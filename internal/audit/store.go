package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"rentbilling/internal/common/database"
)

// PostgresStore implements Log with PostgreSQL.
type PostgresStore struct {
	db database.Querier
}

var _ Log = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL audit log.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	id, provider, event_type, event_id, payment_id, payload,
	status, outcome, replay_of, received_at, processed_at
`

// Record inserts a new audit record.
func (s *PostgresStore) Record(ctx context.Context, rec *Record) (string, error) {
	prepare(rec)

	query := `
		INSERT INTO webhook_audit_log (
			id, provider, event_type, event_id, payment_id, payload,
			status, replay_of, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.Provider,
		rec.EventType,
		nullableString(rec.EventID),
		nullableString(rec.PaymentID),
		[]byte(rec.Payload),
		rec.Status,
		nullableString(rec.ReplayOf),
		rec.ReceivedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit record: %w", err)
	}

	return rec.ID, nil
}

// MarkProcessed updates the status and outcome of a record.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id string, status Status, outcome string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid audit status %q", status)
	}

	query := `
		UPDATE webhook_audit_log
		SET status = $2, outcome = $3, processed_at = $4
		WHERE id = $1
	`

	result, err := s.db.Exec(ctx, query, id, status, nullableString(outcome), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update audit record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// Get retrieves a record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM webhook_audit_log WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}

// List returns records matching filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PaymentID != "" {
		args = append(args, filter.PaymentID)
		where = append(where, fmt.Sprintf("payment_id = $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM webhook_audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY received_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var eventID, paymentID, outcome, replayOf *string
	var payload []byte

	err := row.Scan(
		&rec.ID,
		&rec.Provider,
		&rec.EventType,
		&eventID,
		&paymentID,
		&payload,
		&rec.Status,
		&outcome,
		&replayOf,
		&rec.ReceivedAt,
		&rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	rec.Payload = json.RawMessage(payload)
	rec.EventID = deref(eventID)
	rec.PaymentID = deref(paymentID)
	rec.Outcome = deref(outcome)
	rec.ReplayOf = deref(replayOf)
	return &rec, nil
}

// prepare fills the fields a new record gets by default.
func prepare(rec *Record) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage("null")
	}
	rec.Status = StatusReceived
	rec.Outcome = ""
	rec.ProcessedAt = nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
