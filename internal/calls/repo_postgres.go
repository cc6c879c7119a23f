package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo persists call records in a call_records table.
// Transcript and metadata are stored as JSONB.
//
// Expected schema:
//
//	CREATE TABLE call_records (
//	    id               TEXT PRIMARY KEY,
//	    agent_id         TEXT NOT NULL,
//	    channel          TEXT NOT NULL,
//	    status           TEXT NOT NULL,
//	    started_at       TIMESTAMPTZ NOT NULL,
//	    duration_seconds INT,
//	    recording_key    TEXT,
//	    transcript       JSONB,
//	    call_summary     TEXT,
//	    end_reason       TEXT,
//	    ticket_resolved  TEXT,
//	    linked_ticket_id TEXT,
//	    metadata         JSONB,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX call_records_created_idx ON call_records (created_at DESC);
//	CREATE INDEX call_records_call_sid_idx ON call_records ((metadata->>'call_sid'));
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, agent_id, channel, status, started_at, duration_seconds,
recording_key, transcript, call_summary, end_reason, ticket_resolved,
linked_ticket_id, metadata, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, rec *CallRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("calls: id required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now

	transcript, metadata, err := marshalJSONFields(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO call_records (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.AgentID, rec.Channel, rec.Status, rec.StartedAt,
		nullableInt(rec.DurationSeconds), nullableString(rec.RecordingKey),
		transcript, nullableString(rec.CallSummary), nullableString(rec.EndReason),
		nullableString(string(rec.TicketResolved)), nullableString(rec.LinkedTicketID),
		metadata, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*CallRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *PostgresRepo) Update(ctx context.Context, rec *CallRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("calls: id required")
	}
	rec.UpdatedAt = time.Now().UTC()
	transcript, metadata, err := marshalJSONFields(rec)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_records SET
			agent_id = $2, channel = $3, status = $4, started_at = $5,
			duration_seconds = $6, recording_key = $7, transcript = $8,
			call_summary = $9, end_reason = $10, ticket_resolved = $11,
			linked_ticket_id = $12, metadata = $13, updated_at = $14
		WHERE id = $1`,
		rec.ID, rec.AgentID, rec.Channel, rec.Status, rec.StartedAt,
		nullableInt(rec.DurationSeconds), nullableString(rec.RecordingKey),
		transcript, nullableString(rec.CallSummary), nullableString(rec.EndReason),
		nullableString(string(rec.TicketResolved)), nullableString(rec.LinkedTicketID),
		metadata, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("calls: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM call_records ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *PostgresRepo) FindByCallSID(ctx context.Context, callSID string) (*CallRecord, error) {
	if callSID == "" {
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE metadata->>'call_sid' = $1 LIMIT 1`, callSID)
	return scanRecord(row)
}

func (r *PostgresRepo) FindLatestByToNumber(ctx context.Context, number string, requireNoRecording bool) (*CallRecord, error) {
	if number == "" {
		return nil, ErrNotFound
	}
	q := `SELECT ` + callColumns + ` FROM call_records
		WHERE channel = 'phone' AND metadata->>'to_number' = $1`
	if requireNoRecording {
		q += ` AND recording_key IS NULL`
	}
	q += ` ORDER BY started_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, q, number)
	return scanRecord(row)
}

func (r *PostgresRepo) ListMissingRecordings(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM call_records
		WHERE channel = 'phone' AND recording_key IS NULL
		ORDER BY started_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list missing recordings: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CallRecord, error) {
	var (
		rec            CallRecord
		duration       sql.NullInt64
		recordingKey   sql.NullString
		transcript     []byte
		callSummary    sql.NullString
		endReason      sql.NullString
		ticketResolved sql.NullString
		linkedTicketID sql.NullString
		metadata       []byte
	)
	err := row.Scan(
		&rec.ID, &rec.AgentID, &rec.Channel, &rec.Status, &rec.StartedAt,
		&duration, &recordingKey, &transcript, &callSummary, &endReason,
		&ticketResolved, &linkedTicketID, &metadata, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calls: scan: %w", err)
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationSeconds = &d
	}
	rec.RecordingKey = recordingKey.String
	rec.CallSummary = callSummary.String
	rec.EndReason = endReason.String
	rec.TicketResolved = TicketResolved(ticketResolved.String)
	rec.LinkedTicketID = linkedTicketID.String
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("calls: transcript json: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("calls: metadata json: %w", err)
		}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]CallRecord, error) {
	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func marshalJSONFields(rec *CallRecord) (transcript, metadata any, err error) {
	transcript, metadata = nil, nil
	if len(rec.Transcript) > 0 {
		b, err := json.Marshal(rec.Transcript)
		if err != nil {
			return nil, nil, fmt.Errorf("calls: transcript json: %w", err)
		}
		transcript = b
	}
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("calls: metadata json: %w", err)
		}
		metadata = b
	}
	return transcript, metadata, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
