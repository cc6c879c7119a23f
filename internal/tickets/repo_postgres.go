package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo reads and updates tickets in a tickets table owned by the
// feedback subsystem. This pipeline only needs Get and Update.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Ticket, error) {
	var (
		t          Ticket
		resolvedAt sql.NullTime
		note       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, text, status, resolved_at, resolution_note, created_at, updated_at
		FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.Text, &t.Status, &resolvedAt, &note, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tickets: get: %w", err)
	}
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		t.ResolvedAt = &ts
	}
	t.ResolutionNote = note.String
	return &t, nil
}

func (r *PostgresRepo) Update(ctx context.Context, t *Ticket) error {
	if t == nil || t.ID == "" {
		return errors.New("tickets: id required")
	}
	t.UpdatedAt = time.Now().UTC()
	var resolvedAt any
	if t.ResolvedAt != nil {
		resolvedAt = *t.ResolvedAt
	}
	var note any
	if t.ResolutionNote != "" {
		note = t.ResolutionNote
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = $2, resolved_at = $3, resolution_note = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, t.Status, resolvedAt, note, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tickets: update: %w", err)
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
