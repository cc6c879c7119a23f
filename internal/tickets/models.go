package tickets

import (
	"context"
	"errors"
	"time"
)

// Ticket is the external support ticket/feedback entity a call may be linked
// to. The pipeline's only write to it is the auto-resolution side effect
// fired when outcome extraction reports the ticket resolved.
type Ticket struct {
	ID     string       `json:"id" db:"id"`
	Text   string       `json:"text" db:"text"`
	Status TicketStatus `json:"status" db:"status"`

	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionNote string     `json:"resolution_note,omitempty" db:"resolution_note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
)

var ErrNotFound = errors.New("tickets: not found")

type Repository interface {
	Get(ctx context.Context, id string) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
}
