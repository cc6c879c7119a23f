package tickets

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is an in-memory ticket repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{tickets: map[string]Ticket{}} }

// Put seeds a ticket (test setup helper).
func (r *MemoryRepo) Put(t Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[t.ID] = t
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t
	return &out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, t *Ticket) error {
	if t == nil || t.ID == "" {
		return errors.New("tickets: id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	r.tickets[t.ID] = *t
	return nil
}
