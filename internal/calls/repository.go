package calls

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("calls: record not found")

// Repository abstracts call-record persistence.
//
// Concurrent writers to the same record are expected (webhooks, the polling
// sweep, manual triggers); implementations do not serialize them. Idempotency
// is the caller's job via check-then-skip guards on the enriched fields.
type Repository interface {
	Create(ctx context.Context, rec *CallRecord) error
	Get(ctx context.Context, id string) (*CallRecord, error)
	Update(ctx context.Context, rec *CallRecord) error

	// Delete removes a record. Used only administratively, e.g. when call
	// initiation fails before any provider acknowledgment.
	Delete(ctx context.Context, id string) error

	// List returns records newest-first, bounded by limit.
	List(ctx context.Context, limit int) ([]CallRecord, error)

	// FindByCallSID looks a record up by the provider call identifier in
	// metadata. Returns ErrNotFound when absent.
	FindByCallSID(ctx context.Context, callSID string) (*CallRecord, error)

	// FindLatestByToNumber returns the most recently started phone-channel
	// record dialed to number. When requireNoRecording is true, records that
	// already have a recording are excluded.
	FindLatestByToNumber(ctx context.Context, number string, requireNoRecording bool) (*CallRecord, error)

	// ListMissingRecordings returns up to limit phone-channel records with
	// no recording yet, oldest first. This feeds the polling sweep, which
	// reports records lacking a provider call SID instead of skipping them
	// silently.
	ListMissingRecordings(ctx context.Context, limit int) ([]CallRecord, error)
}
