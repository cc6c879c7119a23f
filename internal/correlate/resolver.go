// Package correlate maps normalized inbound call events to exactly one call
// record. The injected call-record identifier is authoritative when present;
// otherwise the dialed number is matched against the most recently started
// phone-channel record.
package correlate

import (
	"context"
	"errors"

	"voicedesk/internal/calls"
	"voicedesk/internal/event"
)

// ErrNoMatch is a soft failure: callers log it and acknowledge the event
// rather than propagating an error to the provider.
var ErrNoMatch = errors.New("correlate: no matching call record")

// Mode selects the phone-number fallback variant.
type Mode int

const (
	// ForRecording excludes records that already have a recording, so a
	// late audio event cannot attach to an already-satisfied call.
	ForRecording Mode = iota

	// ForTranscript matches regardless of recording state; transcripts
	// legitimately arrive after the recording is captured.
	ForTranscript
)

type Resolver struct {
	Calls calls.Repository
}

func NewResolver(repo calls.Repository) *Resolver { return &Resolver{Calls: repo} }

// Resolve returns the call record an event belongs to, or ErrNoMatch.
func (r *Resolver) Resolve(ctx context.Context, ev event.CallEvent, mode Mode) (*calls.CallRecord, error) {
	if ev.CallID != "" {
		rec, err := r.Calls.Get(ctx, ev.CallID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return nil, err
		}
		// An unknown explicit id falls through to the number heuristic:
		// providers occasionally echo stale dynamic variables.
	}

	if ev.CalledNumber != "" {
		rec, err := r.Calls.FindLatestByToNumber(ctx, ev.CalledNumber, mode == ForRecording)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNoMatch
}
