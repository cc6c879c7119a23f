package calls

import (
	"fmt"
	"time"
)

// CallRecord is the per-call entity tracked through the recording and
// enrichment pipeline. One record exists per logical call/session.
//
// Field-level write discipline (see the enrichment services):
// - RecordingKey, once set, is only ever re-set to the same deterministic
//   key for this ID, so re-acquisition is a no-op in effect.
// - Transcript is written at most once by the automated pipeline.
// - CallSummary is auto-generated at most once; manual regeneration overwrites.

type CallRecord struct {
	ID      string  `json:"id" db:"id"`
	AgentID string  `json:"agent_id" db:"agent_id"`
	Channel Channel `json:"channel" db:"channel"`

	Status    CallStatus `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`

	// DurationSeconds is nil until a provider event or patch supplies it.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	// RecordingKey is the blob-store object key once a recording is captured
	// (e.g. recordings/{id}.mp3). Empty means no recording yet.
	RecordingKey string `json:"recording_key,omitempty" db:"recording_key"`

	Transcript  []TranscriptEntry `json:"transcript,omitempty" db:"transcript"`
	CallSummary string            `json:"call_summary,omitempty" db:"call_summary"`

	EndReason      string         `json:"end_reason,omitempty" db:"end_reason"`
	TicketResolved TicketResolved `json:"ticket_resolved,omitempty" db:"ticket_resolved"`

	// LinkedTicketID references the external ticket/feedback entity this
	// call is about, when known.
	LinkedTicketID string `json:"linked_ticket_id,omitempty" db:"linked_ticket_id"`

	// Metadata holds provider correlation keys (call SID, dialed number, ...).
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelPhone Channel = "phone"
)

type CallStatus string

const (
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"

	// Reserved administrative states; the pipeline never transitions into
	// them on its own. Settable only via PATCH.
	CallStatusNoResponse CallStatus = "no_response"
	CallStatusUnknown    CallStatus = "unknown"
)

// TicketResolved is the outcome-extraction verdict. Empty means not yet known.
type TicketResolved string

const (
	TicketResolvedYes TicketResolved = "yes"
	TicketResolvedNo  TicketResolved = "no"
)

// TranscriptEntry is one utterance of the canonical transcript shape.
// Time is a "MM:SS" offset from call start.
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Time    string  `json:"time"`
}

type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

// Metadata keys for provider correlation.
const (
	MetaCallSID  = "call_sid"
	MetaToNumber = "to_number"
)

// CallSID returns the telephony provider call identifier stored at
// call-initiation time, if any.
func (r *CallRecord) CallSID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[MetaCallSID]
}

// HasRecording reports whether a recording has been captured for this call.
func (r *CallRecord) HasRecording() bool { return r.RecordingKey != "" }

// HasTranscript reports whether the transcript stage has produced output.
func (r *CallRecord) HasTranscript() bool { return len(r.Transcript) > 0 }

// SetMeta sets a metadata key, allocating the map on first use.
func (r *CallRecord) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = map[string]string{}
	}
	r.Metadata[key] = value
}

// RecordingKeyFor derives the deterministic blob-store key for a call's
// recording. Deriving the key solely from the call ID is what makes
// re-acquisition idempotent at the storage layer.
func RecordingKeyFor(callID, ext string) string {
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("recordings/%s.%s", callID, ext)
}

// FormatOffset renders a segment start offset in seconds as "MM:SS".
// Negative or non-finite inputs yield an empty string.
func FormatOffset(seconds float64) string {
	if seconds < 0 || seconds != seconds {
		return ""
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
