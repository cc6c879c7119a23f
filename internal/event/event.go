// Package event normalizes the loosely-typed JSON payloads delivered by the
// conversational-voice provider's webhooks into one typed value. Providers
// are inconsistent about field names and nesting (top-level vs. a "data"
// envelope), so each logical field is extracted through an ordered alias
// table; the first non-empty match wins. Downstream code only ever sees the
// normalized CallEvent.
package event

import "voicedesk/internal/calls"

// CallEvent is the normalized inbound call event.
type CallEvent struct {
	// CallID is the call-record identifier this system injected into the
	// provider's dynamic variables at call start, when echoed back.
	CallID string

	// CalledNumber is the destination phone number, when present.
	CalledNumber string

	// AudioBase64 is the inline base64 recording from post-call audio events.
	AudioBase64 string

	// DurationSeconds is nil when the payload carries no call duration.
	DurationSeconds *int

	// Transcript is the diarized message list from transcription events,
	// already normalized to the canonical shape. Empty utterances are dropped.
	Transcript []calls.TranscriptEntry

	// Summary is a provider-computed call summary, when supplied.
	Summary string
}

// HasAudio reports whether the payload carried inline audio.
func (e CallEvent) HasAudio() bool { return e.AudioBase64 != "" }
