package enrich

import (
	"context"
	"errors"

	"voicedesk/internal/calls"
)

// Stage precondition errors. Callers use these to distinguish "not yet
// runnable" from upstream-service failure.
var (
	ErrCallNotFound = errors.New("enrich: call record not found")
	ErrNoRecording  = errors.New("enrich: no recording available")
	ErrNoTranscript = errors.New("enrich: no transcript available")
	ErrNoSummary    = errors.New("enrich: no call summary available")
)

// Transcriber converts a complete audio recording into ordered segments.
// It provides no speaker labels; diarized transcripts only arrive via the
// provider's transcription webhook.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) ([]Segment, error)
}

// Segment is one transcribed span of audio.
type Segment struct {
	StartSeconds float64
	Text         string
}

// Summarizer turns a speaker-labeled transcript into a short natural-language
// call summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []calls.TranscriptEntry) (string, error)
}

// OutcomeExtractor reads a call summary and reports how the call ended and
// whether the ticket was resolved. Both fields are always populated by the
// contract; EndReason comes back as "Unknown" when the summary gives no hint.
type OutcomeExtractor interface {
	ExtractOutcome(ctx context.Context, summary string) (Outcome, error)
}

type Outcome struct {
	EndReason      string               `json:"end_reason"`
	TicketResolved calls.TicketResolved `json:"ticket_resolved"`
}
