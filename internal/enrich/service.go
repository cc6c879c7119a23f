// Package enrich runs the transcript -> summary -> outcome chain over call
// records. Every stage is independently triggerable and guarded: if its
// output already exists, re-invocation is a no-op. Failures leave the record
// partially enriched and recoverable by a later manual trigger or sweep.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicedesk/internal/blob"
	"voicedesk/internal/calls"
	"voicedesk/internal/tickets"
)

type Service struct {
	Calls   calls.Repository
	Tickets tickets.Repository
	Blobs   blob.Store

	Transcriber Transcriber
	Summarizer  Summarizer
	Extractor   OutcomeExtractor

	Log *slog.Logger
}

func NewService(repo calls.Repository, ticketRepo tickets.Repository, blobs blob.Store,
	tr Transcriber, sum Summarizer, ex OutcomeExtractor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Calls: repo, Tickets: ticketRepo, Blobs: blobs,
		Transcriber: tr, Summarizer: sum, Extractor: ex,
		Log: log,
	}
}

/* ===================== TRANSCRIPT STAGE ===================== */

// GenerateTranscript derives a transcript from the stored recording.
// Guard: an existing transcript is returned as-is; the derived fallback never
// replaces one already supplied by the transcription webhook, which carries
// real speaker labels. All derived segments are attributed to the agent.
func (s *Service) GenerateTranscript(ctx context.Context, callID string) ([]calls.TranscriptEntry, error) {
	rec, err := s.Calls.Get(ctx, callID)
	if err != nil {
		return nil, ErrCallNotFound
	}
	if rec.HasTranscript() {
		return rec.Transcript, nil
	}
	if !rec.HasRecording() {
		return nil, ErrNoRecording
	}

	audio, err := s.Blobs.Get(ctx, rec.RecordingKey)
	if err != nil {
		return nil, fmt.Errorf("enrich: load recording: %w", err)
	}
	segments, err := s.Transcriber.Transcribe(ctx, audio, contentTypeForKey(rec.RecordingKey))
	if err != nil {
		return nil, fmt.Errorf("enrich: transcription service: %w", err)
	}

	transcript := make([]calls.TranscriptEntry, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		transcript = append(transcript, calls.TranscriptEntry{
			Speaker: calls.SpeakerAgent,
			Text:    text,
			Time:    calls.FormatOffset(seg.StartSeconds),
		})
	}

	rec.Transcript = transcript
	if err := s.Calls.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.Log.Info("transcript generated from recording", "call_id", callID, "segments", len(transcript))
	return transcript, nil
}

// ApplyEventTranscript attaches a webhook-supplied transcript to rec.
// Write-once: a record that already has a transcript is left untouched.
// The record is mutated only; the caller persists alongside its other edits.
func (s *Service) ApplyEventTranscript(rec *calls.CallRecord, entries []calls.TranscriptEntry) bool {
	if len(entries) == 0 || rec.HasTranscript() {
		return false
	}
	rec.Transcript = entries
	return true
}

/* ===================== SUMMARY STAGE ===================== */

// AutoSummarize generates a summary only when none exists yet. This is the
// trigger the pipeline fires after the transcript stage; running the
// transcript stage twice still yields exactly one summary generation.
func (s *Service) AutoSummarize(ctx context.Context, callID string) (string, error) {
	rec, err := s.Calls.Get(ctx, callID)
	if err != nil {
		return "", ErrCallNotFound
	}
	if strings.TrimSpace(rec.CallSummary) != "" {
		return rec.CallSummary, nil
	}
	return s.summarize(ctx, rec)
}

// Summarize is the manual trigger: it always regenerates, overwriting any
// prior summary.
func (s *Service) Summarize(ctx context.Context, callID string) (string, error) {
	rec, err := s.Calls.Get(ctx, callID)
	if err != nil {
		return "", ErrCallNotFound
	}
	return s.summarize(ctx, rec)
}

func (s *Service) summarize(ctx context.Context, rec *calls.CallRecord) (string, error) {
	if !rec.HasTranscript() {
		return "", ErrNoTranscript
	}
	summary, err := s.Summarizer.Summarize(ctx, rec.Transcript)
	if err != nil {
		return "", fmt.Errorf("enrich: summarization service: %w", err)
	}
	rec.CallSummary = summary
	if err := s.Calls.Update(ctx, rec); err != nil {
		return "", err
	}
	s.Log.Info("call summary saved", "call_id", rec.ID)
	return summary, nil
}

/* ===================== OUTCOME STAGE ===================== */

// OutcomeResult is what the outcome stage reports back to its caller.
type OutcomeResult struct {
	Outcome

	// TicketResolvedFired is true when this invocation actually flipped the
	// linked ticket to resolved (as opposed to finding it already resolved).
	TicketResolvedFired bool
}

// ExtractOutcome runs outcome extraction on the call summary. When persist is
// false the result is returned without touching the record (preview mode).
// A ticketResolved=yes verdict resolves the linked ticket at most once: the
// ticket's status is re-checked immediately before mutating it.
func (s *Service) ExtractOutcome(ctx context.Context, callID string, persist bool) (OutcomeResult, error) {
	rec, err := s.Calls.Get(ctx, callID)
	if err != nil {
		return OutcomeResult{}, ErrCallNotFound
	}
	summary := strings.TrimSpace(rec.CallSummary)
	if summary == "" {
		return OutcomeResult{}, ErrNoSummary
	}

	raw, err := s.Extractor.ExtractOutcome(ctx, summary)
	if err != nil {
		return OutcomeResult{}, fmt.Errorf("enrich: outcome service: %w", err)
	}
	out := normalizeOutcome(raw)

	if persist && (out.EndReason != "" || out.TicketResolved != "") {
		if out.EndReason != "" {
			rec.EndReason = out.EndReason
		}
		if out.TicketResolved != "" {
			rec.TicketResolved = out.TicketResolved
		}
		if err := s.Calls.Update(ctx, rec); err != nil {
			return OutcomeResult{}, err
		}
		s.Log.Info("call outcome saved", "call_id", callID,
			"end_reason", rec.EndReason, "ticket_resolved", rec.TicketResolved)
	}

	result := OutcomeResult{Outcome: out}
	if out.TicketResolved == calls.TicketResolvedYes && rec.LinkedTicketID != "" {
		result.TicketResolvedFired = s.resolveLinkedTicket(ctx, rec)
	}
	return result, nil
}

// normalizeOutcome maps the extraction service's "no discernible reason"
// sentinels to an empty reason and drops verdicts outside yes/no.
func normalizeOutcome(raw Outcome) Outcome {
	out := Outcome{}
	reason := strings.TrimSpace(raw.EndReason)
	switch strings.ToLower(reason) {
	case "", "unknown", "unset":
	default:
		out.EndReason = reason
	}
	switch calls.TicketResolved(strings.ToLower(strings.TrimSpace(string(raw.TicketResolved)))) {
	case calls.TicketResolvedYes:
		out.TicketResolved = calls.TicketResolvedYes
	case calls.TicketResolvedNo:
		out.TicketResolved = calls.TicketResolvedNo
	}
	return out
}

func (s *Service) resolveLinkedTicket(ctx context.Context, rec *calls.CallRecord) bool {
	ticket, err := s.Tickets.Get(ctx, rec.LinkedTicketID)
	if err != nil {
		s.Log.Warn("linked ticket lookup failed", "call_id", rec.ID, "ticket_id", rec.LinkedTicketID, "err", err)
		return false
	}
	// Re-check immediately before mutating: a concurrent extraction (or a
	// human) may have resolved the ticket since the record was loaded.
	if ticket.Status == tickets.StatusResolved {
		return false
	}
	now := time.Now().UTC()
	ticket.Status = tickets.StatusResolved
	ticket.ResolvedAt = &now
	if ticket.ResolutionNote == "" {
		ticket.ResolutionNote = fmt.Sprintf("Auto-resolved: voice agent call confirmed ticket resolved (call %s)", rec.ID)
	}
	if err := s.Tickets.Update(ctx, ticket); err != nil {
		s.Log.Warn("linked ticket resolve failed", "call_id", rec.ID, "ticket_id", ticket.ID, "err", err)
		return false
	}
	s.Log.Info("linked ticket auto-resolved", "call_id", rec.ID, "ticket_id", ticket.ID)
	return true
}

/* ===================== CHAIN ===================== */

// RunPostRecordingChain runs transcript -> auto-summary -> outcome after a
// recording lands. Intended for background dispatch; each stage failure is
// logged and ends the chain without affecting the result already reported to
// the producer that triggered it.
func (s *Service) RunPostRecordingChain(ctx context.Context, callID string) {
	transcript, err := s.GenerateTranscript(ctx, callID)
	if err != nil {
		s.Log.Warn("background transcript failed", "call_id", callID, "err", err)
		return
	}
	if len(transcript) == 0 {
		return
	}
	if _, err := s.AutoSummarize(ctx, callID); err != nil {
		s.Log.Warn("background auto-summary failed", "call_id", callID, "err", err)
		return
	}

	// Outcome auto-trigger is guarded like the other stages: skip when a
	// verdict is already recorded.
	rec, err := s.Calls.Get(ctx, callID)
	if err != nil || rec.EndReason != "" || rec.TicketResolved != "" {
		return
	}
	if _, err := s.ExtractOutcome(ctx, callID, true); err != nil {
		s.Log.Warn("background outcome extraction failed", "call_id", callID, "err", err)
	}
}

func contentTypeForKey(key string) string {
	if strings.HasSuffix(key, ".wav") {
		return "audio/wav"
	}
	return "audio/mpeg"
}
