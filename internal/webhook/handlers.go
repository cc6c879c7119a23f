// Package webhook exposes the unauthenticated provider-facing endpoints.
// The voice-agent endpoints follow a soft-failure contract: the provider is
// always acknowledged with 200 and a {ok, reason} body, because retrying a
// malformed or unmatchable event can never succeed. Only genuine internal
// failures (storage, database) surface as 500 so the provider retries.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"voicedesk/internal/calls"
	"voicedesk/internal/correlate"
	"voicedesk/internal/enrich"
	"voicedesk/internal/event"
	"voicedesk/internal/recording"
	"voicedesk/pkg/metrics"
)

type Handler struct {
	Calls      calls.Repository
	Resolver   *correlate.Resolver
	Recordings *recording.Service
	Enrich     *enrich.Service
	Dispatch   *enrich.Dispatcher
	Metrics    *metrics.Metrics
	Log        *slog.Logger
}

func NewHandler(repo calls.Repository, resolver *correlate.Resolver, recordings *recording.Service,
	enricher *enrich.Service, dispatch *enrich.Dispatcher, m *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Calls: repo, Resolver: resolver, Recordings: recordings,
		Enrich: enricher, Dispatch: dispatch, Metrics: m, Log: log,
	}
}

// Register mounts the webhook routes. These stay outside the authenticated
// API group; providers sign nothing beyond what the payload itself carries.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/voice/post-call", h.PostCall)
	r.POST("/webhooks/voice/post-call-transcription", h.PostCallTranscription)
	r.POST("/webhooks/twilio/recording-status", h.TwilioRecordingStatus)
}

func (h *Handler) ack(c *gin.Context, endpoint, reason string) {
	h.Metrics.WebhookEvents.WithLabelValues(endpoint, reason).Inc()
	if reason == "ok" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": false, "reason": reason})
}

func (h *Handler) internalError(c *gin.Context, endpoint string, err error) {
	h.Metrics.WebhookEvents.WithLabelValues(endpoint, "error").Inc()
	h.Log.Error("webhook processing failed", "endpoint", endpoint, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "internal_error"})
}

// PostCall handles the end-of-call event carrying inline base64 audio.
func (h *Handler) PostCall(c *gin.Context) {
	const endpoint = "post_call"

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.ack(c, endpoint, "invalid_payload")
		return
	}
	ev := event.Parse(payload)
	if !ev.HasAudio() {
		h.ack(c, endpoint, "no_audio")
		return
	}

	rec, err := h.Resolver.Resolve(c.Request.Context(), ev, correlate.ForRecording)
	if err != nil {
		if errors.Is(err, correlate.ErrNoMatch) {
			h.ack(c, endpoint, "no_call")
			return
		}
		h.internalError(c, endpoint, err)
		return
	}

	if _, err := h.Recordings.AttachInline(c.Request.Context(), rec, ev.AudioBase64, ev.DurationSeconds); err != nil {
		// Undecodable audio is as unretryable as absent audio; both get the
		// soft acknowledgement so the provider does not resend the event.
		if errors.Is(err, recording.ErrEmptyAudio) || errors.Is(err, recording.ErrBadAudio) {
			h.ack(c, endpoint, "empty_audio")
			return
		}
		h.internalError(c, endpoint, err)
		return
	}
	h.Metrics.RecordingsSaved.WithLabelValues("webhook_inline").Inc()

	// The same event sometimes carries the transcript and summary; take them
	// now so the background chain has less to do.
	if h.applyEnrichment(rec, ev) {
		if err := h.Calls.Update(c.Request.Context(), rec); err != nil {
			h.internalError(c, endpoint, err)
			return
		}
	}

	id := rec.ID
	h.Dispatch.Submit("post-call-chain", func(ctx context.Context) {
		h.Enrich.RunPostRecordingChain(ctx, id)
	})
	h.ack(c, endpoint, "ok")
}

// PostCallTranscription handles the transcription event, which may arrive
// before or after the recording.
func (h *Handler) PostCallTranscription(c *gin.Context) {
	const endpoint = "post_call_transcription"

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.ack(c, endpoint, "invalid_payload")
		return
	}
	ev := event.Parse(payload)

	rec, err := h.Resolver.Resolve(c.Request.Context(), ev, correlate.ForTranscript)
	if err != nil {
		if errors.Is(err, correlate.ErrNoMatch) {
			h.ack(c, endpoint, "no_call")
			return
		}
		h.internalError(c, endpoint, err)
		return
	}

	if h.applyEnrichment(rec, ev) {
		if err := h.Calls.Update(c.Request.Context(), rec); err != nil {
			h.internalError(c, endpoint, err)
			return
		}
	}

	// Summary and outcome may still be missing; the chain's guards make the
	// continuation safe to fire unconditionally when a transcript exists.
	if rec.HasTranscript() {
		id := rec.ID
		h.Dispatch.Submit("transcription-chain", func(ctx context.Context) {
			h.Enrich.RunPostRecordingChain(ctx, id)
		})
	}
	h.ack(c, endpoint, "ok")
}

// applyEnrichment copies transcript, summary and duration from the event
// onto the record. Returns true when the record changed and needs persisting.
func (h *Handler) applyEnrichment(rec *calls.CallRecord, ev event.CallEvent) bool {
	changed := h.Enrich.ApplyEventTranscript(rec, ev.Transcript)
	if ev.Summary != "" && rec.CallSummary == "" {
		rec.CallSummary = ev.Summary
		changed = true
	}
	if ev.DurationSeconds != nil && rec.DurationSeconds == nil {
		rec.DurationSeconds = ev.DurationSeconds
		changed = true
	}
	return changed
}

// TwilioRecordingStatus handles the recording status callback registered when
// a live recording is started. Unlike the voice-agent endpoints this one uses
// real HTTP status codes; Twilio retries non-2xx.
func (h *Handler) TwilioRecordingStatus(c *gin.Context) {
	const endpoint = "recording_status"

	callSID := c.PostForm("CallSid")
	recordingSID := c.PostForm("RecordingSid")
	status := c.PostForm("RecordingStatus")

	if callSID == "" || recordingSID == "" {
		h.Metrics.WebhookEvents.WithLabelValues(endpoint, "invalid_payload").Inc()
		c.String(http.StatusBadRequest, "missing CallSid or RecordingSid")
		return
	}
	if status != "completed" {
		h.Metrics.WebhookEvents.WithLabelValues(endpoint, "ignored").Inc()
		c.String(http.StatusOK, "OK")
		return
	}

	rec, err := h.Calls.FindByCallSID(c.Request.Context(), callSID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			h.Metrics.WebhookEvents.WithLabelValues(endpoint, "no_call").Inc()
			c.String(http.StatusNotFound, "no call record for CallSid")
			return
		}
		h.internalError(c, endpoint, err)
		return
	}

	if _, err := h.Recordings.AcquireFromProvider(c.Request.Context(), rec, recordingSID); err != nil {
		h.internalError(c, endpoint, err)
		return
	}
	h.Metrics.RecordingsSaved.WithLabelValues("status_callback").Inc()
	h.Metrics.WebhookEvents.WithLabelValues(endpoint, "ok").Inc()

	id := rec.ID
	h.Dispatch.Submit("recording-status-chain", func(ctx context.Context) {
		h.Enrich.RunPostRecordingChain(ctx, id)
	})
	c.String(http.StatusOK, "OK")
}
