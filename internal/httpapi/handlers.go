// Package httpapi is the authenticated operator surface: call-record CRUD,
// manual acquisition and enrichment triggers, the sweep trigger, and
// outbound call initiation.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicedesk/internal/blob"
	"voicedesk/internal/calls"
	"voicedesk/internal/enrich"
	"voicedesk/internal/recording"
	"voicedesk/internal/sweep"
	"voicedesk/internal/telephony"
	"voicedesk/pkg/metrics"
)

const (
	maxListLimit     = 100
	defaultListLimit = 50

	playbackCachePrefix = "voicedesk:playback:"
)

type Handler struct {
	Calls      calls.Repository
	Blobs      blob.Store
	Recordings *recording.Service
	Enrich     *enrich.Service
	Sweeper    *sweep.Sweeper
	Provider   telephony.Provider
	Dialer     telephony.Dialer
	Redis      *redis.Client
	Metrics    *metrics.Metrics
	Log        *slog.Logger

	// PlaybackURLTTL bounds presigned playback URLs; the cached copy expires
	// earlier so operators never receive a URL about to lapse.
	PlaybackURLTTL time.Duration

	// RecordingCallbackURL is handed to the provider when starting a live
	// recording. Empty disables the status callback.
	RecordingCallbackURL string
}

// Register mounts the operator routes on an already-authenticated group.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/calls", h.CreateCall)
	r.GET("/calls", h.ListCalls)
	r.GET("/calls/:id", h.GetCall)
	r.PATCH("/calls/:id", h.PatchCall)

	r.POST("/calls/:id/recording", h.AttachRecording)
	r.POST("/calls/by-call-sid/:callSid/recording", h.AttachRecordingByCallSID)
	r.POST("/calls/poll-recordings", h.PollRecordings)

	r.POST("/calls/:id/generate-transcript", h.GenerateTranscript)
	r.POST("/calls/:id/generate-summary", h.GenerateSummary)
	r.POST("/calls/:id/extract-outcome", h.ExtractOutcome)

	r.POST("/calls/start", h.StartCall)
	r.GET("/calls/sid/:callSid/status", h.CallStatus)
	r.POST("/calls/sid/:callSid/end", h.EndCall)
}

/* ===================== CRUD ===================== */

type createCallRequest struct {
	AgentID        string            `json:"agent_id"`
	Channel        string            `json:"channel"`
	LinkedTicketID string            `json:"linked_ticket_id"`
	Metadata       map[string]string `json:"metadata"`
}

func (h *Handler) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	channel := calls.Channel(req.Channel)
	switch channel {
	case "":
		channel = calls.ChannelWeb
	case calls.ChannelWeb, calls.ChannelPhone:
	default:
		badRequest(c, "channel must be web or phone")
		return
	}

	now := time.Now().UTC()
	rec := &calls.CallRecord{
		ID:             uuid.NewString(),
		AgentID:        req.AgentID,
		Channel:        channel,
		Status:         calls.CallStatusActive,
		StartedAt:      now,
		LinkedTicketID: req.LinkedTicketID,
		Metadata:       req.Metadata,
	}
	if err := h.Calls.Create(c.Request.Context(), rec); err != nil {
		h.internalError(c, "create call record", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListCalls(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := h.Calls.List(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "list call records", err)
		return
	}
	items := make([]listItem, 0, len(records))
	for i := range records {
		items = append(items, listItem{CallRecord: &records[i], HasRecording: records[i].HasRecording()})
	}
	c.JSON(http.StatusOK, gin.H{"calls": items, "count": len(items)})
}

// listItem decorates a record with a recording flag so list consumers do not
// have to inspect the storage key.
type listItem struct {
	*calls.CallRecord
	HasRecording bool `json:"has_recording"`
}

func (h *Handler) GetCall(c *gin.Context) {
	rec, ok := h.loadCall(c)
	if !ok {
		return
	}

	resp := gin.H{"call": rec}
	if rec.HasRecording() {
		if url := h.playbackURL(c, rec); url != "" {
			resp["playback_url"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}

// playbackURL returns a presigned GET URL for the recording, consulting the
// redis cache first. Failures degrade to a response without a URL.
func (h *Handler) playbackURL(c *gin.Context, rec *calls.CallRecord) string {
	ctx := c.Request.Context()
	cacheKey := playbackCachePrefix + rec.ID

	if h.Redis != nil {
		if url, err := h.Redis.Get(ctx, cacheKey).Result(); err == nil && url != "" {
			return url
		}
	}

	ttl := h.PlaybackURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	url, err := h.Blobs.SignedGetURL(ctx, rec.RecordingKey, ttl)
	if err != nil {
		h.Log.Warn("presigning playback URL failed", "call_id", rec.ID, "err", err)
		return ""
	}
	if h.Redis != nil {
		// Expire the cached URL well before the signature does.
		if err := h.Redis.Set(ctx, cacheKey, url, ttl/2).Err(); err != nil {
			h.Log.Warn("caching playback URL failed", "call_id", rec.ID, "err", err)
		}
	}
	return url
}

type patchCallRequest struct {
	Status          *string                 `json:"status"`
	DurationSeconds *int                    `json:"duration_seconds"`
	Transcript      []calls.TranscriptEntry `json:"transcript"`
	CallSummary     *string                 `json:"call_summary"`
	EndReason       *string                 `json:"end_reason"`
	TicketResolved  *string                 `json:"ticket_resolved"`
	LinkedTicketID  *string                 `json:"linked_ticket_id"`
}

// PatchCall updates the bounded operator-editable field set. This is the only
// path into the administrative statuses and the only writer allowed to
// overwrite a pipeline-produced transcript.
func (h *Handler) PatchCall(c *gin.Context) {
	rec, ok := h.loadCall(c)
	if !ok {
		return
	}

	var req patchCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	if req.Status != nil {
		status := calls.CallStatus(*req.Status)
		switch status {
		case calls.CallStatusActive, calls.CallStatusCompleted,
			calls.CallStatusNoResponse, calls.CallStatusUnknown:
			rec.Status = status
		default:
			badRequest(c, "status must be one of active, completed, no_response, unknown")
			return
		}
	}
	if req.TicketResolved != nil {
		verdict := calls.TicketResolved(*req.TicketResolved)
		switch verdict {
		case "", calls.TicketResolvedYes, calls.TicketResolvedNo:
			rec.TicketResolved = verdict
		default:
			badRequest(c, "ticket_resolved must be yes, no or empty")
			return
		}
	}
	if req.DurationSeconds != nil {
		if *req.DurationSeconds < 0 {
			badRequest(c, "duration_seconds must not be negative")
			return
		}
		rec.DurationSeconds = req.DurationSeconds
	}
	if req.Transcript != nil {
		rec.Transcript = req.Transcript
	}
	if req.CallSummary != nil {
		rec.CallSummary = *req.CallSummary
	}
	if req.EndReason != nil {
		rec.EndReason = *req.EndReason
	}
	if req.LinkedTicketID != nil {
		rec.LinkedTicketID = *req.LinkedTicketID
	}

	if err := h.Calls.Update(c.Request.Context(), rec); err != nil {
		h.internalError(c, "update call record", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

/* ===================== RECORDING ===================== */

type attachRecordingRequest struct {
	SourceURL string `json:"source_url"`
}

func (h *Handler) AttachRecording(c *gin.Context) {
	rec, ok := h.loadCall(c)
	if !ok {
		return
	}
	h.attachFromURL(c, rec)
}

func (h *Handler) AttachRecordingByCallSID(c *gin.Context) {
	rec, err := h.Calls.FindByCallSID(c.Request.Context(), c.Param("callSid"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			notFound(c, "no call record for call SID")
			return
		}
		h.internalError(c, "find call by SID", err)
		return
	}
	h.attachFromURL(c, rec)
}

func (h *Handler) attachFromURL(c *gin.Context, rec *calls.CallRecord) {
	var req attachRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SourceURL == "" {
		badRequest(c, "source_url is required")
		return
	}

	key, err := h.Recordings.AttachFromURL(c.Request.Context(), rec, req.SourceURL)
	if err != nil {
		h.internalError(c, "attach recording from URL", err)
		return
	}
	h.Metrics.RecordingsSaved.WithLabelValues("manual_url").Inc()
	c.JSON(http.StatusOK, gin.H{"call_id": rec.ID, "recording_key": key})
}

func (h *Handler) PollRecordings(c *gin.Context) {
	report, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.internalError(c, "run recording sweep", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

/* ===================== ENRICHMENT TRIGGERS ===================== */

func (h *Handler) GenerateTranscript(c *gin.Context) {
	id := c.Param("id")
	transcript, err := h.Enrich.GenerateTranscript(c.Request.Context(), id)
	if err != nil {
		h.stageError(c, "transcript", err)
		return
	}
	h.Metrics.StageRuns.WithLabelValues("transcript", "ok").Inc()

	// Follow-up summary is best-effort; a summarizer outage must not fail
	// the transcript request.
	summary, err := h.Enrich.AutoSummarize(c.Request.Context(), id)
	if err != nil {
		h.Log.Warn("auto-summary after transcript failed", "call_id", id, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"call_id": id, "transcript": transcript, "call_summary": summary})
}

func (h *Handler) GenerateSummary(c *gin.Context) {
	id := c.Param("id")
	summary, err := h.Enrich.Summarize(c.Request.Context(), id)
	if err != nil {
		h.stageError(c, "summary", err)
		return
	}
	h.Metrics.StageRuns.WithLabelValues("summary", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"call_id": id, "call_summary": summary})
}

func (h *Handler) ExtractOutcome(c *gin.Context) {
	id := c.Param("id")
	save := false
	if raw := c.Query("save"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "save must be a boolean")
			return
		}
		save = b
	}

	result, err := h.Enrich.ExtractOutcome(c.Request.Context(), id, save)
	if err != nil {
		h.stageError(c, "outcome", err)
		return
	}
	h.Metrics.StageRuns.WithLabelValues("outcome", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"call_id":                id,
		"end_reason":             result.EndReason,
		"ticket_resolved":        result.TicketResolved,
		"saved":                  save,
		"ticket_marked_resolved": result.TicketResolvedFired,
	})
}

/* ===================== HELPERS ===================== */

func (h *Handler) loadCall(c *gin.Context) (*calls.CallRecord, bool) {
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			notFound(c, "call record not found")
			return nil, false
		}
		h.internalError(c, "load call record", err)
		return nil, false
	}
	return rec, true
}

// stageError maps enrichment preconditions to 409 and real failures to 502;
// the record exists but is not in a state (or the upstream not in a mood)
// to run the stage.
func (h *Handler) stageError(c *gin.Context, stage string, err error) {
	switch {
	case errors.Is(err, enrich.ErrCallNotFound):
		h.Metrics.StageRuns.WithLabelValues(stage, "not_found").Inc()
		notFound(c, "call record not found")
	case errors.Is(err, enrich.ErrNoRecording),
		errors.Is(err, enrich.ErrNoTranscript),
		errors.Is(err, enrich.ErrNoSummary):
		h.Metrics.StageRuns.WithLabelValues(stage, "precondition").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Metrics.StageRuns.WithLabelValues(stage, "error").Inc()
		h.Log.Error("enrichment stage failed", "stage", stage, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "enrichment service failed"})
	}
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.Log.Error(op+" failed", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}
