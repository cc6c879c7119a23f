package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicedesk/internal/calls"
)

type startCallRequest struct {
	ToNumber         string            `json:"to_number" binding:"required"`
	AgentID          string            `json:"agent_id"`
	LinkedTicketID   string            `json:"linked_ticket_id"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// StartCall places an outbound support call through the voice-agent provider.
//
// The record is created before dialing so its ID can be injected into the
// call's dynamic variables, which is what lets end-of-call webhooks correlate
// deterministically. If the provider refuses the call, the record is deleted
// again: nothing has been acknowledged to anyone yet, so no tombstone is
// needed.
func (h *Handler) StartCall(c *gin.Context) {
	if h.Dialer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "outbound calling is not configured"})
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "to_number is required")
		return
	}

	ctx := c.Request.Context()
	rec := &calls.CallRecord{
		ID:             uuid.NewString(),
		AgentID:        req.AgentID,
		Channel:        calls.ChannelPhone,
		Status:         calls.CallStatusActive,
		StartedAt:      time.Now().UTC(),
		LinkedTicketID: req.LinkedTicketID,
	}
	rec.SetMeta(calls.MetaToNumber, req.ToNumber)
	if err := h.Calls.Create(ctx, rec); err != nil {
		h.internalError(c, "create call record", err)
		return
	}

	vars := make(map[string]string, len(req.DynamicVariables)+1)
	for k, v := range req.DynamicVariables {
		vars[k] = v
	}
	vars["call_id"] = rec.ID

	callSID, err := h.Dialer.PlaceCall(ctx, req.ToNumber, vars)
	if err != nil {
		if delErr := h.Calls.Delete(ctx, rec.ID); delErr != nil {
			h.Log.Error("deleting record after failed initiation", "call_id", rec.ID, "err", delErr)
		}
		h.Log.Error("outbound call initiation failed", "to_number", req.ToNumber, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "call initiation failed"})
		return
	}

	rec.SetMeta(calls.MetaCallSID, callSID)
	if err := h.Calls.Update(ctx, rec); err != nil {
		h.internalError(c, "store call SID", err)
		return
	}

	// Recording start is best-effort: it waits for the call to go live, and
	// failure still leaves the status-callback and sweep paths available.
	if h.Provider != nil {
		h.startRecordingAsync(rec.ID, callSID)
	}

	c.JSON(http.StatusCreated, gin.H{"call": rec, "call_sid": callSID})
}

func (h *Handler) startRecordingAsync(callID, callSID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		recordingSID, err := h.Provider.StartRecording(ctx, callSID, h.RecordingCallbackURL)
		if err != nil {
			h.Log.Warn("starting live recording failed", "call_id", callID, "call_sid", callSID, "err", err)
			return
		}
		h.Log.Info("live recording started", "call_id", callID, "recording_sid", recordingSID)
	}()
}

// CallStatus probes the provider for the live status of a call.
func (h *Handler) CallStatus(c *gin.Context) {
	if h.Provider == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "telephony provider is not configured"})
		return
	}
	callSID := c.Param("callSid")
	info, err := h.Provider.FetchCall(c.Request.Context(), callSID)
	if err != nil {
		h.Log.Error("fetching call status failed", "call_sid", callSID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call_sid": info.SID,
		"status":   info.Status,
		"live":     info.Live(),
		"ended":    info.Ended(),
	})
}

// EndCall hangs up a live call at the provider. The record itself is not
// touched here; the post-call webhooks finalize it as usual.
func (h *Handler) EndCall(c *gin.Context) {
	if h.Provider == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "telephony provider is not configured"})
		return
	}
	callSID := c.Param("callSid")
	if err := h.Provider.EndCall(c.Request.Context(), callSID); err != nil {
		h.Log.Error("ending call failed", "call_sid", callSID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider hangup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_sid": callSID, "ended": true})
}
