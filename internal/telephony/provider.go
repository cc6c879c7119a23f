package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider defines the provider-agnostic telephony interface used by the
// recording pipeline and the polling sweep.
//
// Rules:
// - No provider SDK/REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; raw payloads stay here.
// - Every method honors the deadline on ctx: call state at the provider can
//   change between request and response, so calls must be bounded.
type Provider interface {
	Name() string

	// FetchCall returns the provider's current view of a call.
	FetchCall(ctx context.Context, callSID string) (CallInfo, error)

	// StartRecording begins recording a live call, waiting (bounded) for the
	// call to reach an in-progress state first. statusCallbackURL, when
	// non-empty, is where the provider POSTs on recording completion.
	StartRecording(ctx context.Context, callSID, statusCallbackURL string) (string, error)

	// ListRecordings returns all recordings the provider holds for a call.
	ListRecordings(ctx context.Context, callSID string) ([]Recording, error)

	// DownloadRecording fetches the audio bytes for a recording.
	// Returns the body and its content type.
	DownloadRecording(ctx context.Context, recordingSID string) ([]byte, string, error)

	// EndCall hangs up a live call by forcing it to completed. Ending a call
	// already in a terminal state is a provider-side no-op.
	EndCall(ctx context.Context, callSID string) error
}

// Dialer places outbound calls through the conversational-voice provider.
// The voice agent itself (prompts, tools, config) is an external concern;
// this interface only covers call placement.
type Dialer interface {
	// PlaceCall dials toNumber and returns the provider call SID. The
	// dynamicVariables map is echoed back in post-call webhooks, which is
	// how the injected call-record id comes home.
	PlaceCall(ctx context.Context, toNumber string, dynamicVariables map[string]string) (string, error)
}

type CallInfo struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Live reports whether the call is currently answerable for recording.
func (c CallInfo) Live() bool { return c.Status == "in-progress" }

// Ended reports whether the call reached a terminal state.
func (c CallInfo) Ended() bool {
	switch c.Status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

type Recording struct {
	SID       string    `json:"sid"`
	CallSID   string    `json:"call_sid"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrCallNotLive   = errors.New("telephony: call is not in progress")
	ErrNotConfigured = errors.New("telephony: provider credentials not configured")
)
