package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/config"
)

// AgentDialer places outbound support calls through the conversational-voice
// provider's outbound-call API. The provider bridges the voice agent onto a
// Twilio call and returns the Twilio call SID, which we store for recording
// correlation.
type AgentDialer struct {
	cfg        config.AgentConfig
	httpClient *http.Client
}

func NewAgentDialer(cfg config.AgentConfig) *AgentDialer {
	return &AgentDialer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *AgentDialer) PlaceCall(ctx context.Context, toNumber string, dynamicVariables map[string]string) (string, error) {
	if !d.cfg.Enabled() {
		return "", ErrNotConfigured
	}
	payload := map[string]any{
		"agent_id":              d.cfg.AgentID,
		"agent_phone_number_id": d.cfg.PhoneNumberID,
		"to_number":             toNumber,
		"conversation_initiation_client_data": map[string]any{
			"dynamic_variables": dynamicVariables,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(d.cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/v1/convai/twilio/outbound-call", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", d.cfg.APIKey)

	res, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: place call: provider %d", res.StatusCode)
	}
	var out struct {
		CallSID string `json:"callSid"`
		AltSID  string `json:"call_sid"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("telephony: place call decode: %w", err)
	}
	sid := out.CallSID
	if sid == "" {
		sid = out.AltSID
	}
	if sid == "" {
		return "", fmt.Errorf("telephony: place call: no call SID in response")
	}
	return sid, nil
}
