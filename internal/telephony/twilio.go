package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicedesk/internal/config"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioProvider talks to the Twilio 2010-04-01 REST API with Basic auth.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client

	// pollInterval/maxWait bound the wait-for-in-progress loop in
	// StartRecording. Overridable in tests.
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultTwilioBaseURL
	}
	return &TwilioProvider{
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		baseURL:      strings.TrimRight(base, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: time.Second,
		maxWait:      20 * time.Second,
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) configured() bool { return p.accountSID != "" && p.authToken != "" }

func (p *TwilioProvider) FetchCall(ctx context.Context, callSID string) (CallInfo, error) {
	if !p.configured() {
		return CallInfo{}, ErrNotConfigured
	}
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", p.baseURL, p.accountSID, callSID)
	var body struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := p.getJSON(ctx, u, &body); err != nil {
		return CallInfo{}, err
	}
	return CallInfo{SID: body.SID, Status: body.Status}, nil
}

// StartRecording waits for the call to go in-progress (the provider rejects
// recording requests on calls that have not been answered yet), then creates
// a recording with a completed-status callback.
func (p *TwilioProvider) StartRecording(ctx context.Context, callSID, statusCallbackURL string) (string, error) {
	if !p.configured() {
		return "", ErrNotConfigured
	}
	if !strings.HasPrefix(callSID, "CA") {
		return "", fmt.Errorf("telephony: invalid call SID %q", callSID)
	}

	deadline := time.Now().Add(p.maxWait)
	for {
		info, err := p.FetchCall(ctx, callSID)
		if err != nil {
			return "", err
		}
		if info.Live() {
			break
		}
		if info.Ended() {
			return "", fmt.Errorf("%w (status: %s)", ErrCallNotLive, info.Status)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %s (status: %s)", ErrCallNotLive, p.maxWait, info.Status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}

	form := url.Values{}
	form.Set("RecordingChannels", "mono")
	form.Set("Trim", "do-not-trim")
	if statusCallbackURL != "" {
		form.Set("RecordingStatusCallback", statusCallbackURL)
		form.Set("RecordingStatusCallbackEvent", "completed")
		form.Set("RecordingStatusCallbackMethod", "POST")
	}

	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s/Recordings.json", p.baseURL, p.accountSID, callSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	res, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: start recording: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: start recording: twilio %d", res.StatusCode)
	}
	var body struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("telephony: start recording decode: %w", err)
	}
	return body.SID, nil
}

func (p *TwilioProvider) ListRecordings(ctx context.Context, callSID string) ([]Recording, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Recordings.json?CallSid=%s",
		p.baseURL, p.accountSID, url.QueryEscape(callSID))
	var body struct {
		Recordings []struct {
			SID         string `json:"sid"`
			CallSID     string `json:"call_sid"`
			DateCreated string `json:"date_created"`
		} `json:"recordings"`
	}
	if err := p.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	out := make([]Recording, 0, len(body.Recordings))
	for _, r := range body.Recordings {
		rec := Recording{SID: r.SID, CallSID: r.CallSID}
		// Twilio returns RFC1123 timestamps; a parse failure leaves the
		// zero time, which simply sorts last.
		if t, err := time.Parse(time.RFC1123Z, r.DateCreated); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *TwilioProvider) DownloadRecording(ctx context.Context, recordingSID string) ([]byte, string, error) {
	if !p.configured() {
		return nil, "", ErrNotConfigured
	}
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Recordings/%s.mp3", p.baseURL, p.accountSID, recordingSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telephony: download recording: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telephony: download recording: twilio %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telephony: download recording read: %w", err)
	}
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return body, contentType, nil
}

// EndCall hangs up a live call by updating its status to completed.
func (p *TwilioProvider) EndCall(ctx context.Context, callSID string) error {
	if !p.configured() {
		return ErrNotConfigured
	}
	if !strings.HasPrefix(callSID, "CA") {
		return fmt.Errorf("telephony: invalid call SID %q", callSID)
	}
	form := url.Values{}
	form.Set("Status", "completed")

	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", p.baseURL, p.accountSID, callSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	res, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: end call: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("telephony: end call: twilio %d", res.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	res, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("telephony: twilio %d: %s", res.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("telephony: twilio %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
