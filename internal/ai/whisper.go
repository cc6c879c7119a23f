// Package ai holds the thin HTTP clients for the external model services the
// enrichment chain depends on. Each client implements one interface from the
// enrich package and nothing else.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/enrich"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// WhisperTranscriber transcribes recordings via the OpenAI audio
// transcription endpoint, requesting segment-level timestamps.
type WhisperTranscriber struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewWhisperTranscriber(apiKey string) *WhisperTranscriber {
	return &WhisperTranscriber{
		APIKey:  apiKey,
		BaseURL: defaultOpenAIBaseURL,
		Model:   "whisper-1",
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) ([]enrich.Segment, error) {
	if w.APIKey == "" {
		return nil, fmt.Errorf("ai: whisper transcriber not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "recording"+extForContentType(contentType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	_ = mw.WriteField("model", w.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("timestamp_granularities[]", "segment")
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: whisper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai: whisper returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out struct {
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ai: decode whisper response: %w", err)
	}

	segments := make([]enrich.Segment, 0, len(out.Segments))
	for _, seg := range out.Segments {
		segments = append(segments, enrich.Segment{StartSeconds: seg.Start, Text: strings.TrimSpace(seg.Text)})
	}
	// Some models return only the flat text field.
	if len(segments) == 0 && strings.TrimSpace(out.Text) != "" {
		segments = append(segments, enrich.Segment{Text: strings.TrimSpace(out.Text)})
	}
	return segments, nil
}

func extForContentType(contentType string) string {
	if strings.Contains(contentType, "wav") {
		return ".wav"
	}
	return ".mp3"
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
