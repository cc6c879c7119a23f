package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/calls"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const summaryPrompt = `You are a customer support analyst. Summarize the following
support call transcript in 2-4 sentences. Cover what the customer needed, what
the agent did, and how the call ended. Reply with the summary only.`

// GeminiSummarizer generates call summaries using the Gemini generateContent
// endpoint.
type GeminiSummarizer struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewGeminiSummarizer(apiKey string) *GeminiSummarizer {
	return &GeminiSummarizer{
		APIKey:  apiKey,
		BaseURL: defaultGeminiBaseURL,
		Model:   "gemini-2.0-flash",
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript []calls.TranscriptEntry) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("ai: gemini summarizer not configured")
	}

	payload := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]string{{
				"text": summaryPrompt + "\n\nTranscript:\n" + RenderTranscript(transcript),
			}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.BaseURL, g.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: gemini returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("ai: decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("ai: gemini returned no candidates")
	}
	summary := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if summary == "" {
		return "", fmt.Errorf("ai: gemini returned an empty summary")
	}
	return summary, nil
}

// RenderTranscript flattens a transcript into "[MM:SS] speaker: text" lines
// for use in model prompts.
func RenderTranscript(transcript []calls.TranscriptEntry) string {
	var b strings.Builder
	for _, entry := range transcript {
		if entry.Time != "" {
			fmt.Fprintf(&b, "[%s] ", entry.Time)
		}
		fmt.Fprintf(&b, "%s: %s\n", entry.Speaker, entry.Text)
	}
	return b.String()
}
