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
	"voicedesk/internal/enrich"
)

const outcomePrompt = `You will be given the summary of a customer support call.
Respond with a JSON object with exactly two keys:
  "endReason": a short phrase describing why the call ended, or "unknown" if
  the summary gives no indication.
  "ticketResolved": "yes" if the summary states the customer's issue was
  resolved, "no" if it states it was not, otherwise "unknown".
Respond with the JSON object only, no other text.`

// OpenAIOutcomeExtractor derives the call outcome from a summary via the
// OpenAI chat completions endpoint.
type OpenAIOutcomeExtractor struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewOpenAIOutcomeExtractor(apiKey string) *OpenAIOutcomeExtractor {
	return &OpenAIOutcomeExtractor{
		APIKey:  apiKey,
		BaseURL: defaultOpenAIBaseURL,
		Model:   "gpt-4o-mini",
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIOutcomeExtractor) ExtractOutcome(ctx context.Context, summary string) (enrich.Outcome, error) {
	if o.APIKey == "" {
		return enrich.Outcome{}, fmt.Errorf("ai: outcome extractor not configured")
	}

	payload := map[string]any{
		"model":       o.Model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": outcomePrompt},
			{"role": "user", "content": summary},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return enrich.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return enrich.Outcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return enrich.Outcome{}, fmt.Errorf("ai: outcome request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return enrich.Outcome{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return enrich.Outcome{}, fmt.Errorf("ai: outcome extractor returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return enrich.Outcome{}, fmt.Errorf("ai: decode outcome response: %w", err)
	}
	if len(out.Choices) == 0 {
		return enrich.Outcome{}, fmt.Errorf("ai: outcome extractor returned no choices")
	}
	return ParseOutcomeJSON(out.Choices[0].Message.Content)
}

// ParseOutcomeJSON parses the model's reply into an outcome. Models wrap JSON
// in markdown fences often enough that they are stripped before decoding.
func ParseOutcomeJSON(reply string) (enrich.Outcome, error) {
	cleaned := StripJSONFences(reply)
	var parsed struct {
		EndReason      string `json:"endReason"`
		TicketResolved string `json:"ticketResolved"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return enrich.Outcome{}, fmt.Errorf("ai: outcome reply is not valid JSON: %w", err)
	}
	return enrich.Outcome{
		EndReason:      strings.TrimSpace(parsed.EndReason),
		TicketResolved: calls.TicketResolved(strings.ToLower(strings.TrimSpace(parsed.TicketResolved))),
	}, nil
}

// StripJSONFences removes a surrounding markdown code fence, with or without
// a language tag, leaving the inner JSON.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop the language tag line, e.g. "json".
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
