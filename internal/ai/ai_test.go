package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicedesk/internal/calls"
)

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		fmt.Fprint(w, `{"text":"hello world","segments":[
			{"start":0,"text":" hello"},{"start":4.2,"text":"world "}]}`)
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber("test-key")
	tr.BaseURL = srv.URL
	segments, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if segments[0].Text != "hello" || segments[1].Text != "world" {
		t.Errorf("segment text not trimmed: %+v", segments)
	}
	if segments[1].StartSeconds != 4.2 {
		t.Errorf("StartSeconds = %v", segments[1].StartSeconds)
	}
}

func TestWhisperFlatTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"just the text"}`)
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber("test-key")
	tr.BaseURL = srv.URL
	segments, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "just the text" {
		t.Errorf("segments = %+v", segments)
	}
}

func TestGeminiSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("api key header = %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":" Customer resolved billing issue. "}]}}]}`)
	}))
	defer srv.Close()

	g := NewGeminiSummarizer("g-key")
	g.BaseURL = srv.URL
	summary, err := g.Summarize(context.Background(), []calls.TranscriptEntry{
		{Speaker: calls.SpeakerUser, Text: "my bill is wrong", Time: "00:00"},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "Customer resolved billing issue." {
		t.Errorf("summary = %q", summary)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	g := NewGeminiSummarizer("g-key")
	g.BaseURL = srv.URL
	if _, err := g.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error on empty candidates")
	}
}

func TestRenderTranscript(t *testing.T) {
	got := RenderTranscript([]calls.TranscriptEntry{
		{Speaker: calls.SpeakerUser, Text: "hi", Time: "00:00"},
		{Speaker: calls.SpeakerAgent, Text: "hello"},
	})
	want := "[00:00] user: hi\nagent: hello\n"
	if got != want {
		t.Errorf("RenderTranscript = %q, want %q", got, want)
	}
}

func TestOpenAIExtractOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"endReason\":\"customer hung up\",\"ticketResolved\":\"Yes\"}"}}]}`)
	}))
	defer srv.Close()

	ex := NewOpenAIOutcomeExtractor("o-key")
	ex.BaseURL = srv.URL
	out, err := ex.ExtractOutcome(context.Background(), "a summary")
	if err != nil {
		t.Fatalf("ExtractOutcome: %v", err)
	}
	if out.EndReason != "customer hung up" {
		t.Errorf("EndReason = %q", out.EndReason)
	}
	if out.TicketResolved != calls.TicketResolvedYes {
		t.Errorf("TicketResolved = %q", out.TicketResolved)
	}
}

func TestParseOutcomeJSON(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantReason string
		wantTicket calls.TicketResolved
		wantErr    bool
	}{
		{
			name:       "bare json",
			reply:      `{"endReason":"line dropped","ticketResolved":"no"}`,
			wantReason: "line dropped",
			wantTicket: calls.TicketResolvedNo,
		},
		{
			name:       "fenced with language tag",
			reply:      "```json\n{\"endReason\":\"resolved\",\"ticketResolved\":\"yes\"}\n```",
			wantReason: "resolved",
			wantTicket: calls.TicketResolvedYes,
		},
		{
			name:       "fenced without language tag",
			reply:      "```\n{\"endReason\":\"unknown\",\"ticketResolved\":\"unknown\"}\n```",
			wantReason: "unknown",
			wantTicket: "unknown",
		},
		{
			name:    "not json",
			reply:   "I could not determine an outcome.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutcomeJSON(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutcomeJSON: %v", err)
			}
			if out.EndReason != tt.wantReason || out.TicketResolved != tt.wantTicket {
				t.Errorf("got %+v", out)
			}
		})
	}
}

func TestStripJSONFences(t *testing.T) {
	if got := StripJSONFences("```{\"a\":1}```"); got != `{"a":1}` {
		t.Errorf("inline fence: %q", got)
	}
	if got := StripJSONFences(`{"a":1}`); got != `{"a":1}` {
		t.Errorf("no fence: %q", got)
	}
}
