package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voicedesk/internal/config"
)

func twilioTestProvider(t *testing.T, handler http.Handler) *TwilioProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewTwilioProvider(config.TwilioConfig{
		AccountSID: "AC123", AuthToken: "tok", BaseURL: srv.URL,
	})
	p.pollInterval = time.Millisecond
	p.maxWait = 50 * time.Millisecond
	return p
}

func TestTwilio_FetchCall(t *testing.T) {
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls/CA1.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, pass, _ := r.BasicAuth(); user != "AC123" || pass != "tok" {
			t.Errorf("missing basic auth")
		}
		w.Write([]byte(`{"sid": "CA1", "status": "in-progress"}`))
	}))

	info, err := p.FetchCall(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !info.Live() {
		t.Fatalf("expected live call, got %+v", info)
	}
}

func TestTwilio_StartRecordingWaitsForInProgress(t *testing.T) {
	var fetches int64
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			// ringing on the first fetch, answered afterwards
			if atomic.AddInt64(&fetches, 1) == 1 {
				w.Write([]byte(`{"sid": "CA1", "status": "ringing"}`))
				return
			}
			w.Write([]byte(`{"sid": "CA1", "status": "in-progress"}`))
		case r.Method == http.MethodPost:
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if r.PostFormValue("RecordingStatusCallback") != "https://cb.example/hook" {
				t.Errorf("missing status callback")
			}
			w.Write([]byte(`{"sid": "RE9"}`))
		}
	}))

	sid, err := p.StartRecording(context.Background(), "CA1", "https://cb.example/hook")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if sid != "RE9" {
		t.Fatalf("expected RE9, got %s", sid)
	}
	if atomic.LoadInt64(&fetches) < 2 {
		t.Fatal("expected at least two status fetches")
	}
}

func TestTwilio_StartRecordingEndedCall(t *testing.T) {
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sid": "CA1", "status": "completed"}`))
	}))
	if _, err := p.StartRecording(context.Background(), "CA1", ""); err == nil {
		t.Fatal("expected error for ended call")
	}
}

func TestTwilio_ListRecordings(t *testing.T) {
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("CallSid"); got != "CA1" {
			t.Errorf("unexpected CallSid %q", got)
		}
		w.Write([]byte(`{"recordings": [
			{"sid": "RE1", "call_sid": "CA1", "date_created": "Tue, 21 Nov 2023 10:00:00 +0000"},
			{"sid": "RE2", "call_sid": "CA1", "date_created": "Tue, 21 Nov 2023 11:00:00 +0000"}
		]}`))
	}))

	recs, err := p.ListRecordings(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 2 || recs[0].SID != "RE1" || recs[1].SID != "RE2" {
		t.Fatalf("unexpected recordings: %+v", recs)
	}
	if !recs[1].CreatedAt.After(recs[0].CreatedAt) {
		t.Fatal("expected parsed creation times")
	}
}

func TestTwilio_DownloadRecording(t *testing.T) {
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Recordings/RE1.mp3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3bytes"))
	}))

	body, ct, err := p.DownloadRecording(context.Background(), "RE1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(body) != "mp3bytes" || ct != "audio/mpeg" {
		t.Fatalf("unexpected body/content type: %q %q", body, ct)
	}
}

func TestTwilio_EndCall(t *testing.T) {
	var posted bool
	p := twilioTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls/CA1.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("Status") != "completed" {
			t.Errorf("Status = %q, want completed", r.PostFormValue("Status"))
		}
		posted = true
		w.Write([]byte(`{"sid": "CA1", "status": "completed"}`))
	}))

	if err := p.EndCall(context.Background(), "CA1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !posted {
		t.Fatal("no status update sent")
	}
	if err := p.EndCall(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for malformed call SID")
	}
}

func TestTwilio_NotConfigured(t *testing.T) {
	p := NewTwilioProvider(config.TwilioConfig{})
	if _, err := p.FetchCall(context.Background(), "CA1"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
