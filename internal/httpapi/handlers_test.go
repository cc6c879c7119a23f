package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"voicedesk/internal/blob"
	"voicedesk/internal/calls"
	"voicedesk/internal/enrich"
	"voicedesk/internal/recording"
	"voicedesk/internal/sweep"
	"voicedesk/internal/telephony"
	"voicedesk/internal/tickets"
	"voicedesk/pkg/metrics"
)

type stubTranscriber struct{ segments []enrich.Segment }

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) ([]enrich.Segment, error) {
	return s.segments, nil
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript []calls.TranscriptEntry) (string, error) {
	return s.summary, s.err
}

type stubExtractor struct{ outcome enrich.Outcome }

func (s *stubExtractor) ExtractOutcome(ctx context.Context, summary string) (enrich.Outcome, error) {
	return s.outcome, nil
}

type apiFixture struct {
	router     *gin.Engine
	handler    *Handler
	repo       *calls.MemoryRepo
	blobs      *blob.MemoryStore
	provider   *telephony.FakeProvider
	dialer     *telephony.FakeDialer
	summarizer *stubSummarizer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := calls.NewMemoryRepo()
	blobs := blob.NewMemoryStore()
	provider := telephony.NewFakeProvider()
	dialer := &telephony.FakeDialer{NextSID: "CAnew"}
	recordings := recording.NewService(repo, blobs, provider, nil)
	summarizer := &stubSummarizer{summary: "generated summary"}
	enricher := enrich.NewService(repo, tickets.NewMemoryRepo(), blobs,
		&stubTranscriber{segments: []enrich.Segment{{StartSeconds: 0, Text: "hello"}}},
		summarizer,
		&stubExtractor{outcome: enrich.Outcome{EndReason: "resolved", TicketResolved: "yes"}},
		nil)
	m := metrics.New("httpapi_test", prometheus.NewRegistry())
	sweeper := sweep.NewSweeper(repo, provider, recordings, nil, nil, nil, m, nil)

	h := &Handler{
		Calls:                repo,
		Blobs:                blobs,
		Recordings:           recordings,
		Enrich:               enricher,
		Sweeper:              sweeper,
		Provider:             provider,
		Dialer:               dialer,
		Metrics:              m,
		Log:                  slog.Default(),
		PlaybackURLTTL:       time.Hour,
		RecordingCallbackURL: "https://voicedesk.example/webhooks/twilio/recording-status",
	}
	router := gin.New()
	h.Register(router.Group("/v1"))
	return &apiFixture{router: router, handler: h, repo: repo, blobs: blobs,
		provider: provider, dialer: dialer, summarizer: summarizer}
}

var errContrived = errors.New("contrived upstream failure")

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestCreateAndGetCall(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls", map[string]any{
		"agent_id":         "agent-1",
		"linked_ticket_id": "t1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in response: %v", created)
	}
	if created["channel"] != "web" {
		t.Errorf("channel = %v, want default web", created["channel"])
	}
	if created["status"] != "active" {
		t.Errorf("status = %v", created["status"])
	}

	w = f.do(t, http.MethodGet, "/v1/calls/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if _, hasURL := body["playback_url"]; hasURL {
		t.Error("playback_url present without recording")
	}
}

func TestCreateCallRejectsBadChannel(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/calls", map[string]any{"channel": "fax"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetCallWithPlaybackURL(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	key := calls.RecordingKeyFor("c1", "mp3")
	f.blobs.Put(ctx, key, []byte("audio"), "audio/mpeg")
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1", RecordingKey: key})

	w := f.do(t, http.MethodGet, "/v1/calls/c1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	url, _ := body["playback_url"].(string)
	if !strings.Contains(url, key) {
		t.Errorf("playback_url = %q", url)
	}
}

func TestListCallsNewestFirstWithCap(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := &calls.CallRecord{
			ID:        []string{"old", "mid", "new"}[i],
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if rec.ID == "new" {
			rec.RecordingKey = calls.RecordingKeyFor(rec.ID, "mp3")
		}
		f.repo.Create(ctx, rec)
	}

	w := f.do(t, http.MethodGet, "/v1/calls?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Calls []struct {
			calls.CallRecord
			HasRecording bool `json:"has_recording"`
		} `json:"calls"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Calls[0].ID != "new" || body.Calls[1].ID != "mid" {
		t.Errorf("body = %+v", body)
	}
	if !body.Calls[0].HasRecording || body.Calls[1].HasRecording {
		t.Errorf("has_recording projection wrong: %+v", body.Calls)
	}

	if w := f.do(t, http.MethodGet, "/v1/calls?limit=nope", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestPatchCall(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1", Status: calls.CallStatusActive})

	w := f.do(t, http.MethodPatch, "/v1/calls/c1", map[string]any{
		"status":           "no_response",
		"duration_seconds": 30,
		"call_summary":     "manual summary",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rec, _ := f.repo.Get(ctx, "c1")
	if rec.Status != calls.CallStatusNoResponse {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 30 {
		t.Errorf("duration = %v", rec.DurationSeconds)
	}
	if rec.CallSummary != "manual summary" {
		t.Errorf("summary = %q", rec.CallSummary)
	}

	if w := f.do(t, http.MethodPatch, "/v1/calls/c1", map[string]any{"status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid status code = %d", w.Code)
	}
	if w := f.do(t, http.MethodPatch, "/v1/calls/c1", map[string]any{"ticket_resolved": "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid verdict code = %d", w.Code)
	}
	if w := f.do(t, http.MethodPatch, "/v1/calls/missing", map[string]any{}); w.Code != http.StatusNotFound {
		t.Errorf("missing record code = %d", w.Code)
	}
}

func TestAttachRecordingFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("wav-bytes"))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	ctx := context.Background()
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1"})

	w := f.do(t, http.MethodPost, "/v1/calls/c1/recording", map[string]any{"source_url": srv.URL})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rec, _ := f.repo.Get(ctx, "c1")
	if rec.RecordingKey != "recordings/c1.wav" {
		t.Errorf("RecordingKey = %q", rec.RecordingKey)
	}

	if w := f.do(t, http.MethodPost, "/v1/calls/c1/recording", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing source_url code = %d", w.Code)
	}
}

func TestAttachRecordingByCallSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	ctx := context.Background()
	rec := &calls.CallRecord{ID: "c1", Channel: calls.ChannelPhone}
	rec.SetMeta(calls.MetaCallSID, "CA1")
	f.repo.Create(ctx, rec)

	w := f.do(t, http.MethodPost, "/v1/calls/by-call-sid/CA1/recording", map[string]any{"source_url": srv.URL})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if w := f.do(t, http.MethodPost, "/v1/calls/by-call-sid/CA404/recording", map[string]any{"source_url": srv.URL}); w.Code != http.StatusNotFound {
		t.Errorf("unknown sid code = %d", w.Code)
	}
}

func TestPollRecordingsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	rec := &calls.CallRecord{ID: "c1", Channel: calls.ChannelPhone}
	rec.SetMeta(calls.MetaCallSID, "CA1")
	f.repo.Create(ctx, rec)
	f.provider.RecordingsList["CA1"] = []telephony.Recording{{SID: "RE1", CallSID: "CA1", CreatedAt: time.Now()}}
	f.provider.Audio["RE1"] = []byte("audio")

	w := f.do(t, http.MethodPost, "/v1/calls/poll-recordings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var report sweep.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Scanned != 1 || report.Saved != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestGenerateTranscriptEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	key := calls.RecordingKeyFor("c1", "mp3")
	f.blobs.Put(ctx, key, []byte("audio"), "audio/mpeg")
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1", RecordingKey: key})

	w := f.do(t, http.MethodPost, "/v1/calls/c1/generate-transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["call_summary"] != "generated summary" {
		t.Errorf("call_summary = %v", body["call_summary"])
	}
	rec, _ := f.repo.Get(ctx, "c1")
	if !rec.HasTranscript() || rec.CallSummary != "generated summary" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGenerateTranscriptSummaryFailureNonFatal(t *testing.T) {
	f := newAPIFixture(t)
	f.summarizer.err = errContrived
	ctx := context.Background()
	key := calls.RecordingKeyFor("c1", "mp3")
	f.blobs.Put(ctx, key, []byte("audio"), "audio/mpeg")
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1", RecordingKey: key})

	w := f.do(t, http.MethodPost, "/v1/calls/c1/generate-transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite summary failure", w.Code)
	}
	rec, _ := f.repo.Get(ctx, "c1")
	if !rec.HasTranscript() {
		t.Error("transcript lost")
	}
	if rec.CallSummary != "" {
		t.Errorf("summary = %q, want empty", rec.CallSummary)
	}
}

func TestGenerateTranscriptWithoutRecording(t *testing.T) {
	f := newAPIFixture(t)
	f.repo.Create(context.Background(), &calls.CallRecord{ID: "c1"})

	w := f.do(t, http.MethodPost, "/v1/calls/c1/generate-transcript", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestExtractOutcomeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.repo.Create(ctx, &calls.CallRecord{ID: "c1", CallSummary: "all sorted"})

	// Preview by default.
	w := f.do(t, http.MethodPost, "/v1/calls/c1/extract-outcome", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rec, _ := f.repo.Get(ctx, "c1")
	if rec.EndReason != "" {
		t.Errorf("preview persisted: %+v", rec)
	}

	w = f.do(t, http.MethodPost, "/v1/calls/c1/extract-outcome?save=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rec, _ = f.repo.Get(ctx, "c1")
	if rec.EndReason != "resolved" || rec.TicketResolved != calls.TicketResolvedYes {
		t.Errorf("record = %+v", rec)
	}
}

func TestStartCall(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls/start", map[string]any{
		"to_number":         "+15550002222",
		"agent_id":          "agent-1",
		"dynamic_variables": map[string]string{"customer_name": "Sam"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["call_sid"] != "CAnew" {
		t.Errorf("call_sid = %v", body["call_sid"])
	}

	if f.dialer.LastTo != "+15550002222" {
		t.Errorf("dialed %q", f.dialer.LastTo)
	}
	if f.dialer.LastVars["customer_name"] != "Sam" {
		t.Errorf("dynamic variables not passed: %v", f.dialer.LastVars)
	}
	callID := f.dialer.LastVars["call_id"]
	if callID == "" {
		t.Fatal("call_id not seeded into dynamic variables")
	}
	rec, err := f.repo.Get(context.Background(), callID)
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Channel != calls.ChannelPhone || rec.CallSID() != "CAnew" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Metadata[calls.MetaToNumber] != "+15550002222" {
		t.Errorf("to_number metadata = %q", rec.Metadata[calls.MetaToNumber])
	}
}

func TestStartCallFailureDeletesRecord(t *testing.T) {
	f := newAPIFixture(t)
	f.dialer.Err = errContrived

	w := f.do(t, http.MethodPost, "/v1/calls/start", map[string]any{"to_number": "+15550002222"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	records, _ := f.repo.List(context.Background(), 10)
	if len(records) != 0 {
		t.Errorf("record left behind after failed initiation: %+v", records)
	}
}

func TestStartCallRequiresToNumber(t *testing.T) {
	f := newAPIFixture(t)
	if w := f.do(t, http.MethodPost, "/v1/calls/start", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCallStatusProbe(t *testing.T) {
	f := newAPIFixture(t)
	f.provider.Calls["CA1"] = telephony.CallInfo{SID: "CA1", Status: "in-progress"}

	w := f.do(t, http.MethodGet, "/v1/calls/sid/CA1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "in-progress" || body["live"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestEndCall(t *testing.T) {
	f := newAPIFixture(t)
	f.provider.Calls["CA1"] = telephony.CallInfo{SID: "CA1", Status: "in-progress"}

	w := f.do(t, http.MethodPost, "/v1/calls/sid/CA1/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.provider.Ended) != 1 || f.provider.Ended[0] != "CA1" {
		t.Errorf("ended calls = %v", f.provider.Ended)
	}
	if info := f.provider.Calls["CA1"]; !info.Ended() {
		t.Errorf("provider call not completed: %+v", info)
	}

	// Unknown call SID surfaces as an upstream failure.
	if w := f.do(t, http.MethodPost, "/v1/calls/sid/CA404/end", nil); w.Code != http.StatusBadGateway {
		t.Errorf("unknown sid code = %d", w.Code)
	}
}
