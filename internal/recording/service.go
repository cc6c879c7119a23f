// Package recording converges the three independent recording producers
// (direct-audio webhook, status-event fetch, polling sweep) onto a call
// record's recording key. The key is derived solely from the call id, so a
// producer racing in second re-uploads equivalent bytes to the same object;
// producers still short-circuit on an already-set key to avoid redundant
// provider calls.
package recording

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicedesk/internal/blob"
	"voicedesk/internal/calls"
	"voicedesk/internal/telephony"
)

var (
	ErrEmptyAudio = errors.New("recording: audio is empty")
	ErrBadAudio   = errors.New("recording: audio is not valid base64")
)

type Service struct {
	Calls    calls.Repository
	Blobs    blob.Store
	Provider telephony.Provider
	Log      *slog.Logger

	// HTTPClient downloads recordings from arbitrary source URLs (manual
	// attach). Defaults to a bounded client.
	HTTPClient *http.Client
}

func NewService(repo calls.Repository, blobs blob.Store, provider telephony.Provider, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Calls:      repo,
		Blobs:      blobs,
		Provider:   provider,
		Log:        log,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// AttachInline stores base64 audio delivered inline by a post-call webhook.
// Sets the recording key, marks the call completed, and applies the supplied
// duration when present.
func (s *Service) AttachInline(ctx context.Context, rec *calls.CallRecord, audioB64 string, durationSeconds *int) (string, error) {
	if rec.HasRecording() {
		return rec.RecordingKey, nil
	}
	body, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		// Providers occasionally ship payloads with damaged padding; retry
		// unpadded before treating the audio as garbage. Garbage is a caller
		// decision, not an internal failure: retrying the event cannot fix it.
		body, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(audioB64, "="))
		if err != nil {
			return "", ErrBadAudio
		}
	}
	if len(body) == 0 {
		return "", ErrEmptyAudio
	}

	key := calls.RecordingKeyFor(rec.ID, "mp3")
	if err := s.Blobs.Put(ctx, key, body, "audio/mpeg"); err != nil {
		return "", err
	}
	rec.RecordingKey = key
	rec.Status = calls.CallStatusCompleted
	if durationSeconds != nil {
		rec.DurationSeconds = durationSeconds
	}
	if err := s.Calls.Update(ctx, rec); err != nil {
		return "", err
	}
	s.Log.Info("recording attached from inline audio", "call_id", rec.ID, "key", key, "bytes", len(body))
	return key, nil
}

// AcquireFromProvider downloads a recording from the telephony provider and
// stores it under the call's deterministic key. Used by the status-event
// webhook and the polling sweep. A record that already has a recording is a
// no-op, so the two paths cannot double-fetch.
func (s *Service) AcquireFromProvider(ctx context.Context, rec *calls.CallRecord, recordingSID string) (string, error) {
	if rec.HasRecording() {
		return rec.RecordingKey, nil
	}
	if s.Provider == nil {
		return "", telephony.ErrNotConfigured
	}
	body, contentType, err := s.Provider.DownloadRecording(ctx, recordingSID)
	if err != nil {
		return "", err
	}
	return s.store(ctx, rec, body, contentType, true)
}

// AttachFromURL downloads a recording from an arbitrary source URL (manual
// operator action) and stores it. Does not force the call status; the
// operator may be repairing a record in any state.
func (s *Service) AttachFromURL(ctx context.Context, rec *calls.CallRecord, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("recording: bad source url: %w", err)
	}
	res, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("recording: download: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("recording: download failed: %d %s", res.StatusCode, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("recording: download read: %w", err)
	}
	if len(body) == 0 {
		return "", ErrEmptyAudio
	}
	return s.store(ctx, rec, body, res.Header.Get("Content-Type"), false)
}

func (s *Service) store(ctx context.Context, rec *calls.CallRecord, body []byte, contentType string, markCompleted bool) (string, error) {
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	key := calls.RecordingKeyFor(rec.ID, extFromContentType(contentType))
	if err := s.Blobs.Put(ctx, key, body, contentType); err != nil {
		return "", err
	}
	rec.RecordingKey = key
	if markCompleted {
		rec.Status = calls.CallStatusCompleted
	}
	if err := s.Calls.Update(ctx, rec); err != nil {
		return "", err
	}
	s.Log.Info("recording stored", "call_id", rec.ID, "key", key, "bytes", len(body))
	return key, nil
}

func extFromContentType(contentType string) string {
	if strings.Contains(contentType, "wav") {
		return "wav"
	}
	return "mp3"
}
