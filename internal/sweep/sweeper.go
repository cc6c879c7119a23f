// Package sweep implements the recording poller: a periodic pass over call
// records whose recording never arrived via webhook, pulling completed
// recordings straight from the telephony provider.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"voicedesk/internal/calls"
	"voicedesk/internal/enrich"
	"voicedesk/internal/recording"
	"voicedesk/internal/telephony"
	"voicedesk/pkg/metrics"
	"voicedesk/pkg/utils"
)

// Per-call sweep outcomes.
const (
	StatusUploaded       = "uploaded"
	StatusNoRecordings   = "no_recordings"
	StatusProviderError  = "provider_error"
	StatusMissingCallSID = "missing_call_sid"
	StatusError          = "error"
)

const (
	DefaultBatchSize = 20

	redisLockKey = "voicedesk:sweep:lock"
	redisLockTTL = 5 * time.Minute
)

// Item is the outcome for one scanned call record.
type Item struct {
	CallID       string `json:"call_id"`
	Status       string `json:"status"`
	RecordingSID string `json:"recording_sid,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Report summarizes one sweep.
type Report struct {
	Scanned int    `json:"scanned"`
	Saved   int    `json:"saved"`
	Items   []Item `json:"items"`
}

// Sweeper scans for stranded records and acquires their recordings.
// At most one sweep runs at a time per process; when a redis client is set,
// a redis-held lock additionally serializes sweeps across processes.
type Sweeper struct {
	Calls      calls.Repository
	Provider   telephony.Provider
	Recordings *recording.Service
	Enrich     *enrich.Service
	Dispatch   *enrich.Dispatcher
	Redis      *redis.Client
	Metrics    *metrics.Metrics
	Log        *slog.Logger
	BatchSize  int

	mu      sync.Mutex
	running bool
}

func NewSweeper(repo calls.Repository, provider telephony.Provider, recordings *recording.Service,
	enricher *enrich.Service, dispatch *enrich.Dispatcher, rdb *redis.Client,
	m *metrics.Metrics, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		Calls: repo, Provider: provider, Recordings: recordings,
		Enrich: enricher, Dispatch: dispatch, Redis: rdb,
		Metrics: m, Log: log, BatchSize: DefaultBatchSize,
	}
}

// Schedule registers the sweeper on the cron runner with a minute interval.
func (s *Sweeper) Schedule(c *cron.Cron, intervalMinutes int) (cron.EntryID, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = 3
	}
	spec := fmt.Sprintf("*/%d * * * *", intervalMinutes)
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.Log.Error("scheduled sweep failed", "err", err)
		}
	})
}

// RunOnce executes a single sweep. A tick that observes a sweep already in
// flight returns an empty report immediately rather than queueing behind it.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	if !s.begin() {
		s.Log.Info("sweep already running, skipping tick")
		if s.Metrics != nil {
			s.Metrics.SweepSkipped.Inc()
		}
		return Report{}, nil
	}
	defer s.end()

	if s.Redis != nil {
		ok, err := utils.AcquireConcurrencyCap(ctx, s.Redis, redisLockKey, 1, redisLockTTL)
		if err != nil {
			// Redis being down must not stop recovery; fall back to the
			// in-process guard only.
			s.Log.Warn("sweep lock unavailable, proceeding without it", "err", err)
		} else if !ok {
			if s.Metrics != nil {
				s.Metrics.SweepSkipped.Inc()
			}
			return Report{}, nil
		} else {
			defer func() {
				if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), s.Redis, redisLockKey); err != nil {
					s.Log.Warn("releasing sweep lock failed", "err", err)
				}
			}()
		}
	}

	if s.Provider == nil {
		return Report{}, telephony.ErrNotConfigured
	}

	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	records, err := s.Calls.ListMissingRecordings(ctx, batch)
	if err != nil {
		return Report{}, fmt.Errorf("sweep: list candidates: %w", err)
	}

	report := Report{Scanned: len(records), Items: make([]Item, 0, len(records))}
	for i := range records {
		item := s.sweepOne(ctx, &records[i])
		if item.Status == StatusUploaded {
			report.Saved++
		}
		if s.Metrics != nil {
			s.Metrics.SweepItems.WithLabelValues(item.Status).Inc()
		}
		report.Items = append(report.Items, item)
	}
	if s.Metrics != nil {
		s.Metrics.SweepRuns.Inc()
	}
	s.Log.Info("recording sweep finished", "scanned", report.Scanned, "saved", report.Saved)
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, rec *calls.CallRecord) Item {
	item := Item{CallID: rec.ID}

	callSID := rec.CallSID()
	if callSID == "" {
		item.Status = StatusMissingCallSID
		return item
	}

	recordings, err := s.Provider.ListRecordings(ctx, callSID)
	if err != nil {
		item.Status = StatusProviderError
		item.Error = err.Error()
		s.Log.Warn("sweep: provider listing failed", "call_id", rec.ID, "call_sid", callSID, "err", err)
		return item
	}
	if len(recordings) == 0 {
		item.Status = StatusNoRecordings
		return item
	}

	latest := mostRecent(recordings)
	item.RecordingSID = latest.SID
	if _, err := s.Recordings.AcquireFromProvider(ctx, rec, latest.SID); err != nil {
		item.Status = StatusError
		item.Error = err.Error()
		s.Log.Warn("sweep: recording acquisition failed", "call_id", rec.ID, "recording_sid", latest.SID, "err", err)
		return item
	}
	item.Status = StatusUploaded
	if s.Metrics != nil {
		s.Metrics.RecordingsSaved.WithLabelValues("sweep").Inc()
	}

	if s.Dispatch != nil && s.Enrich != nil {
		id := rec.ID
		s.Dispatch.Submit("sweep-chain", func(taskCtx context.Context) {
			s.Enrich.RunPostRecordingChain(taskCtx, id)
		})
	}
	return item
}

func mostRecent(recordings []telephony.Recording) telephony.Recording {
	latest := recordings[0]
	for _, r := range recordings[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

func (s *Sweeper) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Sweeper) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
