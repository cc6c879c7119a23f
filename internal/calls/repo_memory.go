package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory call-record repository for tests and
// early development.
type MemoryRepo struct {
	mu   sync.Mutex
	recs map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{recs: map[string]CallRecord{}}
}

func (r *MemoryRepo) Create(ctx context.Context, rec *CallRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("calls: id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now
	r.recs[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, rec *CallRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("calls: id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; !ok {
		return ErrNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	r.recs[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return ErrNotFound
	}
	delete(r.recs, id)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) FindByCallSID(ctx context.Context, callSID string) (*CallRecord, error) {
	if callSID == "" {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if rec.Metadata[MetaCallSID] == callSID {
			out := cloneRecord(rec)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) FindLatestByToNumber(ctx context.Context, number string, requireNoRecording bool) (*CallRecord, error) {
	if number == "" {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *CallRecord
	for _, rec := range r.recs {
		if rec.Channel != ChannelPhone {
			continue
		}
		if rec.Metadata[MetaToNumber] != number {
			continue
		}
		if requireNoRecording && rec.RecordingKey != "" {
			continue
		}
		if best == nil || rec.StartedAt.After(best.StartedAt) {
			c := cloneRecord(rec)
			best = &c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *MemoryRepo) ListMissingRecordings(ctx context.Context, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.recs {
		if rec.Channel != ChannelPhone || rec.RecordingKey != "" {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(rec CallRecord) CallRecord {
	out := rec
	if rec.Transcript != nil {
		out.Transcript = append([]TranscriptEntry(nil), rec.Transcript...)
	}
	if rec.Metadata != nil {
		out.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	if rec.DurationSeconds != nil {
		d := *rec.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}
