package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// It applies exactly the same merge semantics as the Postgres repository
// by sharing the Merge routine.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]CallRecord

	// Now is injectable for deterministic created_at values in tests.
	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]CallRecord{}, Now: time.Now}
}

func (r *MemoryRepo) Upsert(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if !ok {
		if rec.CreatedAt == "" {
			rec.CreatedAt = r.Now().UTC().Format(time.RFC3339)
		}
		r.records[rec.ID] = rec
		return nil
	}
	r.records[rec.ID] = Merge(existing, rec)
	return nil
}

func (r *MemoryRepo) UpsertBatch(ctx context.Context, recs []CallRecord) (int, error) {
	for i, rec := range recs {
		if err := r.Upsert(ctx, rec); err != nil {
			return i, err
		}
	}
	return len(recs), nil
}

func (r *MemoryRepo) UpdateExisting(ctx context.Context, id string, durationSeconds int, status CallStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if durationSeconds <= 0 && !RecognizedStatus(status) {
		return false, nil
	}
	r.records[id] = Merge(existing, CallRecord{ID: id, DurationSeconds: durationSeconds, CallStatus: status})
	return true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) List(ctx context.Context, f Filter) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CallRecord, 0)
	for _, rec := range r.records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) EarliestCallDates(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]string{}
	for _, rec := range r.records {
		phone := rec.CustomerPhoneNumber
		d := rec.Date()
		if phone == "" || d == "" {
			continue
		}
		if first, ok := out[phone]; !ok || d < first {
			out[phone] = d
		}
	}
	return out, nil
}

func (r *MemoryRepo) RepairNormalization(ctx context.Context, id, tagsNorm, agentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.TagsNorm = tagsNorm
	if agentName != "" && rec.AgentName == "" {
		rec.AgentName = agentName
	}
	r.records[id] = rec
	return nil
}

func (r *MemoryRepo) Stats(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Rows: len(r.records)}
	for _, rec := range r.records {
		d := rec.Date()
		if d == "" {
			continue
		}
		if s.MinDate == "" || d < s.MinDate {
			s.MinDate = d
		}
		if s.MaxDate == "" || d > s.MaxDate {
			s.MaxDate = d
		}
	}
	return s, nil
}

func (r *MemoryRepo) DailyCounts(ctx context.Context, limit int) ([]DailyCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type acc struct {
		calls int
		total int
	}
	byDay := map[string]*acc{}
	for _, rec := range r.records {
		d := rec.Date()
		if d == "" {
			continue
		}
		a, ok := byDay[d]
		if !ok {
			a = &acc{}
			byDay[d] = a
		}
		a.calls++
		a.total += rec.DurationSeconds
	}

	out := make([]DailyCount, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, DailyCount{Day: day, Calls: a.calls, AvgSecs: float64(a.total) / float64(a.calls)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
