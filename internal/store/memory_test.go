package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
}

func TestMemoryUpsertMerges(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Now = fixedNow
	ctx := context.Background()

	if err := repo.Upsert(ctx, CallRecord{ID: "c1", DurationSeconds: 120, CallStatus: StatusAnswered}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Replay with a partial payload: nothing may regress.
	if err := repo.Upsert(ctx, CallRecord{ID: "c1", DurationSeconds: 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationSeconds != 120 || got.CallStatus != StatusAnswered {
		t.Fatalf("partial replay regressed record: %+v", got)
	}
	if got.CreatedAt != "2026-08-28T12:00:00Z" {
		t.Fatalf("CreatedAt = %q", got.CreatedAt)
	}

	// CreatedAt is fixed at first insert.
	repo.Now = func() time.Time { return fixedNow().Add(time.Hour) }
	if err := repo.Upsert(ctx, CallRecord{ID: "c1", DurationSeconds: 300}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, _ = repo.Get(ctx, "c1")
	if got.CreatedAt != "2026-08-28T12:00:00Z" {
		t.Fatalf("CreatedAt changed on merge: %q", got.CreatedAt)
	}
	if got.DurationSeconds != 300 {
		t.Fatalf("DurationSeconds = %d", got.DurationSeconds)
	}
}

func TestMemoryUpdateExisting(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	if _, err := repo.UpdateExisting(ctx, "nope", 60, StatusAnswered); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: err = %v, want ErrNotFound", err)
	}

	_ = repo.Upsert(ctx, CallRecord{ID: "c1", DurationSeconds: 100})

	applied, err := repo.UpdateExisting(ctx, "c1", 0, "garbage")
	if err != nil || applied {
		t.Fatalf("no-op payload: applied=%v err=%v", applied, err)
	}

	applied, err = repo.UpdateExisting(ctx, "c1", 150, StatusAnswered)
	if err != nil || !applied {
		t.Fatalf("update: applied=%v err=%v", applied, err)
	}
	got, _ := repo.Get(ctx, "c1")
	if got.DurationSeconds != 150 || got.CallStatus != StatusAnswered {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestMemoryListOrdering(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Upsert(ctx, CallRecord{ID: "b", StartedAt: "2026-08-20T10:00:00Z"})
	_ = repo.Upsert(ctx, CallRecord{ID: "a", StartedAt: "2026-08-21T10:00:00Z"})
	_ = repo.Upsert(ctx, CallRecord{ID: "c", StartedAt: "2026-08-20T10:00:00Z"})

	rows, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ids := []string{rows[0].ID, rows[1].ID, rows[2].ID}
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("order = %v, want newest first then id", ids)
	}
}

func TestMemoryEarliestCallDates(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Upsert(ctx, CallRecord{ID: "1", CustomerPhoneNumber: "+1555", StartedAt: "2026-08-20T10:00:00Z"})
	_ = repo.Upsert(ctx, CallRecord{ID: "2", CustomerPhoneNumber: "+1555", StartedAt: "2026-08-01T10:00:00Z"})
	_ = repo.Upsert(ctx, CallRecord{ID: "3", StartedAt: "2026-08-05T10:00:00Z"}) // no phone

	first, err := repo.EarliestCallDates(ctx)
	if err != nil {
		t.Fatalf("EarliestCallDates: %v", err)
	}
	if len(first) != 1 || first["+1555"] != "2026-08-01" {
		t.Fatalf("first = %v", first)
	}
}

func TestMemoryStatsAndDailyCounts(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Upsert(ctx, CallRecord{ID: "1", StartedAt: "2026-08-20T10:00:00Z", DurationSeconds: 100})
	_ = repo.Upsert(ctx, CallRecord{ID: "2", StartedAt: "2026-08-20T11:00:00Z", DurationSeconds: 200})
	_ = repo.Upsert(ctx, CallRecord{ID: "3", StartedAt: "2026-08-22T11:00:00Z", DurationSeconds: 60})

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Rows != 3 || stats.MinDate != "2026-08-20" || stats.MaxDate != "2026-08-22" {
		t.Fatalf("stats = %+v", stats)
	}

	days, err := repo.DailyCounts(ctx, 10)
	if err != nil {
		t.Fatalf("DailyCounts: %v", err)
	}
	if len(days) != 2 || days[0].Day != "2026-08-22" {
		t.Fatalf("days = %+v", days)
	}
	if days[1].Calls != 2 || days[1].AvgSecs != 150 {
		t.Fatalf("day row = %+v", days[1])
	}
}

func TestMemoryRepairNormalization(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Upsert(ctx, CallRecord{ID: "c1", Tags: "Agent: Bob.", TagsNorm: ""})

	if err := repo.RepairNormalization(ctx, "c1", ",agent: bob.,", "Bob"); err != nil {
		t.Fatalf("RepairNormalization: %v", err)
	}
	got, _ := repo.Get(ctx, "c1")
	if got.TagsNorm != ",agent: bob.," || got.AgentName != "Bob" {
		t.Fatalf("repair not applied: %+v", got)
	}

	// Existing agent names are never overwritten.
	if err := repo.RepairNormalization(ctx, "c1", ",agent: bob.,", "Eve"); err != nil {
		t.Fatalf("RepairNormalization: %v", err)
	}
	got, _ = repo.Get(ctx, "c1")
	if got.AgentName != "Bob" {
		t.Fatalf("repair overwrote agent: %q", got.AgentName)
	}
}
