package ingest

import (
	"context"
	"errors"
	"testing"

	"calltrack-platform/internal/calltrack"
	"calltrack-platform/internal/store"
)

type fakeLister struct {
	calls []map[string]any
	err   error
	opts  calltrack.ListOptions
}

func (f *fakeLister) ListCalls(ctx context.Context, opts calltrack.ListOptions) ([]map[string]any, error) {
	f.opts = opts
	return f.calls, f.err
}

func TestBulkIngestShapes(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	res, err := svc.BulkIngest(ctx, []byte(`[{"call_id":"a","duration":10},{"no_id":true}]`))
	if err != nil {
		t.Fatalf("BulkIngest: %v", err)
	}
	if res.Received != 2 || res.Upserted != 1 || res.Skipped != 1 {
		t.Fatalf("res = %+v", res)
	}

	res, err = svc.BulkIngest(ctx, []byte(`{"calls":[{"call_id":"b"}]}`))
	if err != nil {
		t.Fatalf("BulkIngest wrapped: %v", err)
	}
	if res.Upserted != 1 {
		t.Fatalf("res = %+v", res)
	}

	if _, err := svc.BulkIngest(ctx, []byte(`{"rows":[]}`)); err == nil {
		t.Fatalf("expected error for unsupported shape")
	}
	if _, err := svc.BulkIngest(ctx, []byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestIngestWebhookIdempotent(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	payload := map[string]any{
		"id":          "c1",
		"duration":    float64(120),
		"call_status": "answered",
		"agent_name":  "Taylor",
	}
	if _, err := svc.IngestWebhook(ctx, payload); err != nil {
		t.Fatalf("IngestWebhook: %v", err)
	}
	// Replay with a degraded copy of the same event.
	if _, err := svc.IngestWebhook(ctx, map[string]any{"id": "c1", "duration": float64(0)}); err != nil {
		t.Fatalf("IngestWebhook replay: %v", err)
	}

	got, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationSeconds != 120 || got.CallStatus != store.StatusAnswered || got.AgentName != "Taylor" {
		t.Fatalf("replay regressed record: %+v", got)
	}

	if _, err := svc.IngestWebhook(ctx, map[string]any{"duration": 5}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestIngestWebhookUnwrapsEnvelope(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.IngestWebhook(ctx, map[string]any{
		"call": map[string]any{
			"id":          "c9",
			"duration":    float64(60),
			"call_status": "answered",
		},
	})
	if err != nil {
		t.Fatalf("IngestWebhook: %v", err)
	}
	if rec.ID != "c9" {
		t.Fatalf("ID = %q", rec.ID)
	}

	got, err := repo.Get(ctx, "c9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationSeconds != 60 || got.CallStatus != store.StatusAnswered {
		t.Fatalf("got = %+v", got)
	}

	// A non-object call field is not an envelope.
	if _, err := svc.IngestWebhook(ctx, map[string]any{"call": "oops"}); err == nil {
		t.Fatalf("expected error for non-envelope payload without id")
	}
}

func TestApplyCallUpdate(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	if _, err := svc.ApplyCallUpdate(ctx, map[string]any{"external_id": "nope", "duration": float64(60)}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	_ = repo.Upsert(ctx, store.CallRecord{ID: "c1", DurationSeconds: 100})

	// Largest positive duration across aliases wins.
	res, err := svc.ApplyCallUpdate(ctx, map[string]any{
		"id":          "c1",
		"duration":    float64(0),
		"talk_time":   float64(150),
		"call_status": "answered",
	})
	if err != nil {
		t.Fatalf("ApplyCallUpdate: %v", err)
	}
	if !res.Applied {
		t.Fatalf("res = %+v", res)
	}
	got, _ := repo.Get(ctx, "c1")
	if got.DurationSeconds != 150 || got.CallStatus != store.StatusAnswered {
		t.Fatalf("got = %+v", got)
	}

	// Payload with nothing applicable reports applied=false.
	res, err = svc.ApplyCallUpdate(ctx, map[string]any{"id": "c1", "duration": float64(0)})
	if err != nil {
		t.Fatalf("ApplyCallUpdate: %v", err)
	}
	if res.Applied {
		t.Fatalf("res = %+v", res)
	}
}

func TestApplyCallUpdateTargetsExternalID(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_ = repo.Upsert(ctx, store.CallRecord{ID: "ext-1", DurationSeconds: 10})
	_ = repo.Upsert(ctx, store.CallRecord{ID: "other", DurationSeconds: 10})

	res, err := svc.ApplyCallUpdate(ctx, map[string]any{
		"external_id": "ext-1",
		"id":          "other",
		"duration":    float64(99),
	})
	if err != nil {
		t.Fatalf("ApplyCallUpdate: %v", err)
	}
	if res.ID != "ext-1" || !res.Applied {
		t.Fatalf("res = %+v", res)
	}

	ext, _ := repo.Get(ctx, "ext-1")
	other, _ := repo.Get(ctx, "other")
	if ext.DurationSeconds != 99 || other.DurationSeconds != 10 {
		t.Fatalf("update hit the wrong row: ext=%d other=%d", ext.DurationSeconds, other.DurationSeconds)
	}
}

func TestRefreshFromProvider(t *testing.T) {
	repo := store.NewMemoryRepo()
	lister := &fakeLister{calls: []map[string]any{
		{"id": "p1", "duration": float64(60)},
		{"no_id": true},
	}}
	svc := NewService(repo, lister)
	ctx := context.Background()

	res, err := svc.RefreshFromProvider(ctx, calltrack.ListOptions{StartDate: "2026-08-14", EndDate: "2026-08-28"})
	if err != nil {
		t.Fatalf("RefreshFromProvider: %v", err)
	}
	if res.Examined != 2 || res.Upserted != 1 || res.Skipped != 1 {
		t.Fatalf("res = %+v", res)
	}
	if lister.opts.StartDate != "2026-08-14" {
		t.Fatalf("opts = %+v", lister.opts)
	}
	if _, err := repo.Get(ctx, "p1"); err != nil {
		t.Fatalf("record not stored: %v", err)
	}
}

func TestRefreshWithoutProvider(t *testing.T) {
	svc := NewService(store.NewMemoryRepo(), nil)
	if _, err := svc.RefreshFromProvider(context.Background(), calltrack.ListOptions{}); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("err = %v, want ErrProviderNotConfigured", err)
	}
}

func TestQuickRepair(t *testing.T) {
	repo := store.NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	// Row ingested before tag normalization existed.
	_ = repo.Upsert(ctx, store.CallRecord{ID: "c1", StartedAt: "2026-08-20T10:00:00Z", Tags: "Agent: Bob., VIP"})
	// Already consistent row.
	_ = repo.Upsert(ctx, store.CallRecord{ID: "c2", StartedAt: "2026-08-20T11:00:00Z", Tags: "VIP", TagsNorm: ",vip,", AgentName: "Ann"})

	res, err := svc.QuickRepair(ctx)
	if err != nil {
		t.Fatalf("QuickRepair: %v", err)
	}
	if res.Scanned != 2 || res.Repaired != 1 {
		t.Fatalf("res = %+v", res)
	}

	got, _ := repo.Get(ctx, "c1")
	if got.TagsNorm != ",agent: bob.,vip," {
		t.Fatalf("tags_norm = %q", got.TagsNorm)
	}
	if got.AgentName != "Bob" {
		t.Fatalf("agent = %q", got.AgentName)
	}
}
