// Package ingest owns every write path into the call-record store: bulk
// uploads, webhooks, provider refreshes, and normalization repair. All
// paths converge on the same canonical form and the same merge rules, so
// replays and overlapping fetches are safe.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"calltrack-platform/internal/calltrack"
	"calltrack-platform/internal/normalize"
	"calltrack-platform/internal/obs"
	"calltrack-platform/internal/store"
	"calltrack-platform/pkg/logger"
)

// ErrProviderNotConfigured is returned by refresh when the upstream
// credentials are absent.
var ErrProviderNotConfigured = errors.New("ingest: provider credentials not configured")

// Lister is the slice of the provider client refresh depends on.
type Lister interface {
	ListCalls(ctx context.Context, opts calltrack.ListOptions) ([]map[string]any, error)
}

type Service struct {
	repo     store.Repository
	provider Lister // nil when credentials are not configured
}

func NewService(repo store.Repository, provider Lister) *Service {
	return &Service{repo: repo, provider: provider}
}

// BulkResult summarizes one bulk ingestion request.
type BulkResult struct {
	Received int `json:"received"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
}

// BulkIngest accepts either a bare JSON array of payloads or an object
// with a "calls" array. Rows without a usable identifier are skipped and
// counted, never failing the batch.
func (s *Service) BulkIngest(ctx context.Context, body []byte) (BulkResult, error) {
	rows, err := decodeBulkBody(body)
	if err != nil {
		return BulkResult{}, err
	}

	out := BulkResult{Received: len(rows)}
	recs := make([]store.CallRecord, 0, len(rows))
	for _, raw := range rows {
		rec, err := normalize.Record(raw, normalize.SourceBulk)
		if err != nil {
			out.Skipped++
			obs.RecordsRejected.WithLabelValues("missing_id").Inc()
			continue
		}
		recs = append(recs, rec)
	}

	n, err := s.repo.UpsertBatch(ctx, recs)
	if err != nil {
		return BulkResult{}, err
	}
	out.Upserted = n
	obs.RecordsUpserted.WithLabelValues("bulk").Add(float64(n))

	logger.From(ctx).Info("bulk ingest complete",
		"received", out.Received, "upserted", out.Upserted, "skipped", out.Skipped)
	return out, nil
}

func decodeBulkBody(body []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Calls []map[string]any `json:"calls"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Calls == nil {
		return nil, fmt.Errorf("ingest: body must be a JSON array or an object with a calls array")
	}
	return wrapped.Calls, nil
}

// unwrapEnvelope strips the {"call": {...}} envelope some provider
// events arrive in. Payloads without one pass through untouched.
func unwrapEnvelope(raw map[string]any) map[string]any {
	if inner, ok := raw["call"].(map[string]any); ok {
		return inner
	}
	return raw
}

// IngestWebhook normalizes one webhook payload and upserts it. Replays
// are idempotent; partial events cannot regress stored values because the
// merge rules run in the store.
func (s *Service) IngestWebhook(ctx context.Context, raw map[string]any) (store.CallRecord, error) {
	raw = unwrapEnvelope(raw)
	rec, err := normalize.Record(raw, normalize.SourceWebhook)
	if err != nil {
		obs.RecordsRejected.WithLabelValues("missing_id").Inc()
		return store.CallRecord{}, err
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return store.CallRecord{}, err
	}
	obs.RecordsUpserted.WithLabelValues("webhook").Inc()
	return rec, nil
}

// UpdateResult reports what an update-only webhook did to the targeted
// row.
type UpdateResult struct {
	ID      string `json:"id"`
	Applied bool   `json:"applied"`
}

// ApplyCallUpdate handles the update-only webhook: it takes the largest
// positive duration across every known alias, plus a whitelisted status,
// and applies them to an existing row. Unknown ids surface
// store.ErrNotFound; nothing is ever created here.
func (s *Service) ApplyCallUpdate(ctx context.Context, raw map[string]any) (UpdateResult, error) {
	rec, err := normalize.Record(raw, normalize.SourceUpdate)
	if err != nil {
		obs.RecordsRejected.WithLabelValues("missing_id").Inc()
		return UpdateResult{}, err
	}

	applied, err := s.repo.UpdateExisting(ctx, rec.ID, normalize.BestDuration(raw), rec.CallStatus)
	if err != nil {
		return UpdateResult{}, err
	}
	if applied {
		obs.RecordsUpserted.WithLabelValues("update").Inc()
	}
	return UpdateResult{ID: rec.ID, Applied: applied}, nil
}

// RefreshResult summarizes one provider refresh.
type RefreshResult struct {
	Examined int `json:"examined"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
}

// RefreshFromProvider pulls every page of the upstream window and upserts
// the results. Re-running over an already-ingested window is a no-op
// beyond the fetch itself.
func (s *Service) RefreshFromProvider(ctx context.Context, opts calltrack.ListOptions) (RefreshResult, error) {
	if s.provider == nil {
		return RefreshResult{}, ErrProviderNotConfigured
	}

	raws, err := s.provider.ListCalls(ctx, opts)
	if err != nil {
		return RefreshResult{}, err
	}

	out := RefreshResult{Examined: len(raws)}
	recs := make([]store.CallRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := normalize.Record(raw, normalize.SourceProvider)
		if err != nil {
			out.Skipped++
			obs.RecordsRejected.WithLabelValues("missing_id").Inc()
			continue
		}
		recs = append(recs, rec)
	}

	n, err := s.repo.UpsertBatch(ctx, recs)
	if err != nil {
		return RefreshResult{}, err
	}
	out.Upserted = n
	obs.RecordsUpserted.WithLabelValues("provider").Add(float64(n))

	logger.From(ctx).Info("provider refresh complete",
		"start", opts.StartDate, "end", opts.EndDate,
		"examined", out.Examined, "upserted", out.Upserted, "skipped", out.Skipped)
	return out, nil
}

// RepairResult summarizes a normalization repair sweep.
type RepairResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

// QuickRepair re-derives tags_norm (and a tag-derived agent name where
// the row has none) from each stored row's display tags. Used after a
// normalization rule changes so old rows match new filters.
func (s *Service) QuickRepair(ctx context.Context) (RepairResult, error) {
	rows, err := s.repo.List(ctx, store.Filter{})
	if err != nil {
		return RepairResult{}, err
	}

	out := RepairResult{Scanned: len(rows)}
	for _, r := range rows {
		if r.Tags == "" {
			// Nothing to re-derive; keeps the absent-vs-empty tag
			// distinction intact.
			continue
		}
		nt := normalize.Tags(r.Tags)
		agent := ""
		if r.AgentName == "" && len(nt.Agents) > 0 {
			agent = nt.Agents[0]
		}
		if nt.Norm == r.TagsNorm && agent == "" {
			continue
		}
		if err := s.repo.RepairNormalization(ctx, r.ID, nt.Norm, agent); err != nil {
			return out, err
		}
		out.Repaired++
	}

	logger.From(ctx).Info("normalization repair complete",
		"scanned", out.Scanned, "repaired", out.Repaired)
	return out, nil
}
