package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by update-only paths targeting an unknown id.
// No record is ever created implicitly by those paths.
var ErrNotFound = errors.New("store: call not found")

// Stats is a debug snapshot of the store.
type Stats struct {
	Rows    int    `json:"rows"`
	MinDate string `json:"min_date,omitempty"`
	MaxDate string `json:"max_date,omitempty"`
}

// DailyCount is one row of the per-day debug breakdown.
type DailyCount struct {
	Day     string  `json:"day"`
	Calls   int     `json:"calls"`
	AvgSecs float64 `json:"avg_secs"`
}

// Repository is the durable call-record store. Upsert must be atomic per
// record: concurrent upserts for the same id serialize in the storage
// engine so the merge rules never run against a stale read. Reads take no
// exclusive lock and may lag in-flight writes.
type Repository interface {
	// Upsert inserts the record or merges it into the stored row per the
	// field policy table. created_at is fixed at first insert.
	Upsert(ctx context.Context, rec CallRecord) error

	// UpsertBatch writes records as one unit and returns how many were
	// written.
	UpsertBatch(ctx context.Context, recs []CallRecord) (int, error)

	// UpdateExisting applies the monotonic-duration and status-whitelist
	// rules to an existing row. It never creates one: ErrNotFound when the
	// id is absent. applied is false when the incoming values carried
	// nothing that could change a row (non-positive duration, unrecognized
	// status).
	UpdateExisting(ctx context.Context, id string, durationSeconds int, status CallStatus) (applied bool, err error)

	Get(ctx context.Context, id string) (CallRecord, error)

	// List returns records matching the filter, newest started_at first.
	List(ctx context.Context, f Filter) ([]CallRecord, error)

	// EarliestCallDates maps each customer phone number to the YYYY-MM-DD
	// of its earliest-ever call. Records without a phone number or start
	// date are skipped.
	EarliestCallDates(ctx context.Context) (map[string]string, error)

	// RepairNormalization rewrites tags_norm and, when agentName is
	// non-empty, backfills agent_name for one row.
	RepairNormalization(ctx context.Context, id, tagsNorm, agentName string) error

	Stats(ctx context.Context) (Stats, error)
	DailyCounts(ctx context.Context, limit int) ([]DailyCount, error)
}
