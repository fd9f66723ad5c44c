package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"calltrack-platform/pkg/utils"
)

// PostgresRepo is the durable Repository backed by Postgres via the pgx
// stdlib driver. The upsert is a single INSERT .. ON CONFLICT statement so
// per-id merges serialize inside the storage engine and never act on a
// stale read.
type PostgresRepo struct {
	db *sql.DB

	// Now is injectable for deterministic created_at values in tests.
	Now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, Now: time.Now}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS calls (
    id                    TEXT PRIMARY KEY,
    company_id            TEXT NOT NULL DEFAULT '',
    company_name          TEXT NOT NULL DEFAULT '',
    started_at            TEXT NOT NULL DEFAULT '',
    duration_seconds      INTEGER NOT NULL DEFAULT 0,
    ring_time_seconds     INTEGER,
    hold_time_seconds     INTEGER,
    source_name           TEXT NOT NULL DEFAULT '',
    tracking_number       TEXT NOT NULL DEFAULT '',
    customer_phone_number TEXT NOT NULL DEFAULT '',
    tags                  TEXT NOT NULL DEFAULT '',
    tags_norm             TEXT NOT NULL DEFAULT '',
    call_type             TEXT NOT NULL DEFAULT '',
    call_status           TEXT NOT NULL DEFAULT '',
    agent_name            TEXT NOT NULL DEFAULT '',
    recording_url         TEXT NOT NULL DEFAULT '',
    transcript            TEXT NOT NULL DEFAULT '',
    summary               TEXT NOT NULL DEFAULT '',
    qualified             BOOLEAN,
    created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_start_date ON calls ((left(started_at, 10)));
CREATE INDEX IF NOT EXISTS idx_calls_status     ON calls (call_status);
CREATE INDEX IF NOT EXISTS idx_calls_agent      ON calls (agent_name);
CREATE INDEX IF NOT EXISTS idx_calls_tags_norm  ON calls (tags_norm);
CREATE INDEX IF NOT EXISTS idx_calls_duration   ON calls (duration_seconds);
`

// InitSchema creates the calls table and its secondary indexes. Safe to
// call on every startup.
func (r *PostgresRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schemaDDL)
	return err
}

const selectCols = `id, company_id, company_name, started_at, duration_seconds,
ring_time_seconds, hold_time_seconds, source_name, tracking_number,
customer_phone_number, tags, tags_norm, call_type, call_status, agent_name,
recording_url, transcript, summary, qualified, created_at`

// upsertSQL mirrors the merge-policy table in merge.go. Keep the two in
// sync when adding fields.
const upsertSQL = `
INSERT INTO calls (
    id, company_id, company_name, started_at, duration_seconds,
    ring_time_seconds, hold_time_seconds, source_name, tracking_number,
    customer_phone_number, tags, tags_norm, call_type, call_status,
    agent_name, recording_url, transcript, summary, qualified, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id) DO UPDATE SET
    company_id            = COALESCE(NULLIF(EXCLUDED.company_id, ''), calls.company_id),
    company_name          = COALESCE(NULLIF(EXCLUDED.company_name, ''), calls.company_name),
    started_at            = COALESCE(NULLIF(EXCLUDED.started_at, ''), calls.started_at),
    duration_seconds      = CASE
                              WHEN EXCLUDED.duration_seconds > 0
                               AND (calls.duration_seconds <= 0 OR EXCLUDED.duration_seconds > calls.duration_seconds)
                              THEN EXCLUDED.duration_seconds
                              ELSE calls.duration_seconds
                            END,
    ring_time_seconds     = COALESCE(EXCLUDED.ring_time_seconds, calls.ring_time_seconds),
    hold_time_seconds     = COALESCE(EXCLUDED.hold_time_seconds, calls.hold_time_seconds),
    source_name           = COALESCE(NULLIF(EXCLUDED.source_name, ''), calls.source_name),
    tracking_number       = COALESCE(NULLIF(EXCLUDED.tracking_number, ''), calls.tracking_number),
    customer_phone_number = COALESCE(NULLIF(EXCLUDED.customer_phone_number, ''), calls.customer_phone_number),
    tags                  = CASE WHEN EXCLUDED.tags_norm <> '' THEN EXCLUDED.tags ELSE calls.tags END,
    tags_norm             = CASE WHEN EXCLUDED.tags_norm <> '' THEN EXCLUDED.tags_norm ELSE calls.tags_norm END,
    call_type             = COALESCE(NULLIF(EXCLUDED.call_type, ''), calls.call_type),
    call_status           = CASE
                              WHEN EXCLUDED.call_status IN ('answered','missed','voicemail','no-answer')
                              THEN EXCLUDED.call_status
                              ELSE calls.call_status
                            END,
    agent_name            = COALESCE(NULLIF(EXCLUDED.agent_name, ''), calls.agent_name),
    recording_url         = COALESCE(NULLIF(EXCLUDED.recording_url, ''), calls.recording_url),
    transcript            = COALESCE(NULLIF(EXCLUDED.transcript, ''), calls.transcript),
    summary               = COALESCE(NULLIF(EXCLUDED.summary, ''), calls.summary),
    qualified             = COALESCE(EXCLUDED.qualified, calls.qualified)
`

func (r *PostgresRepo) Upsert(ctx context.Context, rec CallRecord) error {
	return r.upsertExec(ctx, r.db.ExecContext, rec)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (r *PostgresRepo) upsertExec(ctx context.Context, exec execFunc, rec CallRecord) error {
	createdAt := rec.CreatedAt
	if createdAt == "" {
		createdAt = r.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(ctx, upsertSQL,
		rec.ID,
		rec.CompanyID,
		rec.CompanyName,
		rec.StartedAt,
		rec.DurationSeconds,
		nullInt(rec.RingTimeSeconds),
		nullInt(rec.HoldTimeSeconds),
		rec.SourceName,
		rec.TrackingNumber,
		rec.CustomerPhoneNumber,
		rec.Tags,
		rec.TagsNorm,
		rec.CallType,
		string(rec.CallStatus),
		rec.AgentName,
		rec.RecordingURL,
		rec.Transcript,
		rec.Summary,
		nullBool(rec.Qualified),
		createdAt,
	)
	return err
}

// UpsertBatch writes records inside one transaction and returns how many
// were written. Used by bulk ingest and provider refresh so a partial
// batch failure does not leave half-applied rows.
func (r *PostgresRepo) UpsertBatch(ctx context.Context, recs []CallRecord) (int, error) {
	written := 0
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, rec := range recs {
			if err := r.upsertExec(ctx, tx.ExecContext, rec); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

const updateExistingSQL = `
UPDATE calls SET
    duration_seconds = CASE
                         WHEN $2 > 0 AND (duration_seconds <= 0 OR $2 > duration_seconds)
                         THEN $2
                         ELSE duration_seconds
                       END,
    call_status      = CASE
                         WHEN $3 IN ('answered','missed','voicemail','no-answer')
                         THEN $3
                         ELSE call_status
                       END
WHERE id = $1
`

func (r *PostgresRepo) UpdateExisting(ctx context.Context, id string, durationSeconds int, status CallStatus) (bool, error) {
	if durationSeconds <= 0 && !RecognizedStatus(status) {
		// Nothing applicable; still surface unknown ids.
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM calls WHERE id = $1`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}

	res, err := r.db.ExecContext(ctx, updateExistingSQL, id, durationSeconds, string(status))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM calls WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]CallRecord, error) {
	where, args := buildWhere(f)
	q := `SELECT ` + selectCols + ` FROM calls` + where + ` ORDER BY started_at DESC, id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) EarliestCallDates(ctx context.Context) (map[string]string, error) {
	const q = `
SELECT customer_phone_number, MIN(left(started_at, 10))
FROM calls
WHERE customer_phone_number <> '' AND length(started_at) >= 10
GROUP BY customer_phone_number
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var phone, first string
		if err := rows.Scan(&phone, &first); err != nil {
			return nil, err
		}
		out[phone] = first
	}
	return out, rows.Err()
}

func (r *PostgresRepo) RepairNormalization(ctx context.Context, id, tagsNorm, agentName string) error {
	const q = `
UPDATE calls SET
    tags_norm  = $2,
    agent_name = CASE WHEN $3 <> '' AND agent_name = '' THEN $3 ELSE agent_name END
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, tagsNorm, agentName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Stats(ctx context.Context) (Stats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(MIN(NULLIF(left(started_at, 10), '')), ''),
       COALESCE(MAX(NULLIF(left(started_at, 10), '')), '')
FROM calls
`
	var s Stats
	if err := r.db.QueryRowContext(ctx, q).Scan(&s.Rows, &s.MinDate, &s.MaxDate); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (r *PostgresRepo) DailyCounts(ctx context.Context, limit int) ([]DailyCount, error) {
	const q = `
SELECT left(started_at, 10) AS day,
       COUNT(*) AS calls,
       AVG(duration_seconds)::float8 AS avg_secs
FROM calls
WHERE length(started_at) >= 10
GROUP BY day
ORDER BY day DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DailyCount, 0)
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Day, &d.Calls, &d.AvgSecs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (CallRecord, error) {
	var (
		rec       CallRecord
		ring      sql.NullInt64
		hold      sql.NullInt64
		qualified sql.NullBool
		status    string
	)
	err := s.Scan(
		&rec.ID,
		&rec.CompanyID,
		&rec.CompanyName,
		&rec.StartedAt,
		&rec.DurationSeconds,
		&ring,
		&hold,
		&rec.SourceName,
		&rec.TrackingNumber,
		&rec.CustomerPhoneNumber,
		&rec.Tags,
		&rec.TagsNorm,
		&rec.CallType,
		&status,
		&rec.AgentName,
		&rec.RecordingURL,
		&rec.Transcript,
		&rec.Summary,
		&qualified,
		&rec.CreatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}
	rec.CallStatus = CallStatus(status)
	if ring.Valid {
		n := int(ring.Int64)
		rec.RingTimeSeconds = &n
	}
	if hold.Valid {
		n := int(hold.Int64)
		rec.HoldTimeSeconds = &n
	}
	if qualified.Valid {
		b := qualified.Bool
		rec.Qualified = &b
	}
	return rec, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
