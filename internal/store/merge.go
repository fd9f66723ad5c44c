package store

// Field-level merge policy for upserts. Concurrent or out-of-order delivery
// of the same call's events must converge to the best-known state, never to
// a regression, so the rules are applied field by field rather than as a
// blanket overwrite:
//
//   - monotonic numeric: only advance (duration)
//   - enum whitelist: only recognized values overwrite (call_status)
//   - wholesale when present: provider is source of truth (tags)
//   - replace if present: empty incoming never clears stored data
//   - immutable: set once at insert (id, created_at)
//
// The same table is mirrored by the Postgres ON CONFLICT clause; keep the
// two in sync when adding fields.

type fieldPolicy struct {
	name  string
	apply func(dst *CallRecord, src CallRecord)
}

var mergePolicies = []fieldPolicy{
	{"duration_seconds", func(dst *CallRecord, src CallRecord) {
		if src.DurationSeconds > dst.DurationSeconds || dst.DurationSeconds <= 0 {
			if src.DurationSeconds > 0 {
				dst.DurationSeconds = src.DurationSeconds
			}
		}
	}},
	{"call_status", func(dst *CallRecord, src CallRecord) {
		if RecognizedStatus(src.CallStatus) {
			dst.CallStatus = src.CallStatus
		}
	}},
	{"tags", func(dst *CallRecord, src CallRecord) {
		if src.HasTags() {
			dst.Tags = src.Tags
			dst.TagsNorm = src.TagsNorm
		}
	}},
	{"company_id", replaceString(func(r *CallRecord) *string { return &r.CompanyID })},
	{"company_name", replaceString(func(r *CallRecord) *string { return &r.CompanyName })},
	{"started_at", replaceString(func(r *CallRecord) *string { return &r.StartedAt })},
	{"source_name", replaceString(func(r *CallRecord) *string { return &r.SourceName })},
	{"tracking_number", replaceString(func(r *CallRecord) *string { return &r.TrackingNumber })},
	{"customer_phone_number", replaceString(func(r *CallRecord) *string { return &r.CustomerPhoneNumber })},
	{"call_type", replaceString(func(r *CallRecord) *string { return &r.CallType })},
	{"agent_name", replaceString(func(r *CallRecord) *string { return &r.AgentName })},
	{"recording_url", replaceString(func(r *CallRecord) *string { return &r.RecordingURL })},
	{"transcript", replaceString(func(r *CallRecord) *string { return &r.Transcript })},
	{"summary", replaceString(func(r *CallRecord) *string { return &r.Summary })},
	{"ring_time_seconds", func(dst *CallRecord, src CallRecord) {
		if src.RingTimeSeconds != nil {
			dst.RingTimeSeconds = src.RingTimeSeconds
		}
	}},
	{"hold_time_seconds", func(dst *CallRecord, src CallRecord) {
		if src.HoldTimeSeconds != nil {
			dst.HoldTimeSeconds = src.HoldTimeSeconds
		}
	}},
	{"qualified", func(dst *CallRecord, src CallRecord) {
		if src.Qualified != nil {
			dst.Qualified = src.Qualified
		}
	}},
	// id and created_at are immutable: no policy entry touches them.
}

func replaceString(field func(*CallRecord) *string) func(*CallRecord, CallRecord) {
	return func(dst *CallRecord, src CallRecord) {
		srcCopy := src
		if v := *field(&srcCopy); v != "" {
			*field(dst) = v
		}
	}
}

// Merge folds an incoming record into the stored one and returns the
// result. existing.ID and existing.CreatedAt always survive.
func Merge(existing, incoming CallRecord) CallRecord {
	out := existing
	for _, p := range mergePolicies {
		p.apply(&out, incoming)
	}
	return out
}
