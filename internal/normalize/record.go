package normalize

import (
	"errors"
	"strconv"
	"strings"

	"calltrack-platform/internal/store"
)

// ErrMissingIdentifier means the payload carried no usable call id. The
// single record is rejected; callers must not fail a whole batch on it.
var ErrMissingIdentifier = errors.New("normalize: payload has no call identifier")

// Source identifies which ingestion path produced a raw payload. It only
// affects which field aliases are consulted first, never the output shape.
type Source int

const (
	SourceProvider Source = iota
	SourceWebhook
	// SourceUpdate is the update-only webhook: events there key on
	// external_id first, even when an id field is also present.
	SourceUpdate
	SourceBulk
)

func (s Source) idAliases() []string {
	switch s {
	case SourceUpdate:
		return []string{"external_id", "id", "call_id"}
	case SourceBulk:
		return []string{"call_id", "id", "external_id"}
	default: // SourceProvider, SourceWebhook
		return []string{"id", "call_id", "external_id"}
	}
}

// DurationAliases are consulted in order by Record; the update-only webhook
// path scans all of them for the largest positive value instead.
var DurationAliases = []string{
	"duration_seconds",
	"duration_in_seconds",
	"duration",
	"call_length",
	"call_duration",
	"talk_time",
	"total_duration",
}

var startedAtAliases = []string{"started_at", "start_time", "start_time_iso8601"}

// Record builds one canonical CallRecord from one raw payload map. Pure:
// no I/O, independently testable given only the map.
func Record(raw map[string]any, src Source) (store.CallRecord, error) {
	id := firstString(raw, src.idAliases()...)
	if id == "" {
		return store.CallRecord{}, ErrMissingIdentifier
	}

	rec := store.CallRecord{
		ID:                  id,
		CompanyID:           stringField(raw, "company_id"),
		CompanyName:         stringField(raw, "company_name"),
		StartedAt:           firstString(raw, startedAtAliases...),
		SourceName:          firstString(raw, "source_name", "source"),
		TrackingNumber:      firstString(raw, "tracking_number", "tracking_phone_number", "business_phone_number"),
		CustomerPhoneNumber: stringField(raw, "customer_phone_number"),
		CallType:            firstString(raw, "direction", "call_type"),
		RecordingURL:        firstString(raw, "recording_url", "recording"),
		Transcript:          stringField(raw, "transcript"),
		Summary:             stringField(raw, "summary"),
	}

	if v, ok := firstPresent(raw, DurationAliases...); ok {
		rec.DurationSeconds = ParseDuration(v)
	}
	if v, ok := raw["ring_time_seconds"]; ok && v != nil {
		n := ParseDuration(v)
		rec.RingTimeSeconds = &n
	}
	if v, ok := raw["hold_time_seconds"]; ok && v != nil {
		n := ParseDuration(v)
		rec.HoldTimeSeconds = &n
	}
	if v, ok := raw["qualified"]; ok && v != nil {
		b := truthy(v)
		rec.Qualified = &b
	}

	var tagAgents []string
	if v, ok := raw["tags"]; ok && v != nil {
		nt := Tags(v)
		rec.Tags = nt.CSV
		rec.TagsNorm = nt.Norm
		tagAgents = nt.Agents
	}

	rec.AgentName = resolveAgent(raw, tagAgents)
	rec.CallStatus = resolveStatus(raw)

	return rec, nil
}

// resolveAgent prefers an explicit agent field, then the local part of an
// email-style agent id (dot tokens title-cased), then the first tag-derived
// agent.
func resolveAgent(raw map[string]any, tagAgents []string) string {
	if name := firstString(raw, "agent_name", "agent"); name != "" {
		return name
	}
	if email := stringField(raw, "agent_email"); email != "" {
		local := email
		if at := strings.IndexByte(email, '@'); at > 0 {
			local = email[:at]
		}
		if name := titleCase(local); name != "" {
			return name
		}
	}
	if len(tagAgents) > 0 {
		return tagAgents[0]
	}
	return ""
}

// resolveStatus prefers an explicit recognized status ("completed" counts
// as answered). Without one, answered/voicemail flags derive the status
// with precedence answered > voicemail > missed — but only when at least
// one flag is actually present, so a partial payload cannot invent a
// "missed" that would pass the merge whitelist.
func resolveStatus(raw map[string]any) store.CallStatus {
	if s := strings.ToLower(strings.TrimSpace(stringField(raw, "call_status"))); s != "" {
		if s == "completed" {
			return store.StatusAnswered
		}
		if st := store.CallStatus(s); store.RecognizedStatus(st) {
			return st
		}
	}

	answered, hasAnswered := raw["answered"]
	voicemail, hasVoicemail := raw["voicemail"]
	if !hasAnswered && !hasVoicemail {
		return ""
	}
	if hasAnswered && truthy(answered) {
		return store.StatusAnswered
	}
	if hasVoicemail && truthy(voicemail) {
		return store.StatusVoicemail
	}
	return store.StatusMissed
}

// BestDuration scans every duration alias and returns the largest positive
// value found, protecting against partial events where one field is 0 but
// another carries the final figure. Returns 0 when nothing positive exists.
func BestDuration(raw map[string]any) int {
	best := 0
	for _, key := range DurationAliases {
		if v, ok := raw[key]; ok {
			if secs := ParseDuration(v); secs > best {
				best = secs
			}
		}
	}
	return best
}

func firstPresent(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(raw, k); s != "" {
			return s
		}
	}
	return ""
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		// JSON numbers; provider ids are sometimes numeric.
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y":
			return true
		}
	}
	return false
}
