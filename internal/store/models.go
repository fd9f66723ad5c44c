package store

// CallRecord is the canonical representation of one physical call,
// independent of which ingestion path produced it. Keyed by the provider
// call id or webhook external id.
//
// StartedAt and CreatedAt are kept as ISO-8601 text; the offset convention
// is whatever the upstream sent, and every date-range filter operates on
// the leading 10 characters (YYYY-MM-DD).
//
// Optional numeric/boolean fields are pointers so an absent value can be
// told apart from zero when the merge rules run.
type CallRecord struct {
	ID          string `json:"id" db:"id"`
	CompanyID   string `json:"company_id,omitempty" db:"company_id"`
	CompanyName string `json:"company_name,omitempty" db:"company_name"`

	StartedAt string `json:"started_at,omitempty" db:"started_at"`

	// DurationSeconds is the canonical talk duration. Monotonic-merge
	// field: it never decreases across upserts.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	RingTimeSeconds *int `json:"ring_time_seconds,omitempty" db:"ring_time_seconds"`
	HoldTimeSeconds *int `json:"hold_time_seconds,omitempty" db:"hold_time_seconds"`

	SourceName          string `json:"source_name,omitempty" db:"source_name"`
	TrackingNumber      string `json:"tracking_number,omitempty" db:"tracking_number"`
	CustomerPhoneNumber string `json:"customer_phone_number,omitempty" db:"customer_phone_number"`

	// Tags preserves original casing; TagsNorm is the lowercase
	// comma-padded form used for containment tests. TagsNorm == "" means
	// the source payload carried no tags at all (a present-but-empty tag
	// list normalizes to ",,").
	Tags     string `json:"tags,omitempty" db:"tags"`
	TagsNorm string `json:"tags_norm,omitempty" db:"tags_norm"`

	CallType   string     `json:"call_type,omitempty" db:"call_type"`
	CallStatus CallStatus `json:"call_status,omitempty" db:"call_status"`

	AgentName string `json:"agent_name,omitempty" db:"agent_name"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	Transcript   string `json:"transcript,omitempty" db:"transcript"`
	Summary      string `json:"summary,omitempty" db:"summary"`
	Qualified    *bool  `json:"qualified,omitempty" db:"qualified"`

	// CreatedAt is fixed at first insert and never touched by merges.
	CreatedAt string `json:"created_at,omitempty" db:"created_at"`
}

type CallStatus string

const (
	StatusAnswered  CallStatus = "answered"
	StatusMissed    CallStatus = "missed"
	StatusVoicemail CallStatus = "voicemail"
	StatusNoAnswer  CallStatus = "no-answer"
)

// RecognizedStatus reports whether s is one of the enumerated statuses.
// Only recognized values may overwrite a stored status.
func RecognizedStatus(s CallStatus) bool {
	switch s {
	case StatusAnswered, StatusMissed, StatusVoicemail, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Date returns the YYYY-MM-DD prefix of StartedAt, or "" when absent.
func (r CallRecord) Date() string {
	if len(r.StartedAt) < 10 {
		return ""
	}
	return r.StartedAt[:10]
}

// HasTags reports whether the source payload carried a tag field.
func (r CallRecord) HasTags() bool {
	return r.TagsNorm != ""
}
