// Package metrics is the aggregation engine: every aggregate is a pure
// read over a filtered snapshot of the record store. Nothing here mutates
// state, so every endpoint built on it is safe to retry.
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"calltrack-platform/internal/config"
	"calltrack-platform/internal/store"
)

type Service struct {
	repo store.Repository
	cfg  config.MetricsConfig

	// Now is injectable for deterministic windows in tests.
	Now func() time.Time
}

func NewService(repo store.Repository, cfg config.MetricsConfig) *Service {
	return &Service{repo: repo, cfg: cfg, Now: time.Now}
}

// QueryOptions are the shared knobs on every aggregate: a trailing-days
// window plus optional agent/tag restrictions.
type QueryOptions struct {
	Days      int
	OnlyAgent string
	OnlyTags  []string
}

// Window is the resolved inclusive date range of an aggregate response.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Service) window(days, defaultDays int) Window {
	if days <= 0 {
		days = defaultDays
	}
	today := s.Now().UTC()
	return Window{
		Start: today.AddDate(0, 0, -days).Format("2006-01-02"),
		End:   today.Format("2006-01-02"),
	}
}

// filter composes the date window with the agent and tag policies. A
// requested agent overrides the configured exclusion list; requested tags
// override the configured default tag list.
func (s *Service) filter(w Window, opts QueryOptions) store.Filter {
	f := store.Filter{Start: w.Start, End: w.End, OnlyAgent: opts.OnlyAgent}
	if opts.OnlyAgent == "" {
		f.ExcludeAgents = s.cfg.ExcludeAgents
	}
	if len(opts.OnlyTags) > 0 {
		f.OnlyTags = opts.OnlyTags
	} else {
		f.OnlyTags = s.cfg.DefaultOnlyTags
	}
	return f
}

func (s *Service) booked(r store.CallRecord) bool {
	return r.CallStatus == store.StatusAnswered && store.TagsContainAny(r.TagsNorm, s.cfg.BookingTags)
}

// ---------- answer rate ----------

type AnswerRate struct {
	Window
	Total      int     `json:"total"`
	Answered   int     `json:"answered"`
	AnswerRate float64 `json:"answer_rate"`
}

func (s *Service) AnswerRate(ctx context.Context, opts QueryOptions) (AnswerRate, error) {
	w := s.window(opts.Days, 7)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return AnswerRate{}, err
	}

	out := AnswerRate{Window: w, Total: len(rows)}
	for _, r := range rows {
		if r.CallStatus == store.StatusAnswered {
			out.Answered++
		}
	}
	out.AnswerRate = round4(ratio(out.Answered, out.Total))
	return out, nil
}

// ---------- conversion ----------

type Conversion struct {
	Window
	Answered   int     `json:"answered"`
	Booked     int     `json:"booked"`
	BookedRate float64 `json:"booked_rate"`
}

// Conversion reports, among answered calls in the window, the fraction
// carrying at least one configured booking tag.
func (s *Service) Conversion(ctx context.Context, opts QueryOptions) (Conversion, error) {
	w := s.window(opts.Days, 7)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return Conversion{}, err
	}

	out := Conversion{Window: w}
	for _, r := range rows {
		if r.CallStatus != store.StatusAnswered {
			continue
		}
		out.Answered++
		if s.booked(r) {
			out.Booked++
		}
	}
	out.BookedRate = round4(ratio(out.Booked, out.Answered))
	return out, nil
}

// ---------- agent scorecard ----------

type AgentRow struct {
	Agent      string  `json:"agent"`
	Calls      int     `json:"calls"`
	Answered   int     `json:"answered"`
	Booked     int     `json:"booked"`
	BookedRate float64 `json:"booked_rate"`
}

type AgentScorecard struct {
	Window
	Agents []AgentRow `json:"agents"`
}

func (s *Service) AgentScorecard(ctx context.Context, opts QueryOptions) (AgentScorecard, error) {
	w := s.window(opts.Days, 7)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return AgentScorecard{}, err
	}

	byAgent := map[string]*AgentRow{}
	for _, r := range rows {
		key := r.AgentName
		if key == "" {
			key = "(unknown)"
		}
		row, ok := byAgent[key]
		if !ok {
			row = &AgentRow{Agent: key}
			byAgent[key] = row
		}
		row.Calls++
		if r.CallStatus == store.StatusAnswered {
			row.Answered++
		}
		if s.booked(r) {
			row.Booked++
		}
	}

	out := AgentScorecard{Window: w, Agents: make([]AgentRow, 0, len(byAgent))}
	for _, row := range byAgent {
		row.BookedRate = round4(ratio(row.Booked, row.Answered))
		out.Agents = append(out.Agents, *row)
	}
	sortRowsByCalls(out.Agents, func(r AgentRow) (int, string) { return r.Calls, r.Agent })
	return out, nil
}

// ---------- grouped breakdowns ----------

type GroupRow struct {
	Key            string  `json:"key"`
	Calls          int     `json:"calls"`
	Answered       int     `json:"answered"`
	Booked         int     `json:"booked"`
	BookedRate     float64 `json:"booked_rate"`
	AvgTalkSeconds float64 `json:"avg_talk_seconds"`
}

type Breakdown struct {
	Window
	By   string     `json:"by"`
	Rows []GroupRow `json:"rows"`
}

// Breakdown groups matching records by company, source, or agent. Missing
// keys map to "Unknown"; rows sort by call count descending.
func (s *Service) Breakdown(ctx context.Context, by string, opts QueryOptions) (Breakdown, error) {
	var keyOf func(store.CallRecord) string
	switch by {
	case "company":
		keyOf = func(r store.CallRecord) string { return r.CompanyName }
	case "source":
		keyOf = func(r store.CallRecord) string { return r.SourceName }
	case "agent":
		keyOf = func(r store.CallRecord) string { return r.AgentName }
	default:
		return Breakdown{}, fmt.Errorf("metrics: unknown breakdown key %q", by)
	}

	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return Breakdown{}, err
	}

	type acc struct {
		row   GroupRow
		total int
	}
	groups := map[string]*acc{}
	for _, r := range rows {
		key := keyOf(r)
		if key == "" {
			key = "Unknown"
		}
		a, ok := groups[key]
		if !ok {
			a = &acc{row: GroupRow{Key: key}}
			groups[key] = a
		}
		a.row.Calls++
		a.total += r.DurationSeconds
		if r.CallStatus == store.StatusAnswered {
			a.row.Answered++
		}
		if s.booked(r) {
			a.row.Booked++
		}
	}

	out := Breakdown{Window: w, By: by, Rows: make([]GroupRow, 0, len(groups))}
	for _, a := range groups {
		a.row.BookedRate = round4(ratio(a.row.Booked, a.row.Answered))
		a.row.AvgTalkSeconds = round2(ratio(a.total, a.row.Calls))
		out.Rows = append(out.Rows, a.row)
	}
	sortRowsByCalls(out.Rows, func(r GroupRow) (int, string) { return r.Calls, r.Key })
	return out, nil
}

// ---------- duration buckets ----------

type DurationBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type DurationBuckets struct {
	Window
	Buckets []DurationBucket `json:"buckets"`
}

// durationBands are fixed, ascending, non-overlapping; max < 0 means open.
var durationBands = []struct {
	label string
	min   int
	max   int
}{
	{"0-30s", 0, 30},
	{"31-60s", 31, 60},
	{"61-120s", 61, 120},
	{"121-300s", 121, 300},
	{">300s", 301, -1},
}

// DurationBuckets partitions records into the fixed duration bands.
// Null/negative durations count as 0. Empty bands are omitted unless full
// is set.
func (s *Service) DurationBuckets(ctx context.Context, opts QueryOptions, full bool) (DurationBuckets, error) {
	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return DurationBuckets{}, err
	}

	counts := make([]int, len(durationBands))
	for _, r := range rows {
		d := r.DurationSeconds
		if d < 0 {
			d = 0
		}
		for i, band := range durationBands {
			if d >= band.min && (band.max < 0 || d <= band.max) {
				counts[i]++
				break
			}
		}
	}

	out := DurationBuckets{Window: w}
	for i, band := range durationBands {
		if counts[i] == 0 && !full {
			continue
		}
		out.Buckets = append(out.Buckets, DurationBucket{Label: band.label, Count: counts[i]})
	}
	return out, nil
}

// ---------- hour-of-day histogram ----------

type TimeBuckets struct {
	Window
	By      string `json:"by"`
	Buckets []struct {
		Bucket int `json:"bucket"`
		Count  int `json:"count"`
	} `json:"buckets"`
	// Grid always has exactly 24 cells, indexed by hour.
	Grid []int `json:"grid"`
}

func (s *Service) TimeBuckets(ctx context.Context, opts QueryOptions) (TimeBuckets, error) {
	w := s.window(opts.Days, 7)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return TimeBuckets{}, err
	}

	grid := make([]int, 24)
	for _, r := range rows {
		if hr, ok := hourOf(r.StartedAt); ok {
			grid[hr]++
		}
	}

	out := TimeBuckets{Window: w, By: "hour", Grid: grid}
	for h, c := range grid {
		if c > 0 {
			out.Buckets = append(out.Buckets, struct {
				Bucket int `json:"bucket"`
				Count  int `json:"count"`
			}{h, c})
		}
	}
	return out, nil
}

// ---------- hour x weekday heatmap ----------

type Heatmap struct {
	Window
	// Grid is always 7x24 (0=Sunday..6=Saturday by hour), zero-filled, so
	// consumers can index directly regardless of data sparsity.
	Grid [][]int `json:"grid"`
}

func (s *Service) Heatmap(ctx context.Context, opts QueryOptions) (Heatmap, error) {
	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return Heatmap{}, err
	}

	grid := make([][]int, 7)
	for i := range grid {
		grid[i] = make([]int, 24)
	}
	for _, r := range rows {
		dow, okd := weekdayOf(r.StartedAt)
		hr, okh := hourOf(r.StartedAt)
		if okd && okh {
			grid[dow][hr]++
		}
	}
	return Heatmap{Window: w, Grid: grid}, nil
}

// ---------- speed to answer ----------

type SpeedToAnswer struct {
	Window
	Total      int     `json:"total"`
	AvgSeconds float64 `json:"avg_seconds"`
	P50Seconds float64 `json:"p50_seconds"`
	P90Seconds float64 `json:"p90_seconds"`
	SLASeconds int     `json:"sla_seconds"`
	SLARate    float64 `json:"sla_rate"`
}

// SpeedToAnswer reports ring-time statistics for answered calls with a
// positive duration, and the share answered within the SLA threshold.
func (s *Service) SpeedToAnswer(ctx context.Context, opts QueryOptions, slaSeconds int) (SpeedToAnswer, error) {
	w := s.window(opts.Days, 7)
	f := s.filter(w, opts)
	f.AnsweredOnly = true
	f.PositiveDuration = true
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return SpeedToAnswer{}, err
	}

	rings := make([]int, 0, len(rows))
	within := 0
	sum := 0
	for _, r := range rows {
		ring := 0
		if r.RingTimeSeconds != nil {
			ring = *r.RingTimeSeconds
		}
		rings = append(rings, ring)
		sum += ring
		if ring <= slaSeconds {
			within++
		}
	}

	out := SpeedToAnswer{Window: w, Total: len(rings), SLASeconds: slaSeconds}
	if len(rings) > 0 {
		out.AvgSeconds = round2(float64(sum) / float64(len(rings)))
		out.P50Seconds = round2(percentile(rings, 0.5))
		out.P90Seconds = round2(percentile(rings, 0.9))
		out.SLARate = round4(float64(within) / float64(len(rings)))
	}
	return out, nil
}

// ---------- agent occupancy ----------

type OccupancyRow struct {
	Agent            string  `json:"agent"`
	AnsweredCalls    int     `json:"answered_calls"`
	TotalTalkSeconds int     `json:"total_talk_seconds"`
	TotalHoldSeconds int     `json:"total_hold_seconds"`
	AvgTalkSeconds   float64 `json:"avg_talk_seconds"`
}

type AgentOccupancy struct {
	Window
	Agents []OccupancyRow `json:"agents"`
}

func (s *Service) AgentOccupancy(ctx context.Context, opts QueryOptions) (AgentOccupancy, error) {
	w := s.window(opts.Days, 7)
	f := s.filter(w, opts)
	f.AnsweredOnly = true
	f.PositiveDuration = true
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return AgentOccupancy{}, err
	}

	byAgent := map[string]*OccupancyRow{}
	for _, r := range rows {
		key := r.AgentName
		if key == "" {
			key = "Unassigned"
		}
		row, ok := byAgent[key]
		if !ok {
			row = &OccupancyRow{Agent: key}
			byAgent[key] = row
		}
		row.AnsweredCalls++
		row.TotalTalkSeconds += r.DurationSeconds
		if r.HoldTimeSeconds != nil {
			row.TotalHoldSeconds += *r.HoldTimeSeconds
		}
	}

	out := AgentOccupancy{Window: w, Agents: make([]OccupancyRow, 0, len(byAgent))}
	for _, row := range byAgent {
		row.AvgTalkSeconds = round2(ratio(row.TotalTalkSeconds, row.AnsweredCalls))
		out.Agents = append(out.Agents, *row)
	}
	sort.Slice(out.Agents, func(i, j int) bool {
		if out.Agents[i].TotalTalkSeconds != out.Agents[j].TotalTalkSeconds {
			return out.Agents[i].TotalTalkSeconds > out.Agents[j].TotalTalkSeconds
		}
		return out.Agents[i].Agent < out.Agents[j].Agent
	})
	return out, nil
}

// ---------- new vs returning callers ----------

type NewVsReturning struct {
	Window
	NewCallers       int     `json:"new_callers"`
	ReturningCallers int     `json:"returning_callers"`
	NewRate          float64 `json:"new_rate"`
}

// NewVsReturning classifies each caller seen in the window by whether
// their earliest-ever call date falls inside it. Callers without a phone
// number are excluded entirely.
func (s *Service) NewVsReturning(ctx context.Context, opts QueryOptions) (NewVsReturning, error) {
	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return NewVsReturning{}, err
	}
	firstSeen, err := s.repo.EarliestCallDates(ctx)
	if err != nil {
		return NewVsReturning{}, err
	}

	seen := map[string]bool{}
	out := NewVsReturning{Window: w}
	for _, r := range rows {
		phone := r.CustomerPhoneNumber
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		first, ok := firstSeen[phone]
		if !ok {
			continue
		}
		if first >= w.Start {
			out.NewCallers++
		} else {
			out.ReturningCallers++
		}
	}
	out.NewRate = round4(ratio(out.NewCallers, out.NewCallers+out.ReturningCallers))
	return out, nil
}

// ---------- missed calls ----------

type Missed struct {
	Window
	Total               int     `json:"total"`
	Missed              int     `json:"missed"`
	MissedRate          float64 `json:"missed_rate"`
	CriticalMissed      int     `json:"critical_missed"`
	CriticalRingSeconds int     `json:"critical_ring_seconds"`
}

// Missed reports the overall missed rate plus "critical misses": missed
// calls where the caller rang at least criticalRing seconds before giving
// up.
func (s *Service) Missed(ctx context.Context, opts QueryOptions, criticalRing int) (Missed, error) {
	w := s.window(opts.Days, 7)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return Missed{}, err
	}

	out := Missed{Window: w, Total: len(rows), CriticalRingSeconds: criticalRing}
	for _, r := range rows {
		if r.CallStatus != store.StatusMissed {
			continue
		}
		out.Missed++
		ring := 0
		if r.RingTimeSeconds != nil {
			ring = *r.RingTimeSeconds
		}
		if ring >= criticalRing {
			out.CriticalMissed++
		}
	}
	out.MissedRate = round4(ratio(out.Missed, out.Total))
	return out, nil
}

// ---------- data quality ----------

type DataQuality struct {
	Window
	Total                 int     `json:"total"`
	Answered              int     `json:"answered"`
	AnsweredWithRecording int     `json:"answered_with_recording"`
	AnsweredZeroDuration  int     `json:"answered_zero_duration"`
	RecordingRate         float64 `json:"recording_rate"`
}

func (s *Service) DataQuality(ctx context.Context, opts QueryOptions) (DataQuality, error) {
	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return DataQuality{}, err
	}

	out := DataQuality{Window: w, Total: len(rows)}
	for _, r := range rows {
		if r.CallStatus != store.StatusAnswered {
			continue
		}
		out.Answered++
		if r.RecordingURL != "" {
			out.AnsweredWithRecording++
		}
		if r.DurationSeconds <= 0 {
			out.AnsweredZeroDuration++
		}
	}
	out.RecordingRate = round4(ratio(out.AnsweredWithRecording, out.Answered))
	return out, nil
}

// ---------- tag summary ----------

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type TagSummary struct {
	Window
	Tags          []TagCount `json:"tags"`
	TotalDistinct int        `json:"total_distinct"`
}

func (s *Service) TagSummary(ctx context.Context, opts QueryOptions, limit int) (TagSummary, error) {
	w := s.window(opts.Days, 30)
	rows, err := s.repo.List(ctx, s.filter(w, opts))
	if err != nil {
		return TagSummary{}, err
	}
	if limit <= 0 {
		limit = 25
	}

	counts := map[string]int{}
	for _, r := range rows {
		norm := strings.Trim(r.TagsNorm, ",")
		if norm == "" {
			continue
		}
		for _, tag := range strings.Split(norm, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				counts[tag]++
			}
		}
	}

	out := TagSummary{Window: w, TotalDistinct: len(counts)}
	for tag, c := range counts {
		out.Tags = append(out.Tags, TagCount{Tag: tag, Count: c})
	}
	sort.Slice(out.Tags, func(i, j int) bool {
		if out.Tags[i].Count != out.Tags[j].Count {
			return out.Tags[i].Count > out.Tags[j].Count
		}
		return out.Tags[i].Tag < out.Tags[j].Tag
	})
	if len(out.Tags) > limit {
		out.Tags = out.Tags[:limit]
	}
	return out, nil
}

// ---------- average call time report ----------

type AvgCallTime struct {
	Window
	AverageSeconds float64 `json:"average_seconds"`
	AverageHMS     string  `json:"average_hms"`
	Count          int     `json:"count"`
	Note           string  `json:"note,omitempty"`
}

// AvgCallTime reports the trailing-7-day average talk time of answered,
// positive-duration calls. onlyAgent matches the agent name exactly
// (case-insensitive) or an "Agent: <name>." tag, period optional.
func (s *Service) AvgCallTime(ctx context.Context, onlyAgent string) (AvgCallTime, error) {
	w := s.window(7, 7)
	f := store.Filter{Start: w.Start, End: w.End, AnsweredOnly: true, PositiveDuration: true}
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return AvgCallTime{}, err
	}

	canon := strings.ToLower(strings.TrimSpace(onlyAgent))
	count := 0
	sum := 0
	for _, r := range rows {
		if canon != "" && !matchesAgentOrTag(r, canon) {
			continue
		}
		count++
		sum += r.DurationSeconds
	}

	out := AvgCallTime{Window: w, Count: count}
	if count > 0 {
		out.AverageSeconds = float64(sum) / float64(count)
	}
	out.AverageHMS = formatHMS(out.AverageSeconds)
	if count == 0 && onlyAgent != "" {
		out.Note = fmt.Sprintf("No answered calls for agent %s in the last 7 days (by name or 'Agent: %s.' tag).", onlyAgent, onlyAgent)
	}
	return out, nil
}

func matchesAgentOrTag(r store.CallRecord, canonAgent string) bool {
	if strings.ToLower(r.AgentName) == canonAgent {
		return true
	}
	return store.TagsContainAny(r.TagsNorm, []string{
		"agent: " + canonAgent + ".",
		"agent: " + canonAgent,
	})
}

// ---------- agent preview ----------

type AgentPreview struct {
	Window
	Agent string             `json:"agent"`
	Count int                `json:"count"`
	Rows  []store.CallRecord `json:"rows"`
}

// AgentPreview lists recent rows carrying an "Agent: <name>" tag (period
// optional) for operator debugging.
func (s *Service) AgentPreview(ctx context.Context, tagAgent string, days int) (AgentPreview, error) {
	w := s.window(days, 14)
	canon := strings.ToLower(strings.TrimSpace(tagAgent))
	f := store.Filter{
		Start: w.Start,
		End:   w.End,
		OnlyTags: []string{
			"agent: " + canon + ".",
			"agent: " + canon,
		},
	}
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return AgentPreview{}, err
	}
	if len(rows) > 50 {
		rows = rows[:50]
	}
	return AgentPreview{Window: w, Agent: tagAgent, Count: len(rows), Rows: rows}, nil
}

// ---------- helpers ----------

// hourOf extracts the 0-23 hour from an ISO-8601-ish timestamp.
func hourOf(startedAt string) (int, bool) {
	if len(startedAt) < 13 {
		return 0, false
	}
	sep := startedAt[10]
	if sep != 'T' && sep != ' ' {
		return 0, false
	}
	hr, err := strconv.Atoi(startedAt[11:13])
	if err != nil || hr < 0 || hr > 23 {
		return 0, false
	}
	return hr, true
}

// weekdayOf extracts the weekday (0=Sunday..6=Saturday) from the date
// prefix.
func weekdayOf(startedAt string) (int, bool) {
	if len(startedAt) < 10 {
		return 0, false
	}
	t, err := time.Parse("2006-01-02", startedAt[:10])
	if err != nil {
		return 0, false
	}
	return int(t.Weekday()), true
}

func formatHMS(seconds float64) string {
	s := int(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func sortRowsByCalls[T any](rows []T, key func(T) (int, string)) {
	sort.Slice(rows, func(i, j int) bool {
		ci, ki := key(rows[i])
		cj, kj := key(rows[j])
		if ci != cj {
			return ci > cj
		}
		return ki < kj
	})
}
