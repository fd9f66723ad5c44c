package store

import (
	"fmt"
	"strings"
)

// Filter is the composed predicate shared by every aggregate query. The
// memory repository evaluates Match; the Postgres repository renders the
// same semantics to a WHERE clause via the *Clause builders. Zero value
// matches everything.
type Filter struct {
	// Start/End are inclusive YYYY-MM-DD bounds compared against the
	// leading 10 characters of started_at. Empty means unbounded.
	Start string
	End   string

	// OnlyAgent restricts to one agent by exact, case-insensitive name
	// match and overrides ExcludeAgents.
	OnlyAgent string
	// ExcludeAgents drops the listed agents. Records with no agent name
	// are always retained.
	ExcludeAgents []string

	// OnlyTags requires at least one of the listed tags (OR) to appear as
	// a padded substring of tags_norm.
	OnlyTags []string

	OnlyCompany string

	AnsweredOnly     bool
	PositiveDuration bool
}

// Match reports whether r satisfies the filter.
func (f Filter) Match(r CallRecord) bool {
	if f.Start != "" || f.End != "" {
		d := r.Date()
		if d == "" {
			return false
		}
		if f.Start != "" && d < f.Start {
			return false
		}
		if f.End != "" && d > f.End {
			return false
		}
	}

	if f.OnlyAgent != "" {
		if !strings.EqualFold(r.AgentName, f.OnlyAgent) {
			return false
		}
	} else if len(f.ExcludeAgents) > 0 && r.AgentName != "" {
		for _, ex := range f.ExcludeAgents {
			if strings.EqualFold(r.AgentName, ex) {
				return false
			}
		}
	}

	if len(f.OnlyTags) > 0 && !TagsContainAny(r.TagsNorm, f.OnlyTags) {
		return false
	}

	if f.OnlyCompany != "" && r.CompanyID != f.OnlyCompany {
		return false
	}
	if f.AnsweredOnly && r.CallStatus != StatusAnswered {
		return false
	}
	if f.PositiveDuration && r.DurationSeconds <= 0 {
		return false
	}
	return true
}

// TagsContainAny reports whether any of tags appears in the comma-padded
// tagsNorm form. Padding both sides prevents partial-token matches.
func TagsContainAny(tagsNorm string, tags []string) bool {
	padded := tagsNorm
	if padded == "" {
		padded = ",,"
	}
	for _, t := range tags {
		needle := "," + strings.ToLower(strings.TrimSpace(t)) + ","
		if strings.Contains(padded, needle) {
			return true
		}
	}
	return false
}

// whereBuilder accumulates AND-composed clause fragments with positional
// Postgres placeholders.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) add(clause string, args ...any) {
	if clause == "" {
		return
	}
	b.clauses = append(b.clauses, clause)
	b.args = append(b.args, args...)
}

func (b *whereBuilder) next() int { return len(b.args) + 1 }

func (b *whereBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// DateClause restricts left(started_at, 10) to [start, end].
func DateClause(b *whereBuilder, start, end string) {
	if start != "" && end != "" {
		b.add(fmt.Sprintf("left(started_at, 10) BETWEEN $%d AND $%d", b.next(), b.next()+1), start, end)
		return
	}
	if start != "" {
		b.add(fmt.Sprintf("left(started_at, 10) >= $%d", b.next()), start)
	}
	if end != "" {
		b.add(fmt.Sprintf("left(started_at, 10) <= $%d", b.next()), end)
	}
}

// AgentClause applies the agent policy: a requested agent wins over the
// exclusion list; exclusion never removes unattributed calls.
func AgentClause(b *whereBuilder, onlyAgent string, exclude []string) {
	if onlyAgent != "" {
		b.add(fmt.Sprintf("lower(coalesce(agent_name, '')) = lower($%d)", b.next()), onlyAgent)
		return
	}
	if len(exclude) == 0 {
		return
	}
	ph := make([]string, len(exclude))
	args := make([]any, len(exclude))
	for i, a := range exclude {
		ph[i] = fmt.Sprintf("lower($%d)", b.next()+i)
		args[i] = a
	}
	b.add(fmt.Sprintf("(agent_name IS NULL OR agent_name = '' OR lower(agent_name) NOT IN (%s))", strings.Join(ph, ",")), args...)
}

// TagClause requires any of the tags (OR) as a padded substring of
// tags_norm.
func TagClause(b *whereBuilder, tags []string) {
	if len(tags) == 0 {
		return
	}
	ors := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, t := range tags {
		ors[i] = fmt.Sprintf("coalesce(tags_norm, ',,') LIKE $%d", b.next()+i)
		args[i] = "%," + strings.ToLower(strings.TrimSpace(t)) + ",%"
	}
	b.add("("+strings.Join(ors, " OR ")+")", args...)
}

// buildWhere renders a Filter to SQL. Fragments compose by AND without
// re-parsing; each builder owns its own bound values.
func buildWhere(f Filter) (string, []any) {
	b := &whereBuilder{}
	DateClause(b, f.Start, f.End)
	AgentClause(b, f.OnlyAgent, f.ExcludeAgents)
	TagClause(b, f.OnlyTags)
	if f.OnlyCompany != "" {
		b.add(fmt.Sprintf("company_id = $%d", b.next()), f.OnlyCompany)
	}
	if f.AnsweredOnly {
		b.add(fmt.Sprintf("call_status = $%d", b.next()), string(StatusAnswered))
	}
	if f.PositiveDuration {
		b.add("duration_seconds > 0")
	}
	return b.where(), b.args
}
