package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Tag payloads arrive as []string, []object (name/label/value), a CSV
// string, or a string holding a JSON-encoded array. Each variant is tried
// in order; there is no reflection here on purpose.

var agentTagRE = regexp.MustCompile(`(?i)^agent:\s*([^.,]+?)\.?\s*$`)

// NormalizedTags is the canonical tag shape carried on every record.
type NormalizedTags struct {
	// CSV preserves original casing and order, joined with ", ".
	CSV string
	// Norm is lowercase, trimmed, comma-padded (",tag a,tag b,") so tag
	// containment is a padded substring test that cannot match a partial
	// tag name. Empty tag set yields ",,".
	Norm string
	// Agents holds every name extracted from "Agent: <name>" tags,
	// title-cased, order preserved. Callers use the first as authoritative.
	Agents []string
}

// Tags normalizes an arbitrary tag representation.
func Tags(v any) NormalizedTags {
	return fromList(tagList(v))
}

func tagList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return cleanStrings(x)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := tagName(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		// JSON array string first; fall back to CSV.
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return tagList(arr)
		}
		return cleanStrings(strings.Split(s, ","))
	default:
		return nil
	}
}

func tagName(item any) string {
	switch t := item.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, key := range []string{"name", "label", "value"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fromList(tags []string) NormalizedTags {
	if len(tags) == 0 {
		return NormalizedTags{CSV: "", Norm: ",,"}
	}

	lowered := make([]string, len(tags))
	var agents []string
	for i, t := range tags {
		lowered[i] = strings.ToLower(t)
		if m := agentTagRE.FindStringSubmatch(lowered[i]); m != nil {
			agents = append(agents, titleCase(strings.TrimSpace(m[1])))
		}
	}

	return NormalizedTags{
		CSV:    strings.Join(tags, ", "),
		Norm:   "," + strings.Join(lowered, ",") + ",",
		Agents: agents,
	}
}

// NormForm wraps a lowercase tag for padded substring matching against
// NormalizedTags.Norm.
func NormForm(tag string) string {
	return "," + strings.ToLower(strings.TrimSpace(tag)) + ","
}

// titleCase capitalizes the first letter of each space- or dot-separated
// token. Agent names are plain ASCII; no locale handling needed.
func titleCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '.' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}
