package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Duration representations seen in provider payloads and webhooks.
var (
	durHMS = regexp.MustCompile(`^\s*(\d+):([0-5]?\d):([0-5]?\d)\s*$`)
	durMS  = regexp.MustCompile(`^\s*([0-5]?\d):([0-5]?\d)\s*$`)
	// "1h 2m 3s", "2m 3s", "2m", "75s" — any subset, whitespace flexible.
	durHuman = regexp.MustCompile(`(?i)^\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m(?:in)?)?\s*(?:(\d+)\s*s)?\s*$`)
)

// ParseDuration converts an arbitrary duration representation to integer
// seconds. It is total: any unrecognized input yields 0, negatives clamp
// to 0. Accepted forms, in precedence order: numeric values, digit-only
// strings, H:MM:SS, MM:SS, and human strings like "1h 2m 3s".
func ParseDuration(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case int:
		return clampSeconds(x)
	case int32:
		return clampSeconds(int(x))
	case int64:
		return clampSeconds(int(x))
	case float32:
		return clampSeconds(int(x))
	case float64:
		return clampSeconds(int(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return clampSeconds(int(f))
		}
		return 0
	case string:
		return parseDurationString(x)
	default:
		return 0
	}
}

func parseDurationString(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if isDigits(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return clampSeconds(n)
	}

	if m := durHMS.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		ss, _ := strconv.Atoi(m[3])
		return clampSeconds(h*3600 + mm*60 + ss)
	}

	if m := durMS.FindStringSubmatch(s); m != nil {
		mm, _ := strconv.Atoi(m[1])
		ss, _ := strconv.Atoi(m[2])
		return clampSeconds(mm*60 + ss)
	}

	if m := durHuman.FindStringSubmatch(s); m != nil {
		h := atoiDefault(m[1])
		mm := atoiDefault(m[2])
		ss := atoiDefault(m[3])
		return clampSeconds(h*3600 + mm*60 + ss)
	}

	return 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func atoiDefault(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func clampSeconds(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
