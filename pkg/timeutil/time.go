// Package timeutil parses the program document's time expressions and
// models step durations.
package timeutil

import (
	"regexp"
	"strconv"
)

var unitPattern = regexp.MustCompile(`(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?`)

// ParseTimeString converts a time expression to whole seconds. The
// expression is either a bare integer/float (seconds) or a string
// matching (\d+h)?(\d+m)?(\d+s)? with at least one component.
// Unparseable strings yield 0 rather than failing.
func ParseTimeString(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		return parseTimeStringLiteral(t)
	default:
		return 0
	}
}

func parseTimeStringLiteral(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}

	m := unitPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	total := 0
	any := false
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		total += h * 3600
		any = true
	}
	if m[2] != "" {
		mins, _ := strconv.Atoi(m[2])
		total += mins * 60
		any = true
	}
	if m[3] != "" {
		sec, _ := strconv.Atoi(m[3])
		total += sec
		any = true
	}
	if !any {
		return 0
	}
	return total
}

// TimeFields names the document fields normalized to integer seconds
// before validation or execution.
var TimeFields = []string{
	"seconds", "minSeconds", "maxSeconds", "defaultSeconds",
	"optimalSeconds", "offsetSeconds", "bufferSeconds",
}

// NormalizeTimeFields walks a decoded document (map[string]any /
// []any tree, as produced by encoding/json or yaml.v3 into `any`) and
// replaces every field named in TimeFields with its integer-seconds
// value. It is idempotent: normalizing twice equals normalizing once,
// since ParseTimeString(int) is the identity.
func NormalizeTimeFields(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if isTimeField(k) {
				out[k] = ParseTimeString(val)
			} else {
				out[k] = NormalizeTimeFields(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = NormalizeTimeFields(val)
		}
		return out
	default:
		return doc
	}
}

func isTimeField(name string) bool {
	for _, f := range TimeFields {
		if f == name {
			return true
		}
	}
	return false
}
