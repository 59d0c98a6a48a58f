package timeutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/choreoctl/choreo/pkg/timeutil"
)

func TestParseTimeString(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"nil", nil, 0},
		{"int passthrough", 90, 90},
		{"float truncates", 90.7, 90},
		{"bare integer string", "45", 45},
		{"float string", "45.9", 45},
		{"hours only", "2h", 7200},
		{"minutes only", "30m", 1800},
		{"seconds only", "15s", 15},
		{"hours and minutes", "1h30m", 5400},
		{"all units", "1h2m3s", 3723},
		{"minutes and seconds", "5m30s", 330},
		{"unparseable", "soon", 0},
		{"empty string", "", 0},
		{"wrong type", []string{"1h"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, timeutil.ParseTimeString(tc.in))
		})
	}
}

func TestNormalizeTimeFields(t *testing.T) {
	doc := map[string]any{
		"seconds": "1h",
		"name":    "30m", // not a time field, untouched
		"nested": map[string]any{
			"minSeconds":    "90s",
			"maxSeconds":    "2m",
			"offsetSeconds": 10,
		},
		"list": []any{
			map[string]any{"bufferSeconds": "5s"},
		},
	}

	got := timeutil.NormalizeTimeFields(doc).(map[string]any)

	assert.Equal(t, 3600, got["seconds"])
	assert.Equal(t, "30m", got["name"])
	nested := got["nested"].(map[string]any)
	assert.Equal(t, 90, nested["minSeconds"])
	assert.Equal(t, 120, nested["maxSeconds"])
	assert.Equal(t, 10, nested["offsetSeconds"])
	item := got["list"].([]any)[0].(map[string]any)
	assert.Equal(t, 5, item["bufferSeconds"])
}

// Normalizing twice equals normalizing once.
func TestNormalizeTimeFields_Idempotent(t *testing.T) {
	doc := map[string]any{
		"seconds": "1h30m",
		"nested":  map[string]any{"defaultSeconds": "45s"},
	}
	once := timeutil.NormalizeTimeFields(doc)
	twice := timeutil.NormalizeTimeFields(once)
	assert.Equal(t, once, twice)
}
