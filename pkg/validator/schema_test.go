package validator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/choreoctl/choreo/pkg/validator"
)

func TestPass1Schema_Valid(t *testing.T) {
	doc := baseDoc()
	doc["tracks"] = []any{
		map[string]any{"trackId": "t1", "steps": []any{
			map[string]any{"stepId": "s1", "duration": 10, "startTrigger": map[string]any{"type": "programStart"}},
		}},
	}
	assert.Empty(t, validator.Pass1Schema(doc))
}

func TestPass1Schema_MissingRequiredFields(t *testing.T) {
	errs := validator.Pass1Schema(map[string]any{"programId": "p"})
	assert.NotEmpty(t, errs)

	joined := strings.Join(errs, "\n")
	assert.Contains(t, joined, "name")
	assert.Contains(t, joined, "tracks")
}

func TestPass1Schema_CollectsMultipleViolations(t *testing.T) {
	doc := map[string]any{
		"programId":    123, // not a string
		"name":         "p",
		"startTrigger": map[string]any{"type": "timeTravel"}, // not in the enum
		"tracks": []any{
			map[string]any{"trackId": "t1", "batch_size": 0}, // below minimum
		},
	}
	errs := validator.Pass1Schema(doc)
	assert.GreaterOrEqual(t, len(errs), 3, "one message per violation, got: %v", errs)
}

func TestPass1Schema_StepMissingStartTrigger(t *testing.T) {
	doc := baseDoc()
	doc["tracks"] = []any{
		map[string]any{"trackId": "t1", "steps": []any{
			map[string]any{"stepId": "s1", "duration": 10},
		}},
	}
	errs := validator.Pass1Schema(doc)
	assert.NotEmpty(t, errs)
	assert.Contains(t, strings.Join(errs, "\n"), "startTrigger")
}

func TestPass1Schema_DurationForms(t *testing.T) {
	mkDoc := func(duration any) map[string]any {
		doc := baseDoc()
		doc["tracks"] = []any{
			map[string]any{"trackId": "t1", "steps": []any{
				map[string]any{"stepId": "s1", "duration": duration, "startTrigger": map[string]any{"type": "programStart"}},
			}},
		}
		return doc
	}

	valid := []any{
		10,
		"30m",
		map[string]any{"type": "fixed", "seconds": 10},
		map[string]any{"type": "variable", "minSeconds": 5, "maxSeconds": 15, "defaultSeconds": 10},
		map[string]any{"type": "indefinite", "minSeconds": 5},
	}
	for _, d := range valid {
		assert.Empty(t, validator.Pass1Schema(mkDoc(d)), "duration %v should pass", d)
	}

	invalid := []any{
		map[string]any{"type": "bogus"},
		map[string]any{"seconds": 10}, // object form must carry a type
		map[string]any{"type": "variable", "minSeconds": true},
	}
	for _, d := range invalid {
		assert.NotEmpty(t, validator.Pass1Schema(mkDoc(d)), "duration %v should fail", d)
	}
}

func TestPass1Schema_ConstraintMissingMaxConcurrent(t *testing.T) {
	doc := baseDoc()
	doc["tracks"] = []any{}
	doc["resourceConstraints"] = []any{
		map[string]any{"task": "mixing"},
	}
	errs := validator.Pass1Schema(doc)
	assert.NotEmpty(t, errs)
	assert.Contains(t, strings.Join(errs, "\n"), "maxConcurrent")
}

func TestPass1Schema_StepMissingID(t *testing.T) {
	doc := baseDoc()
	doc["tracks"] = []any{
		map[string]any{"trackId": "t1", "steps": []any{
			map[string]any{"duration": 10},
		}},
	}
	errs := validator.Pass1Schema(doc)
	assert.NotEmpty(t, errs)
	assert.Contains(t, strings.Join(errs, "\n"), "stepId")
}
