package environment

import (
	"fmt"

	"github.com/choreoctl/choreo/pkg/program"
)

// BuildEnvironment constructs a typed Environment from an
// already-decoded document tree (see program.DecodeDocument, which
// this package reuses since environment documents share the same
// JSON/YAML-with-hujson-relaxation encoding and time normalization as
// program documents).
func BuildEnvironment(doc map[string]any) (Environment, error) {
	env := Environment{
		ID:          getString(doc, "environmentId"),
		Type:        getString(doc, "type"),
		Description: getString(doc, "description"),
	}

	if at, ok := doc["actorTypes"].(map[string]any); ok {
		env.ActorTypes = make(map[string]ActorType, len(at))
		for id, raw := range at {
			m, ok := raw.(map[string]any)
			if !ok {
				return env, fmt.Errorf("actorTypes[%s] is not an object", id)
			}
			env.ActorTypes[id] = ActorType{
				ID:             id,
				Name:           getString(m, "name", id),
				Count:          getInt(m, "count", 1),
				Qualifications: getStringSlice(m, "qualifications"),
			}
		}
	} else {
		env.ActorTypes = syntheticGenericPool(getInt(doc, "actors", 1))
	}

	rc := getSlice(doc, "resourceConstraints")
	env.ResourceConstraints = make([]program.ResourceConstraint, 0, len(rc))
	for i, raw := range rc {
		m, ok := raw.(map[string]any)
		if !ok {
			return env, fmt.Errorf("resourceConstraints[%d] is not an object", i)
		}
		env.ResourceConstraints = append(env.ResourceConstraints, program.ResourceConstraint{
			Task:                getString(m, "task"),
			MaxConcurrent:       getInt(m, "maxConcurrent", 1),
			ActorsRequired:      getFloat(m, "actorsRequired", 0),
			QualifiedActorTypes: getStringSlice(m, "qualifiedActorTypes"),
			Description:         getString(m, "description"),
		})
	}

	return env, nil
}

// the tree accessors below duplicate pkg/program's unexported
// getString/getInt/getFloat/getSlice/getStringSlice: both packages
// read the same generic map[string]any/[]any shape but neither
// exports its helpers, and introducing a shared internal package for
// five one-line functions would outweigh the duplication.

func getString(m map[string]any, key string, fallback ...string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

func getInt(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func getSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func getStringSlice(m map[string]any, key string) []string {
	raw := getSlice(m, key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DecodeAndBuild decodes raw document bytes and builds a typed
// Environment in one step, mirroring program.Parse.
func DecodeAndBuild(data []byte, format program.Format) (Environment, error) {
	doc, err := program.DecodeDocument(data, format)
	if err != nil {
		return Environment{}, err
	}
	return BuildEnvironment(doc)
}
