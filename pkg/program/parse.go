package program

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/choreoctl/choreo/pkg/timeutil"
)

// Format names a document's wire encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DecodeDocument turns raw document bytes into the generic
// map[string]any/[]any tree the builder and the Planner/Validator
// operate on, normalizing every time field to integer seconds along
// the way. JSON documents are first relaxed through hujson so
// hand-edited program files may carry `//` comments and trailing
// commas.
func DecodeDocument(data []byte, format Format) (map[string]any, error) {
	var raw any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ParseError{Format: string(format), Err: err}
		}
	default:
		standard, err := hujson.Standardize(data)
		if err != nil {
			return nil, &ParseError{Format: string(format), Err: err}
		}
		if err := json.Unmarshal(standard, &raw); err != nil {
			return nil, &ParseError{Format: string(format), Err: err}
		}
	}
	normalized := timeutil.NormalizeTimeFields(stringifyKeys(raw))
	doc, ok := normalized.(map[string]any)
	if !ok {
		return nil, &ParseError{Format: string(format), Err: fmt.Errorf("document root is not an object")}
	}
	return doc, nil
}

// stringifyKeys converts the map[any]any nodes that some YAML decoders
// produce into map[string]any, so downstream code (including
// timeutil.NormalizeTimeFields) only ever needs to handle one map
// shape regardless of source format. yaml.v3 already decodes mapping
// nodes into map[string]any, so this is a defensive no-op for it and
// only matters if a caller hands in a tree built by another decoder.
func stringifyKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringifyKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = stringifyKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringifyKeys(val)
		}
		return out
	default:
		return v
	}
}
