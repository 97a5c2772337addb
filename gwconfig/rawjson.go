package gwconfig

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawJSON carries a YAML-authored JSON-schema (or tool-parameters)
// document through to the schema compiler, which wants JSON bytes rather
// than a decoded Go value. Config files write these inline as ordinary
// YAML maps; UnmarshalYAML re-encodes the decoded node as JSON so the rest
// of the module (function.CompileSchema, variant.Tool.Parameters) never
// has to know the document originated as YAML.
type rawJSON []byte

func (r *rawJSON) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("gwconfig: decode inline schema: %w", err)
	}
	b, err := json.Marshal(normalizeYAMLValue(v))
	if err != nil {
		return fmt.Errorf("gwconfig: re-encode inline schema as json: %w", err)
	}
	*r = b
	return nil
}

// normalizeYAMLValue recursively converts the map[string]any/[]any tree
// yaml.v3 decodes into, replacing any map[any]any that slips through (old
// gopkg.in/yaml.v2-style decode) with map[string]any so json.Marshal
// doesn't choke on non-string keys.
func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAMLValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAMLValue(val)
		}
		return out
	default:
		return t
	}
}
