package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSONBytes returns JSON bytes for either source format. YAML files are
// decoded and re-marshaled so both formats go through the one strict JSON
// decoder (DisallowUnknownFields).
func toJSONBytes(path string, data []byte) ([]byte, error) {
	if !isYAMLPath(path) {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// stringifyKeys rewrites map keys to strings; yaml can decode mappings with
// any-typed keys, which json.Marshal rejects.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = stringifyKeys(val)
		}
		return x
	}
	return v
}
