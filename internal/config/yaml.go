package config

import (
	"encoding/json"
	"fmt"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts a YAML document into JSON bytes so the config
// can be decoded with a strict json.Decoder (unknown-field rejection).
func coerceToJSONBytes(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	doc = normalizeYAML(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("coerce yaml to json: %w", err)
	}
	return out, nil
}

// normalizeYAML rewrites map[any]any keys (emitted by the YAML parser for
// some documents) into map[string]any so json.Marshal accepts them.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
