package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

var errEmptyConfig = errors.New("config is empty")

// configFormat picks json or yaml from the file extension. Other names
// (stdin, extension-less paths) are sniffed: a leading '{' means JSON.
func configFormat(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return "json"
	}
	return "yaml"
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder, along with the detected format.
func toJSON(name string, data []byte) ([]byte, string, error) {
	format := configFormat(name, data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, format, errEmptyConfig
	}
	if format == "json" {
		return data, format, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, format, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		// comments only
		return nil, format, errEmptyConfig
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, format, fmt.Errorf("yaml: top level must be a mapping, got %T", doc)
	}
	j, err := json.Marshal(jsonSafe(doc))
	if err != nil {
		return nil, format, fmt.Errorf("yaml: %w", err)
	}
	return j, format, nil
}

// jsonSafe rewrites YAML values JSON cannot carry as config expects them:
// non-string keys become strings and time values are formatted as RFC 3339,
// the form trigger anchors are read in.
func jsonSafe(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = jsonSafe(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = jsonSafe(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = jsonSafe(x[i])
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return in
	}
}
