// Package templating resolves templated configuration values against a
// runtime context. Rendering walks maps and slices recursively; only strings
// are interpreted as templates. A reference to a key missing from the context
// is a rendering error, never silently dropped.
package templating

import (
	"fmt"
	"strings"
	"text/template"
)

// RenderString resolves a single template string against the context.
func RenderString(tmpl string, context map[string]interface{}) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New("value").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", tmpl, err)
	}
	var buf strings.Builder
	if err := t.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("render template %q: %w", tmpl, err)
	}
	return buf.String(), nil
}

// Render resolves all template strings nested inside value. Maps and slices
// are rebuilt so the input is never mutated; non-string scalars pass through.
func Render(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return RenderString(v, context)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			rendered, err := Render(inner, context)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			rendered, err := Render(inner, context)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderStringMap resolves every value of a string-to-string map.
func RenderStringMap(values map[string]string, context map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for key, v := range values {
		rendered, err := RenderString(v, context)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}
