package scenario

import (
	"fmt"
	"os"
	"strings"
)

// Expand replaces template placeholders in s:
//   - {{env.VARIABLE}} from environment variables
//   - {{name}} from scenario variables and captured values
func Expand(s string, vars map[string]string) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression in %q", s)
		}
		end += start

		value, err := resolve(strings.TrimSpace(rest[start+2:end]), vars)
		if err != nil {
			return "", err
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+2:]
	}
}

func resolve(expr string, vars map[string]string) (string, error) {
	if key, ok := strings.CutPrefix(expr, "env."); ok {
		return os.Getenv(key), nil
	}
	if val, ok := vars[expr]; ok {
		return val, nil
	}
	return "", fmt.Errorf("unresolved template expression: %q", expr)
}

// expandValue expands templates in every string nested inside v. Expanded
// values are always strings.
func expandValue(v any, vars map[string]string) (any, error) {
	switch t := v.(type) {
	case string:
		return Expand(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			expanded, err := expandValue(item, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			expanded, err := expandValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}
