package scenario

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lookup evaluates a dot-notation JSONPath ($.field, $.value[0].name) against
// doc. ok is false when the path does not match anything.
func lookup(doc any, path string) (v any, ok bool, err error) {
	rest, found := strings.CutPrefix(path, "$")
	if !found {
		return nil, false, fmt.Errorf("JSONPath must start with $: %q", path)
	}
	rest = strings.TrimPrefix(rest, ".")

	current := doc
	for _, seg := range splitSegments(rest) {
		field, index, hasIndex := strings.Cut(seg, "[")
		if field != "" {
			m, isMap := current.(map[string]any)
			if !isMap {
				return nil, false, nil
			}
			if current, found = m[field]; !found {
				return nil, false, nil
			}
		}
		if !hasIndex {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSuffix(index, "]"))
		if err != nil {
			return nil, false, fmt.Errorf("invalid array index in %q: %w", seg, err)
		}
		arr, isArr := current.([]any)
		if !isArr || i < 0 || i >= len(arr) {
			return nil, false, nil
		}
		current = arr[i]
	}
	return current, true, nil
}

// splitSegments splits "value[0].name" into ["value[0]", "name"], ignoring
// dots inside brackets.
func splitSegments(path string) []string {
	var segs []string
	var cur strings.Builder
	depth := 0
	for _, ch := range path {
		switch {
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == '.' && depth == 0:
			if cur.Len() > 0 {
				segs = append(segs, cur.String())
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(ch)
	}
	if cur.Len() > 0 {
		segs = append(segs, cur.String())
	}
	return segs
}

// normalize round-trips v through JSON so lookups see the same shapes
// (map[string]any, []any, float64) whatever Go types produced v.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding step result: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding step result: %w", err)
	}
	return doc, nil
}
