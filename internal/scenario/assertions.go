package scenario

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CheckBody evaluates JSONPath assertions against doc. An expected value is
// either a literal compared for equality or an operator map such as
// {"gte": 10} or {"exists": false}. Paths are checked in sorted order so the
// first failure is stable.
func CheckBody(doc any, assertions map[string]any) error {
	paths := make([]string, 0, len(assertions))
	for p := range assertions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := checkOne(doc, path, assertions[path]); err != nil {
			return err
		}
	}
	return nil
}

func checkOne(doc any, path string, expected any) error {
	actual, found, err := lookup(doc, path)
	if err != nil {
		return err
	}
	if ops, ok := expected.(map[string]any); ok {
		return checkOperators(path, actual, found, ops)
	}
	if !found {
		return fmt.Errorf("%s: no match found", path)
	}
	if !valuesEqual(actual, expected) {
		return fmt.Errorf("%s: expected %v, got %v", path, expected, actual)
	}
	return nil
}

func checkOperators(path string, actual any, found bool, ops map[string]any) error {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	for _, op := range names {
		expected := ops[op]
		if op == "exists" {
			want, ok := expected.(bool)
			if !ok {
				return fmt.Errorf("%s: 'exists' requires a boolean", path)
			}
			if want != found {
				if want {
					return fmt.Errorf("%s: expected to exist", path)
				}
				return fmt.Errorf("%s: expected not to exist, found %v", path, actual)
			}
			continue
		}
		if !found {
			return fmt.Errorf("%s: no match found for %q check", path, op)
		}

		switch op {
		case "eq":
			if !valuesEqual(actual, expected) {
				return fmt.Errorf("%s: expected eq %v, got %v", path, expected, actual)
			}
		case "ne":
			if valuesEqual(actual, expected) {
				return fmt.Errorf("%s: expected ne %v", path, expected)
			}
		case "gte", "lte":
			a, aok := toFloat64(actual)
			e, eok := toFloat64(expected)
			if !aok || !eok {
				return fmt.Errorf("%s: %q requires numbers, got %v and %v", path, op, actual, expected)
			}
			if op == "gte" && a < e {
				return fmt.Errorf("%s: expected >= %v, got %v", path, e, a)
			}
			if op == "lte" && a > e {
				return fmt.Errorf("%s: expected <= %v, got %v", path, e, a)
			}
		case "contains":
			if !strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected)) {
				return fmt.Errorf("%s: expected to contain %q, got %q", path, fmt.Sprint(expected), fmt.Sprint(actual))
			}
		case "regex":
			pattern, ok := expected.(string)
			if !ok {
				return fmt.Errorf("%s: 'regex' requires a string pattern", path)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("%s: invalid regex %q: %w", path, pattern, err)
			}
			if !re.MatchString(fmt.Sprint(actual)) {
				return fmt.Errorf("%s: value %q does not match %q", path, fmt.Sprint(actual), pattern)
			}
		default:
			return fmt.Errorf("%s: unknown operator %q", path, op)
		}
	}
	return nil
}

// valuesEqual compares numbers numerically and everything else by its
// printed form. A number never equals a string.
func valuesEqual(actual, expected any) bool {
	a, aNum := toFloat64(actual)
	e, eNum := toFloat64(expected)
	if aNum && eNum {
		return a == e
	}
	if aNum != eNum {
		return false
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
