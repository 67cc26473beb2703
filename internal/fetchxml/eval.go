package fetchxml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Result is the outcome of evaluating a query against a set of rows.
type Result struct {
	Rows         []map[string]any
	MoreRecords  bool
	PagingCookie string
	// TotalCount is the number of rows matching the filter before paging,
	// or -1 when the query did not ask for it.
	TotalCount int
}

// Evaluate runs the query against rows. primaryKey names the id column; it
// is always projected and is used to build the paging cookie. rows is not
// modified.
func (f *Fetch) Evaluate(rows []map[string]any, primaryKey string) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	matched := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		ok := true
		for _, flt := range f.Entity.Filters {
			m, err := matchFilter(flt, row)
			if err != nil {
				return Result{}, err
			}
			if !m {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}

	if len(f.Entity.Orders) > 0 {
		orders := f.Entity.Orders
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range orders {
				c := compareValues(matched[i][o.Attribute], matched[j][o.Attribute])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	projected := make([]map[string]any, 0, len(matched))
	seen := make(map[string]bool)
	for _, row := range matched {
		p := f.project(row, primaryKey)
		if f.Distinct {
			k := distinctKey(p, primaryKey)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		projected = append(projected, p)
	}

	res := Result{TotalCount: -1}
	if f.ReturnTotalRecordCount {
		res.TotalCount = len(projected)
	}

	switch {
	case f.Top > 0:
		if len(projected) > f.Top {
			projected = projected[:f.Top]
		}
	case f.Count > 0:
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.Count
		if start > len(projected) {
			start = len(projected)
		}
		end := start + f.Count
		if end < len(projected) {
			res.MoreRecords = true
		} else {
			end = len(projected)
		}
		projected = projected[start:end]
		if res.MoreRecords && len(projected) > 0 {
			res.PagingCookie = pagingCookie(page, primaryKey, projected)
		}
	}

	res.Rows = projected
	return res, nil
}

func (f *Fetch) project(row map[string]any, primaryKey string) map[string]any {
	if f.Entity.AllAttributes != nil || len(f.Entity.Attributes) == 0 {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(f.Entity.Attributes)+1)
	for _, a := range f.Entity.Attributes {
		if v, ok := row[a.Name]; ok {
			out[a.key()] = v
		}
	}
	if primaryKey != "" {
		if v, ok := row[primaryKey]; ok {
			out[primaryKey] = v
		}
	}
	return out
}

func distinctKey(row map[string]any, primaryKey string) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		if k == primaryKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, row[k])
	}
	return b.String()
}

func pagingCookie(page int, primaryKey string, rows []map[string]any) string {
	first := fmt.Sprint(rows[0][primaryKey])
	last := fmt.Sprint(rows[len(rows)-1][primaryKey])
	return fmt.Sprintf(`<cookie page="%d"><%s last="{%s}" first="{%s}" /></cookie>`, page, primaryKey, last, first)
}

func matchFilter(flt Filter, row map[string]any) (bool, error) {
	or := strings.EqualFold(flt.Type, "or")
	if len(flt.Conditions) == 0 && len(flt.Filters) == 0 {
		return true, nil
	}
	for _, c := range flt.Conditions {
		m, err := matchCondition(c, row)
		if err != nil {
			return false, err
		}
		if or && m {
			return true, nil
		}
		if !or && !m {
			return false, nil
		}
	}
	for _, nested := range flt.Filters {
		m, err := matchFilter(nested, row)
		if err != nil {
			return false, err
		}
		if or && m {
			return true, nil
		}
		if !or && !m {
			return false, nil
		}
	}
	return !or, nil
}

func matchCondition(c Condition, row map[string]any) (bool, error) {
	v, present := row[c.Attribute]
	isNull := !present || v == nil
	vals := c.values()

	switch c.Operator {
	case OpNull:
		return isNull, nil
	case OpNotNull:
		return !isNull, nil
	}
	if isNull {
		// SQL semantics: comparisons against null are never true.
		return false, nil
	}

	switch c.Operator {
	case OpEqual:
		return equalLiteral(v, vals[0])
	case OpNotEqual, OpNotEqualAlt:
		eq, err := equalLiteral(v, vals[0])
		return !eq, err
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		cmp, err := compareLiteral(v, vals[0])
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case OpGreater:
			return cmp > 0, nil
		case OpGreaterEqual:
			return cmp >= 0, nil
		case OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpLike:
		return likeMatch(fmt.Sprint(v), vals[0]), nil
	case OpNotLike:
		return !likeMatch(fmt.Sprint(v), vals[0]), nil
	case OpBeginsWith:
		return strings.HasPrefix(strings.ToLower(fmt.Sprint(v)), strings.ToLower(vals[0])), nil
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(fmt.Sprint(v)), strings.ToLower(vals[0])), nil
	case OpIn, OpNotIn:
		found := false
		for _, lit := range vals {
			eq, err := equalLiteral(v, lit)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn), nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, c.Operator)
}

func equalLiteral(v any, lit string) (bool, error) {
	cmp, err := compareLiteral(v, lit)
	return cmp == 0, err
}

// compareLiteral compares a stored value with a condition literal, coercing
// the literal to the stored value's type.
func compareLiteral(v any, lit string) (int, error) {
	if n, ok := toFloat(v); ok {
		ln, err := strconv.ParseFloat(strings.TrimSpace(lit), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidQuery, lit)
		}
		return compareFloat(n, ln), nil
	}
	if b, ok := v.(bool); ok {
		lb, err := parseBool(lit)
		if err != nil {
			return 0, err
		}
		return compareBool(b, lb), nil
	}
	return compareStrings(fmt.Sprint(v), lit), nil
}

// compareValues orders two stored values. Nulls sort before everything else.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return compareFloat(na, nb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return compareBool(ba, bb)
		}
	}
	return compareStrings(fmt.Sprint(a), fmt.Sprint(b))
}

// compareStrings compares case-insensitively, like the store's collation.
func compareStrings(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func parseBool(lit string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(lit)) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidQuery, lit)
}

func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

// likeMatch implements the LIKE wildcards: % matches any run of characters
// and _ matches exactly one. Matching is case-insensitive.
func likeMatch(s, pattern string) bool {
	return likeRunes([]rune(strings.ToLower(s)), []rune(strings.ToLower(pattern)))
}

func likeRunes(s, p []rune) bool {
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == s[si]):
			si++
			pi++
		case pi < len(p) && p[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
