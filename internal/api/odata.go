package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
)

// Collection annotations written on retrieve-multiple responses.
const (
	annotationNextLink          = "@odata.nextLink"
	annotationCount             = "@odata.count"
	annotationPagingCookie      = "@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"
	annotationMoreRecords       = "@Microsoft.Dynamics.CRM.morerecords"
	annotationTotalCount        = "@Microsoft.Dynamics.CRM.totalrecordcount"
	annotationTotalCountLimited = "@Microsoft.Dynamics.CRM.totalrecordcountlimitexceeded"
)

// maxPageSizeLimit caps odata.maxpagesize like the real service.
const maxPageSizeLimit = 5000

// preferences is the parsed Prefer request header.
type preferences struct {
	returnRepresentation bool
	maxPageSize          int
}

func parsePrefer(r *http.Request) preferences {
	var p preferences
	for _, header := range r.Header.Values("Prefer") {
		for _, part := range strings.Split(header, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "return":
				p.returnRepresentation = strings.EqualFold(strings.TrimSpace(value), "representation")
			case "odata.maxpagesize":
				if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
					p.maxPageSize = min(n, maxPageSizeLimit)
				}
			}
		}
	}
	return p
}

// etag renders the weak entity tag of a row from its version number.
func etag(row map[string]any) string {
	return fmt.Sprintf(`W/"%v"`, row[dvstore.AttrVersionNumber])
}

// selectFields returns the $select list of a request, or nil.
func selectFields(q url.Values) []string {
	raw := q.Get("$select")
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// project keeps the selected fields of row plus its primary key. An empty
// selection keeps every field.
func project(row map[string]any, fields []string, pk string) map[string]any {
	if len(fields) == 0 {
		return row
	}
	out := make(map[string]any, len(fields)+1)
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	out[pk] = row[pk]
	return out
}

// parseODataQuery turns OData system query options ($select, $filter,
// $orderby, $top) into an equivalent FetchXML query so both query styles
// share one evaluator.
func parseODataQuery(entity string, q url.Values) (*fetchxml.Fetch, error) {
	f := fetchxml.New(entity)
	f.Select(selectFields(q)...)

	if raw := q.Get("$orderby"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 || len(fields) > 2 {
				return nil, fmt.Errorf("%w: invalid $orderby %q", fetchxml.ErrInvalidQuery, raw)
			}
			desc := false
			if len(fields) == 2 {
				switch strings.ToLower(fields[1]) {
				case "asc":
				case "desc":
					desc = true
				default:
					return nil, fmt.Errorf("%w: invalid $orderby direction %q", fetchxml.ErrInvalidQuery, fields[1])
				}
			}
			f.OrderBy(fields[0], desc)
		}
	}

	if raw := q.Get("$top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid $top %q", fetchxml.ErrInvalidQuery, raw)
		}
		f.Limit(n)
	}

	if raw := q.Get("$filter"); raw != "" {
		if err := parseFilter(f, raw); err != nil {
			return nil, err
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

var filterOperators = map[string]fetchxml.Operator{
	"eq": fetchxml.OpEqual,
	"ne": fetchxml.OpNotEqual,
	"gt": fetchxml.OpGreater,
	"ge": fetchxml.OpGreaterEqual,
	"lt": fetchxml.OpLess,
	"le": fetchxml.OpLessEqual,
}

var filterFunctions = map[string]fetchxml.Operator{
	"contains":   fetchxml.OpLike,
	"startswith": fetchxml.OpBeginsWith,
	"endswith":   fetchxml.OpEndsWith,
}

// parseFilter supports comparisons and the contains/startswith/endswith
// functions joined by "and".
func parseFilter(f *fetchxml.Fetch, raw string) error {
	clauses, ok := splitAnd(raw)
	if !ok {
		return fmt.Errorf("%w: only 'and' is supported in $filter", fetchxml.ErrInvalidQuery)
	}
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return fmt.Errorf("%w: empty $filter clause", fetchxml.ErrInvalidQuery)
		}

		if open := strings.Index(clause, "("); open > 0 && strings.HasSuffix(clause, ")") {
			name := strings.ToLower(strings.TrimSpace(clause[:open]))
			op, ok := filterFunctions[name]
			if !ok {
				return fmt.Errorf("%w: unsupported function %q", fetchxml.ErrInvalidQuery, name)
			}
			attr, arg, ok := strings.Cut(clause[open+1:len(clause)-1], ",")
			if !ok {
				return fmt.Errorf("%w: %s requires two arguments", fetchxml.ErrInvalidQuery, name)
			}
			value, _, err := filterLiteral(arg)
			if err != nil {
				return err
			}
			if op == fetchxml.OpLike {
				value = "%" + value + "%"
			}
			f.Where(strings.TrimSpace(attr), op, value)
			continue
		}

		parts := strings.SplitN(clause, " ", 3)
		if len(parts) != 3 {
			return fmt.Errorf("%w: invalid $filter clause %q", fetchxml.ErrInvalidQuery, clause)
		}
		attr := parts[0]
		op, ok := filterOperators[strings.ToLower(parts[1])]
		if !ok {
			return fmt.Errorf("%w: unsupported operator %q", fetchxml.ErrInvalidQuery, parts[1])
		}
		value, isNull, err := filterLiteral(parts[2])
		if err != nil {
			return err
		}
		switch {
		case isNull && op == fetchxml.OpEqual:
			f.Where(attr, fetchxml.OpNull)
		case isNull && op == fetchxml.OpNotEqual:
			f.Where(attr, fetchxml.OpNotNull)
		case isNull:
			return fmt.Errorf("%w: null only compares with eq or ne", fetchxml.ErrInvalidQuery)
		default:
			f.Where(attr, op, value)
		}
	}
	return nil
}

// splitAnd splits a filter on " and " outside of quoted literals. It
// reports false if the filter uses "or".
func splitAnd(s string) ([]string, bool) {
	var out []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case !inQuote && i+5 <= len(s) && strings.EqualFold(s[i:i+5], " and "):
			out = append(out, s[start:i])
			start = i + 5
			i += 4
		case !inQuote && i+4 <= len(s) && strings.EqualFold(s[i:i+4], " or "):
			return nil, false
		}
	}
	return append(out, s[start:]), true
}

// filterLiteral decodes a $filter literal: a quoted string, null, or a bare
// number, boolean or GUID.
func filterLiteral(raw string) (value string, isNull bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "null" {
		return "", true, nil
	}
	if strings.HasPrefix(raw, "'") {
		if len(raw) < 2 || !strings.HasSuffix(raw, "'") {
			return "", false, fmt.Errorf("%w: unterminated string %s", fetchxml.ErrInvalidQuery, raw)
		}
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), false, nil
	}
	if raw == "" || strings.ContainsAny(raw, " '") {
		return "", false, fmt.Errorf("%w: invalid literal %q", fetchxml.ErrInvalidQuery, raw)
	}
	return raw, false, nil
}
