// Package fetchxml builds, parses, and evaluates FetchXML queries: the tagged
// markup documents a record store accepts for multi-record retrieval. A query
// names one entity, the attributes to project, zero or more sort orders, and
// an optional filter tree.
package fetchxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidQuery is returned for documents that are not well-formed FetchXML
// or that combine options the store rejects.
var ErrInvalidQuery = errors.New("invalid fetchxml")

// Operator is a condition operator.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpNotEqualAlt  Operator = "neq"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "ge"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "le"
	OpLike         Operator = "like"
	OpNotLike      Operator = "not-like"
	OpBeginsWith   Operator = "begins-with"
	OpEndsWith     Operator = "ends-with"
	OpNull         Operator = "null"
	OpNotNull      Operator = "not-null"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not-in"
)

var knownOperators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true, OpNotEqualAlt: true,
	OpGreater: true, OpGreaterEqual: true, OpLess: true, OpLessEqual: true,
	OpLike: true, OpNotLike: true, OpBeginsWith: true, OpEndsWith: true,
	OpNull: true, OpNotNull: true, OpIn: true, OpNotIn: true,
}

// Fetch is the root <fetch> element.
type Fetch struct {
	XMLName                xml.Name `xml:"fetch"`
	Version                string   `xml:"version,attr,omitempty"`
	Top                    int      `xml:"top,attr,omitempty"`
	Count                  int      `xml:"count,attr,omitempty"`
	Page                   int      `xml:"page,attr,omitempty"`
	PagingCookie           string   `xml:"paging-cookie,attr,omitempty"`
	ReturnTotalRecordCount bool     `xml:"returntotalrecordcount,attr,omitempty"`
	Distinct               bool     `xml:"distinct,attr,omitempty"`
	Entity                 Entity   `xml:"entity"`
}

// Entity is the <entity> element naming the queried table.
type Entity struct {
	Name          string         `xml:"name,attr"`
	AllAttributes *AllAttributes `xml:"all-attributes"`
	Attributes    []Attribute    `xml:"attribute"`
	Orders        []Order        `xml:"order"`
	Filters       []Filter       `xml:"filter"`
}

// AllAttributes is the <all-attributes/> marker.
type AllAttributes struct{}

// Attribute is a projected column.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Alias string `xml:"alias,attr,omitempty"`
}

// key returns the name the attribute is returned under.
func (a Attribute) key() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Name
}

// Order is a sort directive.
type Order struct {
	Attribute  string `xml:"attribute,attr"`
	Descending bool   `xml:"descending,attr"`
}

// Filter groups conditions and nested filters with "and" (default) or "or".
type Filter struct {
	Type       string      `xml:"type,attr,omitempty"`
	Conditions []Condition `xml:"condition"`
	Filters    []Filter    `xml:"filter"`
}

// Condition compares one attribute against one or more values.
type Condition struct {
	Attribute string   `xml:"attribute,attr"`
	Operator  Operator `xml:"operator,attr"`
	Value     *string  `xml:"value,attr,omitempty"`
	Values    []string `xml:"value"`
}

// values returns the literal operands of the condition. A present but empty
// value attribute is one operand.
func (c Condition) values() []string {
	if len(c.Values) > 0 {
		return c.Values
	}
	if c.Value != nil {
		return []string{*c.Value}
	}
	return nil
}

// New starts a query against the named entity.
func New(entity string) *Fetch {
	return &Fetch{Entity: Entity{Name: entity}}
}

// Select adds projected attributes.
func (f *Fetch) Select(attrs ...string) *Fetch {
	for _, a := range attrs {
		f.Entity.Attributes = append(f.Entity.Attributes, Attribute{Name: a})
	}
	return f
}

// SelectAll projects every attribute.
func (f *Fetch) SelectAll() *Fetch {
	f.Entity.AllAttributes = &AllAttributes{}
	return f
}

// OrderBy appends a sort directive.
func (f *Fetch) OrderBy(attr string, descending bool) *Fetch {
	f.Entity.Orders = append(f.Entity.Orders, Order{Attribute: attr, Descending: descending})
	return f
}

// Where adds a condition to the top-level "and" filter.
func (f *Fetch) Where(attr string, op Operator, values ...any) *Fetch {
	c := Condition{Attribute: attr, Operator: op}
	switch {
	case len(values) == 1 && op != OpIn && op != OpNotIn:
		v := literal(values[0])
		c.Value = &v
	default:
		for _, v := range values {
			c.Values = append(c.Values, literal(v))
		}
	}
	if len(f.Entity.Filters) == 0 {
		f.Entity.Filters = append(f.Entity.Filters, Filter{Type: "and"})
	}
	f.Entity.Filters[0].Conditions = append(f.Entity.Filters[0].Conditions, c)
	return f
}

// Limit sets the maximum number of rows returned. It cannot be combined with paging.
func (f *Fetch) Limit(top int) *Fetch {
	f.Top = top
	return f
}

// Paged requests page (1-based) with count rows per page.
func (f *Fetch) Paged(count, page int) *Fetch {
	f.Count = count
	f.Page = page
	return f
}

// WithTotalCount asks the store to report the total number of matching rows.
func (f *Fetch) WithTotalCount() *Fetch {
	f.ReturnTotalRecordCount = true
	return f
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Validate checks the structural rules the store enforces.
func (f *Fetch) Validate() error {
	if f.Entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", ErrInvalidQuery)
	}
	if f.Top < 0 || f.Count < 0 || f.Page < 0 {
		return fmt.Errorf("%w: top, count and page must not be negative", ErrInvalidQuery)
	}
	if f.Top > 0 && (f.Count > 0 || f.Page > 0) {
		return fmt.Errorf("%w: top cannot be combined with count or page", ErrInvalidQuery)
	}
	if f.Top > 5000 {
		return fmt.Errorf("%w: top must not exceed 5000", ErrInvalidQuery)
	}
	for _, o := range f.Entity.Orders {
		if o.Attribute == "" {
			return fmt.Errorf("%w: order requires an attribute", ErrInvalidQuery)
		}
	}
	for _, flt := range f.Entity.Filters {
		if err := validateFilter(flt); err != nil {
			return err
		}
	}
	return nil
}

func validateFilter(flt Filter) error {
	switch strings.ToLower(flt.Type) {
	case "", "and", "or":
	default:
		return fmt.Errorf("%w: unknown filter type %q", ErrInvalidQuery, flt.Type)
	}
	for _, c := range flt.Conditions {
		if c.Attribute == "" {
			return fmt.Errorf("%w: condition requires an attribute", ErrInvalidQuery)
		}
		if !knownOperators[c.Operator] {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, c.Operator)
		}
		switch c.Operator {
		case OpNull, OpNotNull:
		case OpIn, OpNotIn:
			if len(c.values()) == 0 {
				return fmt.Errorf("%w: operator %q requires at least one value", ErrInvalidQuery, c.Operator)
			}
		default:
			if len(c.values()) != 1 {
				return fmt.Errorf("%w: operator %q requires exactly one value", ErrInvalidQuery, c.Operator)
			}
		}
	}
	for _, nested := range flt.Filters {
		if err := validateFilter(nested); err != nil {
			return err
		}
	}
	return nil
}

// Marshal renders the query as a FetchXML document.
func (f *Fetch) Marshal() (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	out, err := xml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal fetchxml: %w", err)
	}
	return string(out), nil
}

// String renders the query, or an empty string if it is invalid.
func (f *Fetch) String() string {
	s, _ := f.Marshal()
	return s
}

// QueryString renders the query as the "?fetchXml=..." options string
// accepted by retrieveMultipleRecords.
func (f *Fetch) QueryString() (string, error) {
	doc, err := f.Marshal()
	if err != nil {
		return "", err
	}
	return "?fetchXml=" + EncodeURIComponent(doc), nil
}

// Parse decodes and validates a FetchXML document.
func Parse(doc string) (*Fetch, error) {
	var f Fetch
	if err := xml.Unmarshal([]byte(doc), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// DefaultAccountQuery returns the query the control issues for its
// retrieveMultipleRecords action: account name, primary contact, phone and
// id, ordered by name ascending.
func DefaultAccountQuery() *Fetch {
	return New("account").
		Select("name", "primarycontactid", "telephone1", "accountid").
		OrderBy("name", false)
}

// EncodeURIComponent escapes s the way ECMAScript's encodeURIComponent does:
// every byte except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
