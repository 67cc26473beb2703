// Package record defines the values exchanged with a record store: references
// naming one stored record, payloads carrying its fields, and the collections
// returned by multi-record queries.
package record

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Reference names one record in the store. ID is empty until the record has
// been created.
type Reference struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
}

// NewReference returns a Reference for the given entity type and identifier.
// GUID identifiers are normalized to lowercase without braces.
func NewReference(entityType, id string) Reference {
	return Reference{EntityType: entityType, ID: NormalizeID(id)}
}

// IsZero reports whether the reference does not point at a record yet.
func (r Reference) IsZero() bool {
	return r.ID == ""
}

func (r Reference) String() string {
	return fmt.Sprintf("%s(%s)", r.EntityType, r.ID)
}

// NormalizeID lowercases GUID identifiers and strips surrounding braces.
// Non-GUID identifiers are returned unchanged.
func NormalizeID(id string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "{"), "}")
	if u, err := uuid.Parse(trimmed); err == nil {
		return u.String()
	}
	return id
}

// ParseID validates that id is a GUID and returns it in normalized form.
func ParseID(id string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "{"), "}")
	u, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return u.String(), nil
}

// Payload maps field names to values. The store is the sole authority on
// which fields exist and what their types are.
type Payload map[string]any

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// GetString returns the value of a string field and whether it was present.
func (p Payload) GetString(field string) (string, bool) {
	s, ok := p[field].(string)
	return s, ok
}

// GetNumber returns the value of a numeric field as float64. JSON-decoded
// payloads carry numbers as float64; integer types are converted.
func (p Payload) GetNumber(field string) (float64, bool) {
	switch v := p[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

// Annotations returns the OData annotations (keys containing '@') of p.
func (p Payload) Annotations() map[string]any {
	out := make(map[string]any)
	for k, v := range p {
		if strings.Contains(k, "@") {
			out[k] = v
		}
	}
	return out
}

// Collection is the result of a multi-record query.
type Collection struct {
	Entities []Payload `json:"entities"`
	// NextLink is the URL of the next page, empty on the last page.
	NextLink string `json:"nextLink,omitempty"`
	// PagingCookie is set when the query was FetchXML and more pages exist.
	PagingCookie string `json:"pagingCookie,omitempty"`
	// TotalCount is the total record count when the query asked for it, else -1.
	TotalCount int `json:"totalCount"`
}

// Len returns the number of entities in the collection.
func (c Collection) Len() int {
	return len(c.Entities)
}

// MoreRecords reports whether the store has further pages for the query.
func (c Collection) MoreRecords() bool {
	return c.NextLink != "" || c.PagingCookie != ""
}
