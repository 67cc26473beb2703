// Package recordclient performs create, retrieve, query, update and delete
// operations against a record store through an injected webapi.API. Every
// operation issues exactly one call to the API and reports its outcome both
// as a return value and as observability events.
package recordclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/observability"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/internal/webapi"
)

// Sentinel errors returned before any call is made.
var (
	ErrNoAPI              = errors.New("record store API is required")
	ErrEntityTypeRequired = errors.New("entity type is required")
	ErrCannotPage         = errors.New("store reports more records but the query cannot be paged")
)

// Query produces the options string of a multi-record query.
// *fetchxml.Fetch implements it.
type Query interface {
	QueryString() (string, error)
}

// RawQuery is a pre-built options string such as "?fetchXml=..." or
// "?$select=name&$top=5".
type RawQuery string

// QueryString implements Query.
func (q RawQuery) QueryString() (string, error) {
	return string(q), nil
}

// Client runs record operations against an API.
type Client struct {
	api      webapi.API
	observer observability.Observer
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithObserver sets the observer that receives operation events.
func WithObserver(o observability.Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New returns a Client bound to api.
func New(api webapi.API, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, ErrNoAPI
	}
	c := &Client{
		api:      api,
		observer: observability.NoOpObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = observability.NoOpObserver{}
	}
	return c, nil
}

// Create stores payload as a new record and returns its reference.
func (c *Client) Create(ctx context.Context, entityType string, payload record.Payload) (record.Reference, error) {
	done := c.begin(ctx, "create", entityType, "")
	if entityType == "" {
		return record.Reference{}, done(fmt.Errorf("create: %w", ErrEntityTypeRequired), nil)
	}
	ref, err := c.api.CreateRecord(ctx, entityType, payload)
	return ref, done(err, map[string]any{"id": ref.ID})
}

// RetrieveOption adjusts a single-record retrieval.
type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	selects []string
	expand  string
}

// Select limits the returned fields.
func Select(fields ...string) RetrieveOption {
	return func(o *retrieveOptions) { o.selects = append(o.selects, fields...) }
}

// Expand adds an $expand clause for related records.
func Expand(clause string) RetrieveOption {
	return func(o *retrieveOptions) { o.expand = clause }
}

func (o retrieveOptions) String() string {
	var parts []string
	if len(o.selects) > 0 {
		parts = append(parts, "$select="+strings.Join(o.selects, ","))
	}
	if o.expand != "" {
		parts = append(parts, "$expand="+o.expand)
	}
	if len(parts) == 0 {
		return ""
	}
	return "?" + strings.Join(parts, "&")
}

// RetrieveByID fetches the record ref points at. A ref without an id fails
// with record.ErrMissingID before any call is made.
func (c *Client) RetrieveByID(ctx context.Context, ref record.Reference, opts ...RetrieveOption) (record.Payload, error) {
	done := c.begin(ctx, "retrieve", ref.EntityType, ref.ID)
	if err := checkRef("retrieve", ref.EntityType, ref.ID); err != nil {
		return nil, done(err, nil)
	}
	var o retrieveOptions
	for _, opt := range opts {
		opt(&o)
	}
	row, err := c.api.RetrieveRecord(ctx, ref.EntityType, ref.ID, o.String())
	return row, done(err, map[string]any{"fields": len(row)})
}

// RetrieveMultiple runs q against entityType and returns the first page.
// An empty result is a successful, empty collection.
func (c *Client) RetrieveMultiple(ctx context.Context, entityType string, q Query) (record.Collection, error) {
	return c.retrieveMultiple(ctx, entityType, q, 0)
}

// RetrieveMultiplePaged is RetrieveMultiple with a page size preference.
func (c *Client) RetrieveMultiplePaged(ctx context.Context, entityType string, q Query, pageSize int) (record.Collection, error) {
	return c.retrieveMultiple(ctx, entityType, q, pageSize)
}

func (c *Client) retrieveMultiple(ctx context.Context, entityType string, q Query, pageSize int) (record.Collection, error) {
	done := c.begin(ctx, "retrieveMultiple", entityType, "")
	if entityType == "" {
		return record.Collection{}, done(fmt.Errorf("retrieveMultiple: %w", ErrEntityTypeRequired), nil)
	}
	options := ""
	if q != nil {
		s, err := q.QueryString()
		if err != nil {
			return record.Collection{}, done(fmt.Errorf("retrieveMultiple: build query: %w", err), nil)
		}
		options = s
	}
	coll, err := c.api.RetrieveMultipleRecords(ctx, entityType, options, pageSize)
	return coll, done(err, map[string]any{"count": coll.Len(), "more": coll.MoreRecords()})
}

// NextPage fetches the page after prev by following its next link.
func (c *Client) NextPage(ctx context.Context, entityType string, prev record.Collection, pageSize int) (record.Collection, error) {
	if prev.NextLink == "" {
		return record.Collection{Entities: []record.Payload{}, TotalCount: -1}, nil
	}
	return c.retrieveMultiple(ctx, entityType, RawQuery(prev.NextLink), pageSize)
}

// RetrieveAll reads every page of q and returns all entities. Pages are
// followed by next link, or for a *fetchxml.Fetch query by advancing its
// page with the returned paging cookie. Any other query that reports more
// records without a next link fails with ErrCannotPage. Each page is one
// call.
func (c *Client) RetrieveAll(ctx context.Context, entityType string, q Query, pageSize int) ([]record.Payload, error) {
	coll, err := c.retrieveMultiple(ctx, entityType, q, pageSize)
	if err != nil {
		return nil, err
	}
	all := append([]record.Payload{}, coll.Entities...)
	for coll.MoreRecords() {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if coll.NextLink != "" {
			coll, err = c.NextPage(ctx, entityType, coll, pageSize)
		} else {
			fetch, ok := q.(*fetchxml.Fetch)
			if !ok {
				return all, fmt.Errorf("retrieveAll: %w", ErrCannotPage)
			}
			q = nextFetchPage(fetch, coll.PagingCookie)
			coll, err = c.retrieveMultiple(ctx, entityType, q, pageSize)
		}
		if err != nil {
			return all, err
		}
		all = append(all, coll.Entities...)
	}
	return all, nil
}

// nextFetchPage returns a copy of f asking for the page after f's.
func nextFetchPage(f *fetchxml.Fetch, cookie string) *fetchxml.Fetch {
	next := *f
	if next.Page < 1 {
		next.Page = 1
	}
	next.Page++
	next.PagingCookie = cookie
	return &next
}

// Update applies payload to an existing record. It never creates: a missing
// record fails with record.ErrNotFound, an empty id with record.ErrMissingID.
func (c *Client) Update(ctx context.Context, entityType, id string, payload record.Payload) (record.Reference, error) {
	done := c.begin(ctx, "update", entityType, id)
	if err := checkRef("update", entityType, id); err != nil {
		return record.Reference{}, done(err, nil)
	}
	ref, err := c.api.UpdateRecord(ctx, entityType, id, payload)
	return ref, done(err, nil)
}

// Delete removes a record. An empty id fails with record.ErrMissingID.
func (c *Client) Delete(ctx context.Context, entityType, id string) (record.Reference, error) {
	done := c.begin(ctx, "delete", entityType, id)
	if err := checkRef("delete", entityType, id); err != nil {
		return record.Reference{}, done(err, nil)
	}
	ref, err := c.api.DeleteRecord(ctx, entityType, id)
	return ref, done(err, nil)
}

func checkRef(op, entityType, id string) error {
	if entityType == "" {
		return fmt.Errorf("%s: %w", op, ErrEntityTypeRequired)
	}
	if id == "" {
		return fmt.Errorf("%s: %w", op, record.ErrMissingID)
	}
	return nil
}

// begin emits the start event of op and returns a function that emits the
// completion or failure event and passes err through.
func (c *Client) begin(ctx context.Context, op, entityType, id string) func(err error, data map[string]any) error {
	start := c.now()
	base := map[string]any{"op": op, "entity": entityType}
	if id != "" {
		base["id"] = id
	}
	c.emit(ctx, "record."+op+".start", observability.LevelVerbose, base)

	return func(err error, data map[string]any) error {
		fields := make(map[string]any, len(base)+len(data)+2)
		for k, v := range base {
			fields[k] = v
		}
		fields["duration_ms"] = c.now().Sub(start).Milliseconds()
		if err != nil {
			fields["error"] = err.Error()
			c.emit(ctx, "record."+op+".failed", observability.LevelError, fields)
			return err
		}
		for k, v := range data {
			fields[k] = v
		}
		c.emit(ctx, "record."+op+".complete", observability.LevelInfo, fields)
		return nil
	}
}

func (c *Client) emit(ctx context.Context, typ string, level observability.Level, data map[string]any) {
	c.observer.OnEvent(ctx, observability.Event{
		Type:      observability.EventType(typ),
		Level:     level,
		Timestamp: c.now(),
		Source:    "recordclient",
		Data:      data,
	})
}
