// Package webapi is the record store API the record client talks to, and an
// HTTP implementation of it for OData v4 Web API endpoints.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wondertwin-ai/recordtwin/internal/record"
)

// API is the record store surface injected into the record client. Options
// strings use the query form of the store ("?$select=name" or
// "?fetchXml=...").
type API interface {
	CreateRecord(ctx context.Context, entityType string, payload record.Payload) (record.Reference, error)
	RetrieveRecord(ctx context.Context, entityType, id, options string) (record.Payload, error)
	RetrieveMultipleRecords(ctx context.Context, entityType, options string, maxPageSize int) (record.Collection, error)
	UpdateRecord(ctx context.Context, entityType, id string, payload record.Payload) (record.Reference, error)
	DeleteRecord(ctx context.Context, entityType, id string) (record.Reference, error)
}

// DefaultVersion is the Web API version used when none is configured.
const DefaultVersion = "v9.2"

// Annotation names read from collection responses.
const (
	AnnotationNextLink     = "@odata.nextLink"
	AnnotationCount        = "@odata.count"
	AnnotationPagingCookie = "@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"
	AnnotationTotalCount   = "@Microsoft.Dynamics.CRM.totalrecordcount"
)

// ErrNoEntityID is returned when a create response does not say which
// record was created.
var ErrNoEntityID = errors.New("response carries no OData-EntityId")

// Client is an HTTP implementation of API.
type Client struct {
	base    string
	version string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
	token   func(ctx context.Context) (string, error)
	retry   retryPolicy

	mu   sync.RWMutex
	sets map[string]string
}

var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. The client is not
// modified; a timeout set with WithTimeout applies to a copy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithVersion sets the Web API version segment, e.g. "v9.2".
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithToken sends a static bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource obtains a bearer token per request.
func WithTokenSource(src func(ctx context.Context) (string, error)) Option {
	return func(c *Client) { c.token = src }
}

// WithEntitySet overrides the collection name used for a logical entity name.
func WithEntitySet(logical, set string) Option {
	return func(c *Client) { c.sets[strings.ToLower(logical)] = set }
}

// New creates a Client for the environment at baseURL (scheme and host, e.g.
// "https://org.example.com").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: host is required", baseURL)
	}

	c := &Client{
		base:    u.String(),
		version: DefaultVersion,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		sets:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c, nil
}

// ServiceRoot returns the Web API root, e.g. "https://org.example.com/api/data/v9.2".
func (c *Client) ServiceRoot() string {
	return c.base + "/api/data/" + c.version
}

// EntitySet returns the collection name for a logical entity name, honoring
// overrides registered with WithEntitySet or SetEntitySet.
func (c *Client) EntitySet(entityType string) string {
	c.mu.RLock()
	set, ok := c.sets[strings.ToLower(entityType)]
	c.mu.RUnlock()
	if ok {
		return set
	}
	return EntitySetName(entityType)
}

// SetEntitySet registers a collection name override at runtime.
func (c *Client) SetEntitySet(logical, set string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[strings.ToLower(logical)] = set
}

func (c *Client) recordPath(entityType, id string) string {
	return fmt.Sprintf("/%s(%s)", c.EntitySet(entityType), url.PathEscape(id))
}

// CreateRecord creates a record and returns its reference.
func (c *Client) CreateRecord(ctx context.Context, entityType string, payload record.Payload) (record.Reference, error) {
	const op = "create"
	body, err := json.Marshal(payload)
	if err != nil {
		return record.Reference{}, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	resp, respBody, err := c.do(ctx, op, http.MethodPost, "/"+c.EntitySet(entityType), body, nil)
	if err != nil {
		return record.Reference{}, err
	}

	if id := entityIDFromHeader(resp.Header.Get("OData-EntityId")); id != "" {
		return record.NewReference(entityType, id), nil
	}
	// Prefer: return=representation answers with the row instead.
	if len(respBody) > 0 {
		var row record.Payload
		if err := json.Unmarshal(respBody, &row); err == nil {
			if id, ok := row.GetString(strings.ToLower(entityType) + "id"); ok {
				return record.NewReference(entityType, id), nil
			}
		}
	}
	return record.Reference{}, fmt.Errorf("%s: %w", op, ErrNoEntityID)
}

// RetrieveRecord fetches one record by id.
func (c *Client) RetrieveRecord(ctx context.Context, entityType, id, options string) (record.Payload, error) {
	const op = "retrieve"
	if id == "" {
		return nil, fmt.Errorf("%s: %w", op, record.ErrMissingID)
	}
	path := c.recordPath(entityType, id) + normalizeOptions(options)

	_, body, err := c.do(ctx, op, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var row record.Payload
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return row, nil
}

// RetrieveMultipleRecords runs a query against a collection. options may be a
// query string or the absolute nextLink of a previous page. maxPageSize > 0
// asks the store to page the results.
func (c *Client) RetrieveMultipleRecords(ctx context.Context, entityType, options string, maxPageSize int) (record.Collection, error) {
	const op = "retrieveMultiple"

	path := "/" + c.EntitySet(entityType) + normalizeOptions(options)
	if p, ok := c.linkPath(options); ok {
		path = p
	}

	prefer := []string{`odata.include-annotations="*"`}
	if maxPageSize > 0 {
		prefer = append(prefer, "odata.maxpagesize="+strconv.Itoa(maxPageSize))
	}
	headers := map[string]string{"Prefer": strings.Join(prefer, ",")}

	_, body, err := c.do(ctx, op, http.MethodGet, path, nil, headers)
	if err != nil {
		return record.Collection{}, err
	}
	return decodeCollection(op, body)
}

// linkPath returns the part of an absolute link after /api/data/{version},
// with its query. The link's scheme and host are ignored so next links
// echoed under another host form still resolve against this client.
func (c *Client) linkPath(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	root := "/api/data/" + c.version
	p := u.EscapedPath()
	i := strings.Index(p, root)
	if i < 0 {
		return "", false
	}
	rest := p[i+len(root):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return rest, true
}

// UpdateRecord updates an existing record. It never creates one: the request
// carries If-Match: * so a missing record fails with record.ErrNotFound.
func (c *Client) UpdateRecord(ctx context.Context, entityType, id string, payload record.Payload) (record.Reference, error) {
	const op = "update"
	if id == "" {
		return record.Reference{}, fmt.Errorf("%s: %w", op, record.ErrMissingID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return record.Reference{}, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	headers := map[string]string{"If-Match": "*"}
	if _, _, err := c.do(ctx, op, http.MethodPatch, c.recordPath(entityType, id), body, headers); err != nil {
		return record.Reference{}, err
	}
	return record.NewReference(entityType, id), nil
}

// DeleteRecord deletes a record.
func (c *Client) DeleteRecord(ctx context.Context, entityType, id string) (record.Reference, error) {
	const op = "delete"
	if id == "" {
		return record.Reference{}, fmt.Errorf("%s: %w", op, record.ErrMissingID)
	}
	if _, _, err := c.do(ctx, op, http.MethodDelete, c.recordPath(entityType, id), nil, nil); err != nil {
		return record.Reference{}, err
	}
	return record.NewReference(entityType, id), nil
}

// WhoAmI returns the id of the calling user.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	const op = "whoami"
	_, body, err := c.do(ctx, op, http.MethodGet, "/WhoAmI", nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		UserID string `json:"UserId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	return out.UserID, nil
}

// do sends one logical request, retrying per the client's policy, and returns
// the final response with its body read. Non-2xx responses become
// *record.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := c.newRequest(ctx, method, path, body, headers)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("webapi request failed", "op", op, "method", method, "path", path, "err", err)
			if c.shouldRetry(ctx, req, attempt, nil) {
				continue
			}
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		c.logger.Debug("webapi request",
			"op", op,
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"attempt", attempt+1,
		)

		if readErr != nil {
			return nil, nil, fmt.Errorf("%s: read response: %w", op, readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, respBody, nil
		}
		if retryableStatus(resp.StatusCode) && c.shouldRetry(ctx, req, attempt, resp) {
			continue
		}
		return resp, respBody, decodeError(op, resp.StatusCode, respBody)
	}
}

// shouldRetry waits out the backoff and reports whether another attempt
// should be made.
func (c *Client) shouldRetry(ctx context.Context, req *http.Request, attempt int, resp *http.Response) bool {
	if attempt >= c.retry.attempts || !idempotent(req) {
		return false
	}
	d := c.retry.wait(attempt, resp)
	c.logger.Debug("webapi retrying", "method", req.Method, "path", req.URL.Path, "wait", d, "attempt", attempt+1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.ServiceRoot()+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// normalizeOptions makes sure a non-empty options string starts with '?'.
func normalizeOptions(options string) string {
	if options == "" || strings.HasPrefix(options, "?") {
		return options
	}
	return "?" + options
}

// entityIDFromHeader extracts the key from an OData-EntityId value such as
// "https://org/api/data/v9.2/accounts(00000000-0000-0000-0000-000000000001)".
func entityIDFromHeader(v string) string {
	open := strings.LastIndex(v, "(")
	if open < 0 || !strings.HasSuffix(v, ")") {
		return ""
	}
	key := v[open+1 : len(v)-1]
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	return key
}

func decodeCollection(op string, body []byte) (record.Collection, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return record.Collection{}, fmt.Errorf("%s: decode response: %w", op, err)
	}

	coll := record.Collection{Entities: []record.Payload{}, TotalCount: -1}
	if v, ok := raw["value"]; ok {
		if err := json.Unmarshal(v, &coll.Entities); err != nil {
			return record.Collection{}, fmt.Errorf("%s: decode value: %w", op, err)
		}
	}
	if v, ok := raw[AnnotationNextLink]; ok {
		_ = json.Unmarshal(v, &coll.NextLink)
	}
	if v, ok := raw[AnnotationPagingCookie]; ok {
		_ = json.Unmarshal(v, &coll.PagingCookie)
	}
	for _, key := range []string{AnnotationTotalCount, AnnotationCount} {
		if v, ok := raw[key]; ok {
			var n int
			if err := json.Unmarshal(v, &n); err == nil {
				coll.TotalCount = n
				break
			}
		}
	}
	return coll, nil
}

// decodeError turns a failed response into a *record.RemoteError.
func decodeError(op string, status int, body []byte) error {
	rerr := &record.RemoteError{Op: op, StatusCode: status}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Error.Code != "" || envelope.Error.Message != "") {
		rerr.Code = envelope.Error.Code
		rerr.Message = envelope.Error.Message
		return rerr
	}
	rerr.Message = strings.TrimSpace(string(body))
	if rerr.Message == "" {
		rerr.Message = http.StatusText(status)
	}
	return rerr
}
