package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TwinClient sends Web API requests to a twin under test. Every request
// carries the OData version headers plus Headers.
type TwinClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
	t          *testing.T
}

// NewTwinClient returns a client for srv.
func NewTwinClient(t *testing.T, srv *httptest.Server) *TwinClient {
	return &TwinClient{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Headers:    map[string]string{},
		t:          t,
	}
}

// WithBearer returns a copy of c that calls as userID. c is unchanged.
func (c *TwinClient) WithBearer(userID string) *TwinClient {
	c.t.Helper()
	as := *c
	as.Headers = maps.Clone(c.Headers)
	if as.Headers == nil {
		as.Headers = map[string]string{}
	}
	as.Headers["Authorization"] = "Bearer " + BearerToken(c.t, userID)
	return &as
}

func (c *TwinClient) Get(path string) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodGet, path, nil, nil)
}

func (c *TwinClient) Post(path string, body any) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodPost, path, body, nil)
}

func (c *TwinClient) Patch(path string, body any) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodPatch, path, body, nil)
}

func (c *TwinClient) Delete(path string) *Response {
	c.t.Helper()
	return c.DoWithHeaders(http.MethodDelete, path, nil, nil)
}

// Create posts a record to the entity set path, expects 204 No Content and
// returns the new record's id.
func (c *TwinClient) Create(set string, attrs map[string]any) string {
	c.t.Helper()
	return c.Post(set, attrs).AssertStatus(http.StatusNoContent).EntityID()
}

// Retrieve fetches set(id), optionally narrowed with a $select list such
// as "name,revenue".
func (c *TwinClient) Retrieve(set, id, sel string) *Response {
	c.t.Helper()
	path := set + "(" + id + ")"
	if sel != "" {
		path += "?$select=" + sel
	}
	return c.Get(path)
}

// DoWithHeaders sends a request with body JSON-encoded. headers are applied
// last and override the client's own.
func (c *TwinClient) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encoding %s %s body: %v", method, path, err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, payload)
	if err != nil {
		c.t.Fatalf("building %s %s: %v", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for _, set := range []map[string]string{c.Headers, headers} {
		for k, v := range set {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("reading %s %s response: %v", method, path, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header, t: c.t}
}
