package testutil

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

// Response is a fully read twin response. The Assert methods report
// failures with t.Errorf and return the response for chaining.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON decodes the body into v, failing the test if it cannot.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("decoding %d response: %v\n%s", r.StatusCode, err, r.Body)
	}
}

func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	m := map[string]any{}
	r.JSON(&m)
	return m
}

// Value returns the rows of a collection response.
func (r *Response) Value() []map[string]any {
	r.t.Helper()
	var page struct {
		Value []map[string]any `json:"value"`
	}
	r.JSON(&page)
	return page.Value
}

// EntityID returns the key in the OData-EntityId header, the id of a
// record just created or upserted.
func (r *Response) EntityID() string {
	r.t.Helper()
	loc := r.Headers.Get("OData-EntityId")
	open := strings.LastIndexByte(loc, '(')
	if open < 0 || !strings.HasSuffix(loc, ")") {
		r.t.Fatalf("no record key in OData-EntityId %q", loc)
	}
	return loc[open+1 : len(loc)-1]
}

func (r *Response) AssertStatus(want int) *Response {
	r.t.Helper()
	if r.StatusCode != want {
		r.t.Errorf("status %d, want %d\n%s", r.StatusCode, want, r.Body)
	}
	return r
}

func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("body lacks %q:\n%s", substr, r.Body)
	}
	return r
}

func (r *Response) AssertHeader(name, want string) *Response {
	r.t.Helper()
	if got := r.Headers.Get(name); got != want {
		r.t.Errorf("header %s = %q, want %q", name, got, want)
	}
	return r
}

// AssertErrorCode checks the code of an OData error body, for example
// 0x80040217 for a missing record.
func (r *Response) AssertErrorCode(want string) *Response {
	r.t.Helper()
	var body struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	switch err := json.Unmarshal(r.Body, &body); {
	case err != nil || body.Error == nil:
		r.t.Errorf("not an OData error, want code %s:\n%s", want, r.Body)
	case body.Error.Code != want:
		r.t.Errorf("error code %s, want %s\n%s", body.Error.Code, want, r.Body)
	}
	return r
}
