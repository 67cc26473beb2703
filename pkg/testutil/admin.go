package testutil

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// AdminClient calls a twin's /admin API through a TwinClient.
type AdminClient struct {
	*TwinClient
}

func NewAdminClient(tc *TwinClient) *AdminClient {
	return &AdminClient{tc}
}

func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}

func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState replaces the twin's tables. state maps entity names to rows,
// either as a list or keyed by id.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// InjectFault sets a fault on a Web API path such as
// /api/data/v9.2/accounts.
func (ac *AdminClient) InjectFault(path string, fault any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/fault/"+strings.TrimPrefix(path, "/"), fault)
}

func (ac *AdminClient) RemoveFault(path string) *Response {
	ac.t.Helper()
	return ac.Delete("/admin/fault/" + strings.TrimPrefix(path, "/"))
}

// Calls returns the journaled calls, limited to one entity set when set is
// not empty.
func (ac *AdminClient) Calls(set string) []twincore.Call {
	ac.t.Helper()
	path := "/admin/requests"
	if set != "" {
		path += "?" + url.Values{"entity_set": {set}}.Encode()
	}
	var calls []twincore.Call
	ac.Get(path).AssertStatus(http.StatusOK).JSON(&calls)
	return calls
}

func (ac *AdminClient) FlushWebhooks() *Response {
	ac.t.Helper()
	return ac.Post("/admin/webhooks/flush", nil)
}

// AdvanceTime moves the twin's clock by a Go duration such as "24h".
func (ac *AdminClient) AdvanceTime(d string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": d})
}
