package webhook

import (
	"net/http/httptest"
	"testing"
)

func TestAuthenticators(t *testing.T) {
	req := httptest.NewRequest("POST", "http://hooks.local/notify?x=1", nil)
	HeaderKey{}.Authenticate(req, "k1")
	HeaderKey{Name: "x-ms-key"}.Authenticate(req, "k2")
	QueryKey{}.Authenticate(req, "k3")

	if req.Header.Get("X-Webhook-Key") != "k1" || req.Header.Get("X-Ms-Key") != "k2" {
		t.Errorf("headers = %v", req.Header)
	}
	if q := req.URL.Query(); q.Get("code") != "k3" || q.Get("x") != "1" {
		t.Errorf("query = %s", req.URL.RawQuery)
	}
}

func TestAuthFor(t *testing.T) {
	for kind, want := range map[string]Authenticator{"": HeaderKey{}, "header": HeaderKey{}, "webhookkey": QueryKey{}} {
		got, err := AuthFor(kind)
		if err != nil || got != want {
			t.Errorf("AuthFor(%q) = %#v, %v", kind, got, err)
		}
	}
	if _, err := AuthFor("oauth"); err == nil {
		t.Error("AuthFor(oauth) accepted")
	}
}
