package webhook

import (
	"fmt"
	"net/http"
)

// Authenticator attaches a registration's key to an outgoing notification.
type Authenticator interface {
	Authenticate(req *http.Request, key string)
}

// HeaderKey sends the key in a request header.
type HeaderKey struct {
	Name string // defaults to X-Webhook-Key
}

// Authenticate implements Authenticator.
func (a HeaderKey) Authenticate(req *http.Request, key string) {
	name := a.Name
	if name == "" {
		name = "X-Webhook-Key"
	}
	req.Header.Set(name, key)
}

// QueryKey sends the key as the "code" query parameter, like an Azure
// Functions WebhookKey registration.
type QueryKey struct{}

// Authenticate implements Authenticator.
func (QueryKey) Authenticate(req *http.Request, key string) {
	q := req.URL.Query()
	q.Set("code", key)
	req.URL.RawQuery = q.Encode()
}

// AuthFor maps a registration's authentication type to an Authenticator:
// "header" or "" for HeaderKey, "webhookkey" for QueryKey.
func AuthFor(kind string) (Authenticator, error) {
	switch kind {
	case "", "header":
		return HeaderKey{}, nil
	case "webhookkey":
		return QueryKey{}, nil
	}
	return nil, fmt.Errorf("unknown webhook auth %q (want header or webhookkey)", kind)
}
