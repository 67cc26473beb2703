// Package api implements the Dataverse-compatible Web API handlers for the
// record twin.
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
	"github.com/wondertwin-ai/recordtwin/pkg/webhook"
)

// APIVersion is the only Web API version the twin serves.
const APIVersion = "v9.2"

// BasePath is the mount point of the Web API.
const BasePath = "/api/data/" + APIVersion

// Handler holds all API handler state.
type Handler struct {
	store      *dvstore.MemoryStore
	dispatcher *webhook.Dispatcher
	mw         *twincore.Middleware
}

// NewHandler creates a new API handler. dispatcher may be nil, in which case
// no change notifications are queued.
func NewHandler(s *dvstore.MemoryStore, dispatcher *webhook.Dispatcher, mw *twincore.Middleware) *Handler {
	return &Handler{store: s, dispatcher: dispatcher, mw: mw}
}

// Routes mounts the Web API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Use(h.bearerAuthMiddleware)
		r.Use(h.mw.FaultInjection)

		r.Get("/", h.ServiceDocument)
		r.Get("/WhoAmI", h.WhoAmI)
		r.Get("/WhoAmI()", h.WhoAmI)

		r.Post("/{set}", h.CreateRecord)
		r.Get("/{set}", h.Get)
		r.Patch("/{set}", h.UpdateRecord)
		r.Delete("/{set}", h.DeleteRecord)
	})
}

// serviceRoot returns the absolute Web API root as seen by the caller.
func serviceRoot(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + BasePath
}

// target is the collection and optional key addressed by a request path
// segment such as "accounts" or "accounts(5531d753-...)".
type target struct {
	set    string
	entity string
	key    string
	keyed  bool
}

func (h *Handler) resolve(r *http.Request) target {
	seg := chi.URLParam(r, "set")
	t := target{set: seg}
	if open := strings.Index(seg, "("); open > 0 && strings.HasSuffix(seg, ")") {
		t.set = seg[:open]
		t.key = seg[open+1 : len(seg)-1]
		t.keyed = true
	}
	t.entity = h.store.EntityForSet(t.set)
	// Alternate form: accounts(accountid=5531d753-...)
	if name, value, ok := strings.Cut(t.key, "="); ok && strings.EqualFold(name, dvstore.PrimaryKey(t.entity)) {
		t.key = value
	}
	t.key = strings.Trim(t.key, "'")
	return t
}

// entityID is the OData-EntityId of one row.
func entityID(r *http.Request, set, id string) string {
	return serviceRoot(r) + "/" + set + "(" + id + ")"
}
