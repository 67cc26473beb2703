// Package admin serves the record twin's control plane under /admin: state
// load and reset, fault injection, the call journal, the simulated clock
// and runtime configuration.
package admin

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/recordtwin/pkg/store"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// StateStore is the twin's record state as the admin API sees it.
type StateStore interface {
	// Snapshot returns every table, JSON-encodable.
	Snapshot() any
	// LoadState replaces every table from a JSON document.
	LoadState(data []byte) error
	// Reset drops every table.
	Reset()
}

// rowCounter is implemented by stores that can report table sizes.
type rowCounter interface {
	Entities() []string
	Count(entity string) int
}

// WebhookFlusher delivers queued record notifications on demand.
type WebhookFlusher interface {
	FlushWebhooks(ctx context.Context) error
}

// ConfigProvider reads and changes the twin's runtime settings.
type ConfigProvider interface {
	GetConfig() map[string]any
	UpdateConfig(updates map[string]any) error
}

// Handler serves /admin.
type Handler struct {
	state   StateStore
	mw      *twincore.Middleware
	clock   *store.Clock
	flusher WebhookFlusher
	config  ConfigProvider
}

// NewHandler returns the admin API over state. clock may be nil when the
// twin has no simulated time.
func NewHandler(state StateStore, mw *twincore.Middleware, clock *store.Clock) *Handler {
	return &Handler{state: state, mw: mw, clock: clock}
}

// SetFlusher enables POST /admin/webhooks/flush.
func (h *Handler) SetFlusher(f WebhookFlusher) { h.flusher = f }

// SetConfigProvider enables /admin/config.
func (h *Handler) SetConfigProvider(c ConfigProvider) { h.config = c }

// Routes mounts /admin on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Post("/reset", h.reset)
		r.Get("/state", h.dumpState)
		r.Post("/state", h.loadState)

		r.Get("/faults", h.listFaults)
		r.Post("/fault/*", h.injectFault)
		r.Delete("/fault/*", h.removeFault)

		r.Get("/requests", h.calls)
		r.Post("/webhooks/flush", h.flushWebhooks)

		r.Get("/time", h.now)
		r.Post("/time/advance", h.advanceTime)

		r.Get("/config", h.getConfig)
		r.Patch("/config", h.patchConfig)
	})
}
