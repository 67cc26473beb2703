package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// calls lists journaled calls. The entity_set and operation query
// parameters narrow the list.
func (h *Handler) calls(w http.ResponseWriter, r *http.Request) {
	calls := h.mw.Journal.Calls(r.URL.Query().Get("entity_set"))
	if op := twincore.Operation(r.URL.Query().Get("operation")); op != "" {
		kept := calls[:0]
		for _, c := range calls {
			if c.Operation == op {
				kept = append(kept, c)
			}
		}
		calls = kept
	}
	twincore.JSON(w, http.StatusOK, calls)
}

func (h *Handler) flushWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.flusher == nil {
		twincore.JSON(w, http.StatusOK, map[string]string{"status": "webhooks disabled"})
		return
	}
	if err := h.flusher.FlushWebhooks(r.Context()); err != nil {
		twincore.Error(w, http.StatusBadGateway, "", "webhook delivery: "+err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *Handler) clockView() map[string]any {
	view := map[string]any{"real": time.Now().UTC().Format(time.RFC3339)}
	if h.clock != nil {
		view["simulated"] = h.clock.Now().UTC().Format(time.RFC3339)
		view["offset"] = h.clock.Offset().String()
	}
	return view
}

func (h *Handler) now(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.clockView())
}

// advanceTime moves the clock that stamps createdon and modifiedon.
// The body is {"duration":"24h"}.
func (h *Handler) advanceTime(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		twincore.Error(w, http.StatusConflict, "", "this twin has no simulated clock")
		return
	}
	var body struct {
		Duration string `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "decoding body: "+err.Error())
		return
	}
	d, err := time.ParseDuration(body.Duration)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "duration: "+err.Error())
		return
	}
	if d < 0 {
		twincore.Error(w, http.StatusBadRequest, "", "the clock only moves forward")
		return
	}
	h.clock.Advance(d)
	twincore.JSON(w, http.StatusOK, h.clockView())
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotFound, "", "runtime config is not exposed")
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotFound, "", "runtime config is not exposed")
		return
	}
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "decoding config: "+err.Error())
		return
	}
	if err := h.config.UpdateConfig(updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}
