package admin

import (
	"io"
	"net/http"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reset drops all records, the journal, every fault and any queued
// webhook notifications, and rewinds the clock.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	h.mw.Journal.Clear()
	h.mw.Faults.Reset()
	if q, ok := h.flusher.(interface{ Reset() }); ok {
		q.Reset()
	}
	if h.clock != nil {
		h.clock.Reset()
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) dumpState(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

// loadState replaces every table with the request body and answers with
// the row count of each loaded table when the store can report it.
func (h *Handler) loadState(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "reading state: "+err.Error())
		return
	}
	if err := h.state.LoadState(doc); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "loading state: "+err.Error())
		return
	}

	resp := map[string]any{"status": "loaded"}
	if rc, ok := h.state.(rowCounter); ok {
		rows := map[string]int{}
		for _, entity := range rc.Entities() {
			rows[entity] = rc.Count(entity)
		}
		resp["rows"] = rows
	}
	twincore.JSON(w, http.StatusOK, resp)
}
