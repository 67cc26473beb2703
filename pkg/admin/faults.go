package admin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// faultPath turns /admin/fault/api/data/v9.2/accounts into the Web API
// path /api/data/v9.2/accounts.
func faultPath(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

func validateFault(f twincore.Fault) error {
	if f.Status != 0 && (f.Status < 400 || f.Status > 599) {
		return fmt.Errorf("status_code %d is not an error status", f.Status)
	}
	if f.Status == 0 && f.DelayMS <= 0 {
		return fmt.Errorf("a fault needs a status_code or a delay_ms")
	}
	if f.Rate < 0 || f.Rate > 1 {
		return fmt.Errorf("rate %v is outside 0.0-1.0", f.Rate)
	}
	if f.DelayMS < 0 {
		return fmt.Errorf("delay_ms must not be negative")
	}
	return nil
}

func (h *Handler) injectFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)
	var f twincore.Fault
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", "decoding fault: "+err.Error())
		return
	}
	if err := validateFault(f); err != nil {
		twincore.Error(w, http.StatusBadRequest, "", err.Error())
		return
	}
	h.mw.Faults.Set(path, f)
	twincore.JSON(w, http.StatusOK, map[string]any{
		"status":   "injected",
		"endpoint": path,
		"fault":    h.mw.Faults.All()[path],
	})
}

func (h *Handler) removeFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)
	if !h.mw.Faults.Remove(path) {
		twincore.Error(w, http.StatusNotFound, "", "no fault on "+path)
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "removed", "endpoint": path})
}

func (h *Handler) listFaults(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.mw.Faults.All())
}
