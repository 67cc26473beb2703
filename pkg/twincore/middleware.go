package twincore

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware carries the twin's request journal and fault registry and the
// handlers that feed them.
type Middleware struct {
	twin    *Twin
	logger  *slog.Logger
	Journal *Journal
	Faults  *FaultRegistry
}

// NewMiddleware returns middleware that reads runtime settings from t.
func NewMiddleware(t *Twin, logger *slog.Logger) *Middleware {
	return &Middleware{
		twin:    t,
		logger:  logger,
		Journal: NewJournal(1000),
		Faults:  NewFaultRegistry(),
	}
}

var (
	corsMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsHeaders = strings.Join([]string{
		"Accept", "Authorization", "Content-Type", "If-Match", "If-None-Match",
		"OData-MaxVersion", "OData-Version", "Prefer",
	}, ", ")
	corsExpose = "OData-EntityId, OData-Version, Preference-Applied"
)

// CORS lets browser-hosted controls call the twin and answers preflights.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		h.Set("Access-Control-Expose-Headers", corsExpose)
		h.Set("Access-Control-Max-Age", "3600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// Record journals every call with its entity set and operation. With
// verbose on, request headers other than Authorization are kept and each
// call is logged at debug level.
func (m *Middleware) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(began)

		set, key, op := classify(r.Method, r.URL.Path)
		call := Call{
			Time:      began,
			RequestID: chimw.GetReqID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			EntitySet: set,
			Key:       key,
			Operation: op,
			Status:    sw.status,
			ElapsedMS: float64(elapsed.Microseconds()) / 1000,
		}

		if !m.twin.snapshot().Verbose {
			m.Journal.Record(call)
			return
		}
		call.Headers = map[string]string{}
		for name := range r.Header {
			if name != "Authorization" {
				call.Headers[name] = r.Header.Get(name)
			}
		}
		m.Journal.Record(call)
		m.logger.Debug("call",
			"op", op,
			"entity_set", set,
			"key", key,
			"status", sw.status,
			"elapsed", elapsed,
			"request_id", call.RequestID,
		)
	})
}

// pause waits for d or until the request is cancelled, reporting whether
// the full delay elapsed.
func pause(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

// LatencyInjection delays each call by the configured latency, jittered
// between 80% and 120%.
func (m *Middleware) LatencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := m.twin.snapshot().Latency
		if base > 0 && !pause(r, time.Duration(float64(base)*(0.8+0.4*rand.Float64()))) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RandomFailure fails the configured fraction of calls with a generic
// platform error. The admin API is exempt.
func (m *Middleware) RandomFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, op := classify(r.Method, r.URL.Path); op != OpAdmin {
			if rate := m.twin.snapshot().FailRate; rate > 0 && rand.Float64() < rate {
				Error(w, http.StatusInternalServerError, "0x80040216", "simulated random failure")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// FaultInjection applies registered faults. It is mounted on the Web API
// routes only, so the admin API stays reachable while faults are set.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := m.Faults.Check(r.Method, r.URL.Path)
		if f == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !pause(r, time.Duration(f.DelayMS)*time.Millisecond) {
			return
		}
		switch {
		case f.Status == 0:
			next.ServeHTTP(w, r)
		case f.Body != "":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.Status)
			fmt.Fprint(w, f.Body)
		default:
			msg := f.Message
			if msg == "" {
				msg = fmt.Sprintf("injected fault (%d)", f.Status)
			}
			Error(w, f.Status, f.errorCode(), msg)
		}
	})
}
