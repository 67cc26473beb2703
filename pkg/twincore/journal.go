package twincore

import (
	"strings"
	"sync"
	"time"
)

// Operation names a record call as the Web API sees it.
type Operation string

const (
	OpCreate           Operation = "create"
	OpRetrieve         Operation = "retrieve"
	OpRetrieveMultiple Operation = "retrieveMultiple"
	OpUpdate           Operation = "update"
	OpDelete           Operation = "delete"
	OpAdmin            Operation = "admin"
	OpOther            Operation = "other"
)

// Call is one journaled request.
type Call struct {
	Time      time.Time         `json:"time"`
	RequestID string            `json:"request_id,omitempty"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     string            `json:"query,omitempty"`
	EntitySet string            `json:"entity_set,omitempty"`
	Key       string            `json:"key,omitempty"`
	Operation Operation         `json:"operation"`
	Status    int               `json:"status"`
	ElapsedMS float64           `json:"elapsed_ms"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// classify splits a Web API path like /api/data/v9.2/accounts(<id>) into
// entity set and key and names the operation.
func classify(method, path string) (set, key string, op Operation) {
	if strings.HasPrefix(path, "/admin/") {
		return "", "", OpAdmin
	}
	rest, ok := strings.CutPrefix(path, "/api/data/")
	if !ok {
		return "", "", OpOther
	}
	// drop the version segment
	_, rest, ok = strings.Cut(rest, "/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", "", OpOther
	}
	set = rest
	if open := strings.IndexByte(rest, '('); open > 0 && strings.HasSuffix(rest, ")") {
		set, key = rest[:open], rest[open+1:len(rest)-1]
	}

	switch {
	case method == "POST" && key == "":
		op = OpCreate
	case method == "GET" && key == "":
		op = OpRetrieveMultiple
	case method == "GET":
		op = OpRetrieve
	case method == "PATCH" || method == "PUT":
		op = OpUpdate
	case method == "DELETE":
		op = OpDelete
	default:
		op = OpOther
	}
	return set, key, op
}

// Journal keeps the most recent calls in a fixed-size ring.
type Journal struct {
	mu    sync.Mutex
	ring  []Call
	next  int
	count int
}

// NewJournal returns a journal that remembers the last size calls.
func NewJournal(size int) *Journal {
	if size < 1 {
		size = 1
	}
	return &Journal{ring: make([]Call, size)}
}

// Record stores c, overwriting the oldest call when the journal is full.
func (j *Journal) Record(c Call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ring[j.next] = c
	j.next = (j.next + 1) % len(j.ring)
	if j.count < len(j.ring) {
		j.count++
	}
}

// Calls returns the journaled calls, oldest first. A non-empty entitySet
// limits the result to calls against that set.
func (j *Journal) Calls(entitySet string) []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Call, 0, j.count)
	start := (j.next - j.count + len(j.ring)) % len(j.ring)
	for i := 0; i < j.count; i++ {
		c := j.ring[(start+i)%len(j.ring)]
		if entitySet == "" || strings.EqualFold(c.EntitySet, entitySet) {
			out = append(out, c)
		}
	}
	return out
}

// Clear forgets every call.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	clear(j.ring)
	j.next, j.count = 0, 0
}
