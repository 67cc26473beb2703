package twincore

import (
	"math/rand"
	"strings"
	"sync"
)

// Fault makes matching Web API calls fail. Status 0 with a delay only slows
// calls down.
type Fault struct {
	Status  int     `json:"status_code"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
	Body    string  `json:"body,omitempty"`
	Method  string  `json:"method,omitempty"`
	DelayMS int     `json:"delay_ms,omitempty"`
	Rate    float64 `json:"rate"`
}

// errorCode returns the Dataverse error code sent with the fault.
func (f Fault) errorCode() string {
	if f.Code != "" {
		return f.Code
	}
	switch f.Status {
	case 429:
		return "0x80072322"
	case 401, 403:
		return "0x80048306"
	case 412:
		return "0x80060882"
	}
	return "0x80040216"
}

// FaultRegistry holds faults keyed by path. A key is either a record path
// such as /api/data/v9.2/accounts(<id>) or an entity set path, which also
// covers every record of the set.
type FaultRegistry struct {
	mu     sync.RWMutex
	faults map[string]Fault
}

// NewFaultRegistry returns an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: map[string]Fault{}}
}

// Set registers f for path, replacing any fault already there. A zero rate
// means every matching call.
func (fr *FaultRegistry) Set(path string, f Fault) {
	if f.Rate <= 0 {
		f.Rate = 1
	}
	f.Method = strings.ToUpper(f.Method)
	fr.mu.Lock()
	fr.faults[path] = f
	fr.mu.Unlock()
}

// Remove drops the fault for path and reports whether one was registered.
func (fr *FaultRegistry) Remove(path string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, ok := fr.faults[path]; !ok {
		return false
	}
	delete(fr.faults, path)
	return true
}

// Check returns the fault that fires for a call, or nil. A record path is
// looked up first, then its entity set. Faults restricted to a method only
// match calls with that method.
func (fr *FaultRegistry) Check(method, path string) *Fault {
	fr.mu.RLock()
	f, ok := fr.lookup(strings.ToUpper(method), path)
	fr.mu.RUnlock()
	if !ok || (f.Rate < 1 && rand.Float64() >= f.Rate) {
		return nil
	}
	return &f
}

func (fr *FaultRegistry) lookup(method, path string) (Fault, bool) {
	candidates := []string{path}
	if open := strings.LastIndexByte(path, '('); open > 0 && strings.HasSuffix(path, ")") {
		candidates = append(candidates, path[:open])
	}
	for _, p := range candidates {
		if f, ok := fr.faults[p]; ok && (f.Method == "" || f.Method == method) {
			return f, true
		}
	}
	return Fault{}, false
}

// All returns a copy of the registered faults.
func (fr *FaultRegistry) All() map[string]Fault {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]Fault, len(fr.faults))
	for p, f := range fr.faults {
		out[p] = f
	}
	return out
}

// Reset drops every fault.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	fr.faults = map[string]Fault{}
	fr.mu.Unlock()
}
