// Package observability carries operation events from the record client and
// control to logs. Level values follow the OpenTelemetry severity numbers.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level represents event severity.
type Level int

const (
	LevelVerbose Level = 5
	LevelInfo    Level = 9
	LevelWarning Level = 13
	LevelError   Level = 17
)

func (l Level) String() string {
	switch {
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	default:
		return "ERROR"
	}
}

// SlogLevel maps the level onto slog.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event, e.g. "record.create.complete".
type EventType string

// Event is one observation emitted by a component.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives events.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// MultiObserver fans events out to several observers.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver returns a MultiObserver over the non-nil observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}

// SlogObserver writes events to a slog.Logger: the event type becomes the
// message and Data keys become attributes.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver. A nil logger means slog.Default().
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}

// Recorder keeps every event it receives. Tests and the CLI's verbose mode
// use it to inspect what a component did.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
