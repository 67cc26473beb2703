package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/wondertwin-ai/recordtwin/internal/observability"
)

func TestLevelMapping(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		text  string
		slog  slog.Level
	}{
		{name: "verbose", level: observability.LevelVerbose, text: "DEBUG", slog: slog.LevelDebug},
		{name: "info", level: observability.LevelInfo, text: "INFO", slog: slog.LevelInfo},
		{name: "warning", level: observability.LevelWarning, text: "WARN", slog: slog.LevelWarn},
		{name: "error", level: observability.LevelError, text: "ERROR", slog: slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.text {
				t.Errorf("String() = %q, want %q", got, tt.text)
			}
			if got := tt.level.SlogLevel(); got != tt.slog {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.slog)
			}
		})
	}
}

func TestSlogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := observability.NewSlogObserver(logger)

	obs.OnEvent(context.Background(), observability.Event{
		Type:   "record.create.complete",
		Level:  observability.LevelInfo,
		Source: "recordclient",
		Data:   map[string]any{"entity": "account"},
	})
	obs.OnEvent(context.Background(), observability.Event{
		Type:  "record.create.start",
		Level: observability.LevelVerbose,
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "record.create.complete" || entry["source"] != "recordclient" || entry["entity"] != "account" {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestMultiObserverFiltersNil(t *testing.T) {
	rec := &observability.Recorder{}
	multi := observability.NewMultiObserver(nil, rec, observability.NoOpObserver{})
	multi.OnEvent(context.Background(), observability.Event{Type: "a", Timestamp: time.Now()})
	multi.OnEvent(context.Background(), observability.Event{Type: "b"})

	types := rec.Types()
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("unexpected recorded types %v", types)
	}
	if len(rec.Events()) != 2 {
		t.Errorf("expected 2 events, got %d", len(rec.Events()))
	}
}
