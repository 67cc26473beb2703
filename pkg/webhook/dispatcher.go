package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Delivery is one attempt to post an event.
type Delivery struct {
	CorrelationID string    `json:"correlation_id"`
	URL           string    `json:"url"`
	Attempt       int       `json:"attempt"`
	StatusCode    int       `json:"status_code,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Config configures a Dispatcher. Zero values pick three attempts, a one
// second first retry delay and header authentication.
type Config struct {
	URL         string
	Secret      string
	Auth        Authenticator
	Logger      *slog.Logger
	MaxRetries  int
	RetryDelay  time.Duration
	AutoDeliver bool // post each event in the background as it is queued
}

// Dispatcher queues record notifications and posts them to one endpoint.
// Retries back off by doubling the delay after each failed attempt.
type Dispatcher struct {
	cfg    Config
	client *http.Client

	mu         sync.RWMutex
	url        string
	queue      []Event
	deliveries []Delivery
}

// NewDispatcher returns a dispatcher for cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Auth == nil {
		cfg.Auth = HeaderKey{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		url:    cfg.URL,
	}
}

// SetURL points the dispatcher at a new endpoint. An empty URL disables
// delivery.
func (d *Dispatcher) SetURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

// Enabled reports whether an endpoint is registered.
func (d *Dispatcher) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url != ""
}

// Enqueue queues the notification for one record operation and returns it.
// See NewEvent for the arguments.
func (d *Dispatcher) Enqueue(message, entity, id, userID string, target map[string]any) Event {
	evt := NewEvent(message, entity, id, userID, target)
	d.mu.Lock()
	d.queue = append(d.queue, evt)
	d.mu.Unlock()

	if d.cfg.AutoDeliver {
		go func() {
			if err := d.deliver(context.Background(), evt); err != nil {
				d.cfg.Logger.Warn("webhook not delivered",
					"message", evt.MessageName,
					"entity", evt.PrimaryEntityName,
					"id", evt.PrimaryEntityID,
					"correlation_id", evt.CorrelationID,
					"err", err,
				)
			}
		}()
	}
	return evt
}

// Flush posts every queued event in order and empties the queue. Every
// event is attempted; the last failure is returned.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	var failed error
	for _, evt := range pending {
		if err := d.deliver(ctx, evt); err != nil {
			failed = err
		}
	}
	return failed
}

// FlushWebhooks lets the admin API trigger Flush.
func (d *Dispatcher) FlushWebhooks(ctx context.Context) error {
	return d.Flush(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) error {
	d.mu.RLock()
	url := d.url
	d.mu.RUnlock()
	if url == "" {
		d.cfg.Logger.Debug("webhooks disabled, dropping event", "correlation_id", evt.CorrelationID)
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.CorrelationID, err)
	}

	wait := d.cfg.RetryDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		status, err := d.post(ctx, url, payload)
		rec := Delivery{
			CorrelationID: evt.CorrelationID,
			URL:           url,
			Attempt:       attempt,
			StatusCode:    status,
			Timestamp:     time.Now(),
		}
		if err == nil && status >= 300 {
			err = fmt.Errorf("endpoint answered %d", status)
		}
		if err != nil {
			rec.Error = err.Error()
		}
		d.mu.Lock()
		d.deliveries = append(d.deliveries, rec)
		d.mu.Unlock()

		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == d.cfg.MaxRetries {
			return fmt.Errorf("%s %s %s after %d attempts: %w",
				evt.MessageName, evt.PrimaryEntityName, evt.PrimaryEntityID, attempt, lastErr)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		wait *= 2
	}
}

// post sends one attempt and returns the response status.
func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Secret != "" {
		d.cfg.Auth.Authenticate(req, d.cfg.Secret)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Deliveries returns every attempt made so far.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Delivery(nil), d.deliveries...)
}

// QueuedEvents returns the events not yet flushed.
func (d *Dispatcher) QueuedEvents() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Event(nil), d.queue...)
}

// Reset drops queued events and the delivery history.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.queue = nil
	d.deliveries = nil
	d.mu.Unlock()
}
