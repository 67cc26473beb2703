package twincore

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the twin's process configuration. Latency, FailRate, Verbose
// and WebhookURL may also be changed at runtime through UpdateConfig.
type Config struct {
	Name        string
	Port        int
	Latency     time.Duration
	FailRate    float64
	WebhookURL  string
	WebhookKey  string
	WebhookAuth string
	SeedFile    string
	Verbose     bool
}

// ParseFlags reads the twin's command line. When --port is not given the
// PORT environment variable is used, and failing that the OS picks a port.
func ParseFlags(name string, args []string) (*Config, error) {
	cfg := &Config{Name: name}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", 0, "listen port (0 picks a free one)")
	fs.DurationVar(&cfg.Latency, "latency", 0, "simulated latency added to each call")
	fs.Float64Var(&cfg.FailRate, "fail-rate", 0, "fraction of Web API calls to fail, 0.0-1.0")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "endpoint notified of Create, Update and Delete")
	fs.StringVar(&cfg.WebhookKey, "webhook-key", "", "key sent with each webhook notification")
	fs.StringVar(&cfg.WebhookAuth, "webhook-auth", "header", "how the webhook key is sent: header or webhookkey")
	fs.StringVar(&cfg.SeedFile, "seed-file", "", "JSON file of tables to load at startup")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every call at debug level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := checkFailRate(cfg.FailRate); err != nil {
		return nil, err
	}
	if cfg.Port == 0 && os.Getenv("PORT") != "" {
		port, err := strconv.Atoi(os.Getenv("PORT"))
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", os.Getenv("PORT"), err)
		}
		cfg.Port = port
	}
	return cfg, nil
}

func checkFailRate(rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("fail rate %v is outside 0.0-1.0", rate)
	}
	return nil
}

// snapshot copies the config under the read lock.
func (t *Twin) snapshot() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.Config
}

// GetConfig reports the runtime configuration for the admin API. The
// webhook key is never reported.
func (t *Twin) GetConfig() map[string]any {
	c := t.snapshot()
	return map[string]any{
		"name":        c.Name,
		"port":        c.Port,
		"latency":     c.Latency.String(),
		"fail_rate":   c.FailRate,
		"webhook_url": c.WebhookURL,
		"verbose":     c.Verbose,
	}
}

// UpdateConfig applies runtime changes. Updates are applied to a copy and
// committed only if every key is valid, so a rejected update changes
// nothing.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	next := t.snapshot()
	for key, v := range updates {
		if err := setRuntime(&next, key, v); err != nil {
			return err
		}
	}
	t.mu.Lock()
	*t.Config = next
	t.mu.Unlock()
	return nil
}

func setRuntime(c *Config, key string, v any) error {
	switch key {
	case "latency":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("latency: want a duration string such as \"250ms\", got %T", v)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("latency: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("latency: %s is negative", d)
		}
		c.Latency = d
	case "fail_rate":
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("fail_rate: want a number, got %T", v)
		}
		if err := checkFailRate(f); err != nil {
			return err
		}
		c.FailRate = f
	case "verbose":
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("verbose: want a boolean, got %T", v)
		}
		c.Verbose = b
	case "webhook_url":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("webhook_url: want a string, got %T", v)
		}
		c.WebhookURL = s
	case "name", "port":
		return fmt.Errorf("%s is fixed at startup", key)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
