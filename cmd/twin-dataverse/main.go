// twin-dataverse is a record twin that simulates the Dataverse Web API used by
// the record client: create, retrieve by id, retrieve multiple with FetchXML
// or OData query options, update and delete, plus WhoAmI.
//
// Integration method: point the client's base URL at the twin
// Default port: 8080
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/wondertwin-ai/recordtwin/internal/api"
	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/pkg/admin"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
	"github.com/wondertwin-ai/recordtwin/pkg/webhook"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("twin-dataverse: %v", err)
	}
}

func run(args []string) error {
	cfg, err := twincore.ParseFlags("twin-dataverse", args)
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	auth, err := webhook.AuthFor(cfg.WebhookAuth)
	if err != nil {
		return err
	}

	twin := twincore.New(cfg)
	tables := dvstore.New()
	notifier := webhook.NewDispatcher(webhook.Config{
		URL:         cfg.WebhookURL,
		Secret:      cfg.WebhookKey,
		Auth:        auth,
		Logger:      twin.Logger,
		AutoDeliver: true,
	})

	api.NewHandler(tables, notifier, twin.Middleware()).Routes(twin.Router)

	control := admin.NewHandler(tables, twin.Middleware(), tables.Clock)
	control.SetFlusher(notifier)
	control.SetConfigProvider(&runtimeConfig{twin: twin, dispatcher: notifier})
	control.Routes(twin.Router)

	if cfg.SeedFile != "" {
		seed, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("seed file: %w", err)
		}
		if err := tables.LoadState(seed); err != nil {
			return fmt.Errorf("seed file %s: %w", cfg.SeedFile, err)
		}
		twin.Logger.Info("seeded tables", "file", cfg.SeedFile, "entities", tables.Entities())
	}

	twin.Logger.Info("twin-dataverse ready",
		"port", cfg.Port,
		"service_root", api.BasePath,
		"webhooks", notifier.Enabled(),
	)
	return twin.Serve(context.Background())
}

// runtimeConfig forwards admin config updates to the twin and keeps the
// webhook dispatcher's URL in step with webhook_url.
type runtimeConfig struct {
	twin       *twincore.Twin
	dispatcher *webhook.Dispatcher
}

func (c *runtimeConfig) GetConfig() map[string]any {
	return c.twin.GetConfig()
}

func (c *runtimeConfig) UpdateConfig(updates map[string]any) error {
	if err := c.twin.UpdateConfig(updates); err != nil {
		return err
	}
	if u, ok := updates["webhook_url"].(string); ok {
		c.dispatcher.SetURL(u)
	}
	return nil
}
