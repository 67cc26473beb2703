// Package twincore is the HTTP shell of the record twin: the chi router and
// its middleware, runtime configuration, and OData response writers.
package twincore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const shutdownGrace = 10 * time.Second

// Twin is a running record twin. Handlers are mounted on Router.
type Twin struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger

	mu sync.RWMutex // guards Config after startup
	mw *Middleware
}

// New builds a twin with its middleware chain installed. Latency and
// random failure read the config on every call, so runtime updates apply
// without a restart.
func New(cfg *Config) *Twin {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("twin", cfg.Name)

	t := &Twin{Config: cfg, Router: chi.NewRouter(), Logger: logger}
	t.mw = NewMiddleware(t, logger)
	t.Router.Use(
		chimw.RequestID,
		chimw.RealIP,
		t.mw.CORS,
		t.mw.Record,
		t.mw.LatencyInjection,
		t.mw.RandomFailure,
	)
	return t
}

// Middleware returns the twin's journal and fault registry holder.
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// ServeHTTP lets tests drive the twin through httptest.
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}

// Serve listens on the configured port until ctx ends or the process gets
// SIGINT or SIGTERM, then drains in-flight calls.
func (t *Twin) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.Config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", t.Config.Port, err)
	}
	srv := &http.Server{
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Logger.Info("record twin listening", "addr", ln.Addr().String())

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	t.Logger.Info("record twin shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(drainCtx)
}
