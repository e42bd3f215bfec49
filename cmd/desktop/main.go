// Package main provides the local collection server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/churchhouse/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/churchhouse/backend/internal/app"
	"github.com/kimhsiao/churchhouse/backend/internal/config"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to churchhouse.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(os.Stderr, logging.LevelInfo)
		logging.Error("Failed to load config", err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx := context.Background()
	rt, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to start runtime", err)
		os.Exit(1)
	}

	hub := NewWSHub(rt.Surface)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(rt, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		rt.Scheduler.Start(ctx)
	}

	go func() {
		logging.Info("ChurchHouse desktop server starting", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server stopped", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	hub.Close()
	if err := rt.Close(shutdownCtx); err != nil {
		logging.Warn("Runtime close incomplete", map[string]interface{}{"error": err.Error()})
	}
	logging.Info("ChurchHouse desktop server stopped")
}

// newRouter mounts the REST API under /api and the event stream on /ws.
func newRouter(rt *app.App, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	schedulerHandler := handlers.NewSchedulerHandler(rt.Scheduler)
	schedulerHandler.SetWebSocketHub(hub)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth)
		handlers.NewCollectionHandler(rt.Surface).Routes(r)
		schedulerHandler.Routes(r)
	})
	r.Get("/ws", HandleWebSocket(hub))
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"churchhouse-desktop"}`))
}
