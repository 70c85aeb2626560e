package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/taskpulse/internal/config"
	"github.com/ent0n29/taskpulse/internal/httpapi"
	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/tasks"
)

// taskstore serves the task REST contract from memory or Postgres so the
// task service has a remote to sync with during development.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("dotenv error: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	store, backend, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_store")
	httpServer := &http.Server{
		Addr:    cfg.StoreBindAddr,
		Handler: httpapi.NewStoreServer(store, metrics).Router(),
	}

	go func() {
		log.Printf("task store (%s) listening on %s", backend, cfg.StoreBindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (tasks.Store, string, error) {
	backend := cfg.StoreBackend
	if backend == "auto" {
		backend = "memory"
		if cfg.DatabaseURL != "" {
			backend = "postgres"
		}
	}
	if backend == "postgres" {
		if cfg.DatabaseURL == "" {
			return nil, "", errors.New("TASKSTORE_BACKEND=postgres requires DATABASE_URL")
		}
		s, err := tasks.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, backend, nil
	}
	return tasks.NewMemoryStore(), backend, nil
}
