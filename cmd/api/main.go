package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/situation-engine/internal/config"
	"github.com/jwebster45206/situation-engine/internal/handlers"
	"github.com/jwebster45206/situation-engine/internal/logger"
	"github.com/jwebster45206/situation-engine/internal/middleware"
	"github.com/jwebster45206/situation-engine/internal/services/events"
	"github.com/jwebster45206/situation-engine/internal/services/queue"
	internalStorage "github.com/jwebster45206/situation-engine/internal/storage"
	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/content"
	"github.com/jwebster45206/situation-engine/pkg/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Situation Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"storage", cfg.StorageBackend,
		"data_dir", cfg.DataDir)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Error("Failed to load engine tuning", "error", err)
		os.Exit(1)
	}

	loader, err := content.NewLoader(log)
	if err != nil {
		log.Error("Failed to create content loader", "error", err)
		os.Exit(1)
	}
	packs, err := loader.LoadDir(cfg.PacksDir())
	if err != nil {
		log.Error("Failed to load content packs", "error", err, "dir", cfg.PacksDir())
		os.Exit(1)
	}
	registry := engine.NewRegistry(log)
	if errs := content.Register(registry, packs...); len(errs) > 0 {
		log.Error("Content packs failed to register", "error", errors.Join(errs...))
		os.Exit(1)
	}

	roster, err := actor.LoadRoster(cfg.PCsDir(), nil, log)
	if err != nil {
		log.Error("Failed to load player characters", "error", err)
		os.Exit(1)
	}

	store, err := internalStorage.Open(cfg.StorageBackend, cfg.RedisURL, cfg.SnapshotDir, cfg.SlotTTL, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.Ping(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	journal, err := internalStorage.OpenJournalIndex(cfg.JournalDB, log)
	if err != nil {
		log.Error("Failed to open journal index", "error", err, "path", cfg.JournalDB)
		os.Exit(1)
	}

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	commands := queue.NewCommandQueue(queueClient)
	broadcaster := events.NewBroadcaster(queueClient.GetRedisClient(), log)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"storage": store,
		"journal": journal,
		"queue":   queueClient,
	}, log)
	mux.Handle("/health", healthHandler)

	slotsHandler := handlers.NewSlotsHandler(store, registry, engineCfg, roster, journal, commands, broadcaster, log)
	mux.Handle("/v1/slots", slotsHandler)
	mux.Handle("/v1/slots/", slotsHandler)

	pcHandler := handlers.NewPCHandler(log, roster)
	mux.Handle("/v1/pcs", pcHandler)
	mux.Handle("/v1/pcs/", pcHandler)

	mux.Handle("/v1/events/slots/", handlers.NewEventsHandler(queueClient.GetRedisClient(), log))

	handler := middleware.Logger(mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket streams manage their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr, "seeds", len(registry.Seeds()), "pcs", roster.Len())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := queueClient.Close(); err != nil {
		log.Error("Error closing queue client", "error", err)
	}
	if err := journal.Close(); err != nil {
		log.Error("Error closing journal index", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
