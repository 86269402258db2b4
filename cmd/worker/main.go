package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/situation-engine/internal/config"
	"github.com/jwebster45206/situation-engine/internal/logger"
	"github.com/jwebster45206/situation-engine/internal/services/queue"
	internalStorage "github.com/jwebster45206/situation-engine/internal/storage"
	"github.com/jwebster45206/situation-engine/internal/worker"
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

	log.Info("Starting Situation Engine Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"storage", cfg.StorageBackend)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Error("Failed to load engine tuning", "error", err)
		os.Exit(1)
	}
	log.Info("Engine limits",
		"max_cascade_depth", engineCfg.MaxCascadeDepth,
		"max_discoverable", engineCfg.MaxDiscoverable)

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
	log.Info("Content loaded", "packs", len(packs), "seeds", registry.Len())

	roster, err := actor.LoadRoster(cfg.PCsDir(), nil, log)
	if err != nil {
		log.Error("Failed to load player characters", "error", err)
		os.Exit(1)
	}

	// Initialize queue service
	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	commands := queue.NewCommandQueue(queueClient)
	log.Info("Queue service initialized successfully")

	// Initialize storage service
	store, err := internalStorage.Open(cfg.StorageBackend, cfg.RedisURL, cfg.SnapshotDir, cfg.SlotTTL, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if waiter, ok := store.(interface{ WaitForConnection(context.Context) error }); ok {
		err = waiter.WaitForConnection(storageCtx)
	} else {
		err = store.Ping(storageCtx)
	}
	if err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage service initialized successfully")

	journal, err := internalStorage.OpenJournalIndex(cfg.JournalDB, log)
	if err != nil {
		log.Error("Failed to open journal index", "error", err, "path", cfg.JournalDB)
		os.Exit(1)
	}
	defer journal.Close()

	processor := worker.NewSlotProcessor(store, journal, roster, engineCfg, log)
	w := worker.New(commands, processor, queueClient.GetRedisClient(), log, cfg.WorkerID)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for commands...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()

	// Give the worker time to finish the command in hand
	time.Sleep(2 * time.Second)

	log.Info("Worker exited")
}
