package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"checkin/internal/config"
	"checkin/internal/queue"
	"checkin/internal/storage"
	"checkin/internal/store"
)

// Worker consumes cleanup messages and deletes orphaned photo blobs,
// left behind when a record write failed after the upload succeeded.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if cfg.StorageURL == "" || cfg.StorageKey == "" {
		log.Fatal("object storage not configured (STORAGE_URL / STORAGE_KEY)")
	}
	objects := storage.NewSupabase(cfg.StorageURL, cfg.StorageKey, cfg.StorageBucket)

	redisClient := store.NewRedis(cfg.RedisAddr)
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:cleanup")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Info("cleanup worker started, waiting for messages")
	for msg := range messages {
		if msg.Kind != queue.KindOrphanedPhoto || msg.Key == "" {
			continue
		}
		if err := objects.Delete(ctx, msg.Key); err != nil {
			logger.Warn("delete orphaned blob failed", "key", msg.Key, "err", err)
			continue
		}
		logger.Info("orphaned blob deleted", "key", msg.Key)
	}

	logger.Info("worker stopped")
}
