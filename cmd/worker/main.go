package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hr-leave-identity/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	archiver, err := core.NewAuditArchiver(cfg.AuditArchiveDir)
	if err != nil {
		log.Fatalf("failed to prepare audit archive: %v", err)
	}
	defer archiver.Close()

	slots := max(cfg.WorkerConcurrency, 1)
	archiverID := core.NewArchiverID()
	logger = logger.With("archiver_id", archiverID)

	tracker := core.NewArchiverTracker(archiverID, cfg.AuditArchiveDir, slots)
	go tracker.Run(ctx, redisClient, logger)

	logger.Info("archiver started", "slots", slots, "queue", core.AuditPendingKey, "archive_dir", cfg.AuditArchiveDir)
	core.ArchiverPool{
		Queue:   core.NewRedisAuditQueue(redisClient),
		Sink:    archiver,
		Tracker: tracker,
		Logger:  logger,
		Slots:   slots,
	}.Run(ctx)
	logger.Info("archiver stopped", "archived", tracker.Snapshot().Archived)
}
