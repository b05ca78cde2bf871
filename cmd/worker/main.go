/**
 * @description
 * Worker Service Entry Point.
 * Runs the race sync on a cron schedule and, when configured, generates
 * predictions for today's races that have none.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/services
 * - backend/internal/worker
 */

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/db"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
	"github.com/racewise/backend/internal/worker"
)

func main() {
	logger.Info("🔥 Starting Racewise Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.Env)
	defer func() { _ = logger.Sync() }()

	types, err := prediction.ParseTypes(cfg.Worker.AutoPredictTypes)
	if err != nil {
		logger.Fatal("Invalid WORKER_AUTO_PREDICT_TYPES: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		logger.Fatal("Failed to migrate schema: %v", err)
	}

	redisClient, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache or sync lock: %v", err)
		redisClient = nil
	}
	cache := services.NewCache(redisClient)

	// 3. Initialize Services
	store := services.NewPredictionStore(pgDB)
	races := services.NewRaceService(pgDB, cache, kra.NewClient(cfg))
	contexts := services.NewRaceContextService(pgDB, cache, cfg.Prediction.ContextCacheTTL)
	predictions := services.NewPredictionService(contexts, services.NewModel(cfg), store, cache, services.GeneratorConfigFrom(cfg))

	w := worker.New(races, predictions, store, types)

	// 4. Schedule
	c := worker.NewCron()
	if _, err := w.Schedule(ctx, c, cfg.Worker.SyncSchedule); err != nil {
		logger.Fatal("%v", err)
	}
	c.Start()
	logger.Info("Scheduled sync %q, auto predict %v", cfg.Worker.SyncSchedule, types)

	// Initial run
	go w.RunOnce(ctx)

	// 5. Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down worker...")
	<-c.Stop().Done()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("Worker exited.")
}
