/**
 * @description
 * Main entry point for the Racewise API.
 * Loads configuration, connects Postgres and Redis, wires services and
 * serves the Fiber app until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - github.com/racewise/backend/internal/config: Config loader
 * - github.com/racewise/backend/internal/db: Database connections
 *
 * @notes
 * - Redis is optional: without it caching, the sync lock and the live
 *   stream are disabled.
 */

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/racewise/backend/internal/api"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/db"
	"github.com/racewise/backend/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Database Connections
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		logger.Fatal("Failed to migrate schema: %v", err)
	}

	redisClient, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache: %v", err)
		redisClient = nil
	}

	// 3. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "Racewise API",
		StrictRouting: true,
		CaseSensitive: true,
	})

	// 4. Global Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Sync-Secret",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	// 5. Routes
	svc := api.NewServices(pgDB, redisClient, cfg)
	defer svc.Close()
	api.SetupRoutes(app, pgDB, redisClient, cfg, svc)

	// 6. Start Server
	go func() {
		logger.Info("🚀 Starting Racewise API on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := pgDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
