/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 */

package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/api/handlers"
	"github.com/racewise/backend/internal/api/middleware"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Services bundles what the routes serve. Build it with NewServices or
// assemble it directly in tests.
type Services struct {
	Races       *services.RaceService
	Contexts    *services.RaceContextService
	Predictions *services.PredictionService
	Hub         *services.PredictionStreamHub
}

// NewServices wires the production services from config.
func NewServices(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Services {
	cache := services.NewCache(rdb)
	contexts := services.NewRaceContextService(db, cache, cfg.Prediction.ContextCacheTTL)
	svc := &Services{
		Races:    services.NewRaceService(db, cache, kra.NewClient(cfg)),
		Contexts: contexts,
		Predictions: services.NewPredictionService(
			contexts,
			services.NewModel(cfg),
			services.NewPredictionStore(db),
			cache,
			services.GeneratorConfigFrom(cfg),
		),
	}
	if rdb != nil {
		svc.Hub = services.NewPredictionStreamHub(rdb, services.PredictionCreatedChannel)
	}
	return svc
}

// Close releases background resources.
func (s *Services) Close() {
	if s.Hub != nil {
		s.Hub.Close()
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config, svc *Services) {
	// 1. Initialize Middleware
	auth, err := middleware.NewAuth(cfg)
	if err != nil {
		// Start anyway; token auth fails until the JWKS is reachable.
		logger.Error("Failed to init auth middleware: %v", err)
	}

	// 2. Initialize Handlers
	health := &handlers.HealthHandler{DB: db, Redis: rdb, Model: svc.Predictions.Model.Name()}
	raceHandler := handlers.NewRaceHandler(svc.Races, svc.Contexts)
	predictionHandler := handlers.NewPredictionHandler(svc.Predictions, svc.Hub)
	syncHandler := handlers.NewSyncHandler(svc.Races)
	analyticsHandler := handlers.NewAnalyticsHandler(svc.Races)

	// 3. Define Routes
	v1 := app.Group("/api/v1")

	v1.Get("/health", health.Health)

	races := v1.Group("/races")
	races.Get("", raceHandler.ListRaces)
	races.Get("/today", raceHandler.TodayRaces)
	races.Get("/:id", raceHandler.GetRace)
	races.Get("/:id/entries", raceHandler.GetEntries)
	races.Get("/:id/context", raceHandler.GetContext)

	predictions := v1.Group("/predictions")
	predictions.Get("", predictionHandler.List)
	predictions.Get("/stream", predictionHandler.Stream)
	predictions.Get("/:id/validate", predictionHandler.Validate)
	predictions.Post("/generate", auth.Protected(), predictionHandler.Generate)

	v1.Post("/sync", auth.Protected(), syncHandler.Sync)

	analytics := v1.Group("/analytics")
	analytics.Get("/horse/:id", analyticsHandler.Horse)
	analytics.Get("/jockey/:id", analyticsHandler.Jockey)
	analytics.Get("/trainer/:id", analyticsHandler.Trainer)
}
