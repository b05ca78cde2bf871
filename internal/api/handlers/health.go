package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	DB    *gorm.DB
	Redis *redis.Client
	Model string
}

// Health reports dependency status; only the database is required.
// GET /api/v1/health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	body := fiber.Map{"status": "ok", "database": "ok", "redis": "disabled", "model": h.Model}
	status := fiber.StatusOK

	if sqlDB, err := h.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}
	if h.Redis != nil {
		body["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			body["redis"] = "unreachable"
		}
	}
	return c.Status(status).JSON(body)
}
