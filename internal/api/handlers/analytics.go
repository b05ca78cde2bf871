package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/services"
)

type AnalyticsHandler struct {
	Races *services.RaceService
}

func NewAnalyticsHandler(races *services.RaceService) *AnalyticsHandler {
	return &AnalyticsHandler{Races: races}
}

// GET /api/v1/analytics/horse/:id
func (h *AnalyticsHandler) Horse(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid horse id")
	}
	stats, err := h.Races.HorseStats(c.UserContext(), id)
	if err != nil {
		return analyticsError(c, err)
	}
	return c.JSON(stats)
}

// GET /api/v1/analytics/jockey/:id
func (h *AnalyticsHandler) Jockey(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid jockey id")
	}
	stats, err := h.Races.JockeyStats(c.UserContext(), id)
	if err != nil {
		return analyticsError(c, err)
	}
	return c.JSON(stats)
}

// GET /api/v1/analytics/trainer/:id
func (h *AnalyticsHandler) Trainer(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid trainer id")
	}
	stats, err := h.Races.TrainerStats(c.UserContext(), id)
	if err != nil {
		return analyticsError(c, err)
	}
	return c.JSON(stats)
}

func analyticsError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrParticipantNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute stats"})
}
