/**
 * @description
 * Race API Handlers.
 * Exposes race cards, entries and the prompt context built for a race.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/services"
)

type RaceHandler struct {
	Races    *services.RaceService
	Contexts *services.RaceContextService
}

func NewRaceHandler(races *services.RaceService, contexts *services.RaceContextService) *RaceHandler {
	return &RaceHandler{Races: races, Contexts: contexts}
}

// ListRaces returns races filtered by date, track and status
// GET /api/v1/races?date=YYYYMMDD&track=1&status=scheduled&limit=&offset=
func (h *RaceHandler) ListRaces(c *fiber.Ctx) error {
	q := services.RaceQuery{
		TrackCode: c.QueryInt("track", 0),
		Status:    c.Query("status"),
		Limit:     c.QueryInt("limit", 0),
		Offset:    c.QueryInt("offset", 0),
	}
	if raw := c.Query("date"); raw != "" {
		date, err := kra.ParseDate(raw)
		if err != nil {
			return badRequest(c, "date must be YYYYMMDD")
		}
		q.Date = &date
	}

	races, err := h.Races.ListRaces(c.UserContext(), q)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch races",
		})
	}
	return c.JSON(races)
}

// TodayRaces returns today's card
// GET /api/v1/races/today
func (h *RaceHandler) TodayRaces(c *fiber.Ctx) error {
	races, err := h.Races.TodayRaces(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch today's races",
		})
	}
	return c.JSON(races)
}

// GetRace returns one race with its entries
// GET /api/v1/races/:id
func (h *RaceHandler) GetRace(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid race id")
	}
	race, err := h.Races.GetRace(c.UserContext(), id)
	if err != nil {
		return raceError(c, err)
	}
	return c.JSON(race)
}

// GetEntries returns the runners of a race
// GET /api/v1/races/:id/entries
func (h *RaceHandler) GetEntries(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid race id")
	}
	entries, err := h.Races.Entries(c.UserContext(), id)
	if err != nil {
		return raceError(c, err)
	}
	return c.JSON(entries)
}

// GetContext returns the model context for a race with its stats
// GET /api/v1/races/:id/context?compact=true
func (h *RaceHandler) GetContext(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid race id")
	}
	ctx := c.UserContext()

	validation, err := h.Contexts.Validate(ctx, id)
	if err != nil {
		return raceError(c, err)
	}

	var body interface{}
	if c.QueryBool("compact", false) {
		body, err = h.Contexts.BuildCompact(ctx, id)
	} else {
		body, err = h.Contexts.Build(ctx, id)
	}
	if err != nil {
		return raceError(c, err)
	}
	stats, err := h.Contexts.Stats(ctx, id)
	if err != nil {
		return raceError(c, err)
	}

	return c.JSON(fiber.Map{
		"validation": validation,
		"context":    body,
		"stats":      stats,
	})
}

func raceError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrRaceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Race not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load race"})
}
