package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/services"
)

type SyncHandler struct {
	Races *services.RaceService
}

func NewSyncHandler(races *services.RaceService) *SyncHandler {
	return &SyncHandler{Races: races}
}

type SyncRequest struct {
	Date string `json:"date"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Sync imports race data for one day (default today) or a range
// POST /api/v1/sync
func (h *SyncHandler) Sync(c *fiber.Ctx) error {
	var req SyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	ctx := c.UserContext()

	if req.From != "" || req.To != "" {
		from, err := kra.ParseDate(req.From)
		if err != nil {
			return badRequest(c, "from must be YYYYMMDD")
		}
		to, err := kra.ParseDate(req.To)
		if err != nil {
			return badRequest(c, "to must be YYYYMMDD")
		}
		results, err := h.Races.SyncRange(ctx, from, to)
		if err != nil {
			return syncError(c, err)
		}
		return c.JSON(fiber.Map{"days": results})
	}

	date := time.Now()
	if req.Date != "" {
		d, err := kra.ParseDate(req.Date)
		if err != nil {
			return badRequest(c, "date must be YYYYMMDD")
		}
		date = d
	}
	res, err := h.Races.SyncDate(ctx, date)
	if err != nil {
		return syncError(c, err)
	}
	return c.JSON(res)
}

func syncError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrSyncInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
}
