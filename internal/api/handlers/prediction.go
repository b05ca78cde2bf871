/**
 * @description
 * Prediction API Handlers.
 * Generation (single and batch), reads, re-validation and the live SSE
 * stream of newly stored predictions.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/prediction
 */

package handlers

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
)

const streamHeartbeat = 15 * time.Second

type PredictionHandler struct {
	Service *services.PredictionService
	Hub     *services.PredictionStreamHub
}

func NewPredictionHandler(service *services.PredictionService, hub *services.PredictionStreamHub) *PredictionHandler {
	return &PredictionHandler{Service: service, Hub: hub}
}

type GenerateRequest struct {
	RaceID          uint             `json:"race_id"`
	PredictionType  string           `json:"prediction_type"`
	PredictionTypes []string         `json:"prediction_types"`
	Options         services.Options `json:"options"`
}

func (r GenerateRequest) types() ([]prediction.Type, error) {
	tags := r.PredictionTypes
	if len(tags) == 0 && r.PredictionType != "" {
		tags = []string{r.PredictionType}
	}
	if len(tags) == 0 {
		return []prediction.Type{prediction.TypeWin}, nil
	}
	return prediction.ParseTypes(tags)
}

// Generate runs one or more prediction types for a race
// POST /api/v1/predictions/generate
func (h *PredictionHandler) Generate(c *fiber.Ctx) error {
	var req GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.RaceID == 0 {
		return badRequest(c, "race_id is required")
	}
	types, err := req.types()
	if err != nil {
		return badRequest(c, err.Error())
	}

	ctx := c.UserContext()
	validation, err := h.Service.Contexts.Validate(ctx, req.RaceID)
	if err != nil {
		return predictionError(c, err)
	}
	if !validation.Valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "Race is not ready for prediction",
			"errors":   validation.Errors,
			"warnings": validation.Warnings,
		})
	}

	if len(types) == 1 {
		res, err := h.Service.Generate(ctx, req.RaceID, types[0], req.Options)
		if err != nil {
			return predictionError(c, err)
		}
		return c.JSON(fiber.Map{
			"prediction": res,
			"warnings":   validation.Warnings,
		})
	}

	batch, err := h.Service.GenerateMultiple(ctx, req.RaceID, types, req.Options)
	if err != nil {
		return predictionError(c, err)
	}
	return c.JSON(fiber.Map{
		"total":     len(types),
		"generated": batch.SucceededCount,
		"failed":    batch.FailedCount,
		"results":   batch.Results,
		"failures":  batch.Failures,
		"warnings":  validation.Warnings,
	})
}

// List returns the latest prediction of a type, or all predictions for a race
// GET /api/v1/predictions?race_id=&type=
func (h *PredictionHandler) List(c *fiber.Ctx) error {
	raceID := c.QueryInt("race_id", 0)
	if raceID <= 0 {
		return badRequest(c, "race_id is required")
	}
	ctx := c.UserContext()

	if tag := strings.TrimSpace(c.Query("type")); tag != "" {
		t, err := prediction.ParseType(tag)
		if err != nil {
			return badRequest(c, err.Error())
		}
		res, err := h.Service.Get(ctx, uint(raceID), t)
		if err != nil {
			return predictionError(c, err)
		}
		return c.JSON(res)
	}

	all, err := h.Service.GetAll(ctx, uint(raceID))
	if err != nil {
		return predictionError(c, err)
	}
	return c.JSON(all)
}

// Validate re-checks a stored prediction
// GET /api/v1/predictions/:id/validate
func (h *PredictionHandler) Validate(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid prediction id")
	}
	check, err := h.Service.ValidatePrediction(c.UserContext(), id)
	if err != nil {
		return predictionError(c, err)
	}
	return c.JSON(check)
}

// Stream pushes newly stored predictions over SSE
// GET /api/v1/predictions/stream
func (h *PredictionHandler) Stream(c *fiber.Ctx) error {
	if h.Hub == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Live updates are unavailable"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()
	ch, unsubscribe := h.Hub.Subscribe()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		// Flush headers so clients see the stream open immediately
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		requestDone := requestCtx.Done()
		for {
			select {
			case <-requestDone:
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: prediction\ndata: %s\n\n", msg)
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
