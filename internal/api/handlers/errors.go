package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
)

// statusForKind maps a generation failure to the HTTP status returned to clients.
func statusForKind(k prediction.Kind) int {
	switch k {
	case prediction.KindValidation:
		return fiber.StatusBadRequest
	case prediction.KindNotFound:
		return fiber.StatusNotFound
	case prediction.KindQuotaExceeded:
		return fiber.StatusTooManyRequests
	case prediction.KindContentFiltered:
		return fiber.StatusUnprocessableEntity
	case prediction.KindPersistence:
		return fiber.StatusInternalServerError
	}
	// invalid credential, parse, transient and model failures are upstream faults
	return fiber.StatusBadGateway
}

// predictionError writes a generation error as JSON.
func predictionError(c *fiber.Ctx, err error) error {
	if errors.Is(err, prediction.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Prediction not found"})
	}
	if errors.Is(err, services.ErrRaceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Race not found"})
	}

	kind := prediction.KindOf(err)
	body := fiber.Map{"error": err.Error(), "kind": kind}

	var perr *prediction.Error
	if errors.As(err, &perr) {
		if len(perr.Details) > 0 {
			body["errors"] = perr.Details
		}
		if perr.Attempts > 0 {
			body["attempts"] = perr.Attempts
		}
		if perr.Result != nil {
			body["prediction"] = perr.Result
		}
	}

	status := statusForKind(kind)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Prediction request failed (%s): %v", kind, err)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func idParam(c *fiber.Ctx, name string) (uint, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}
