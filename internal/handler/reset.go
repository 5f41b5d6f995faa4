package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/trendsync/internal/middleware"
	"github.com/mathieu-neron/trendsync/internal/service"
)

// Resetter empties every store of the environment.
type Resetter interface {
	Reset(ctx context.Context) (*service.ResetResult, error)
}

type ResetHandler struct {
	svc Resetter
}

func NewResetHandler(svc Resetter) *ResetHandler {
	return &ResetHandler{svc: svc}
}

// Reset handles POST /api/admin/reset
func (h *ResetHandler) Reset(c fiber.Ctx) error {
	res, err := h.svc.Reset(c.Context())
	switch {
	case errors.Is(err, service.ErrResetForbidden):
		return middleware.ErrorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "Environment reset is disabled")
	case errors.Is(err, service.ErrCycleRunning):
		return middleware.ErrorResponse(c, fiber.StatusConflict, "CONFLICT", "A sync cycle is in progress")
	case err != nil:
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Environment reset failed")
	}
	return c.JSON(res)
}
