package handler

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/trendsync/internal/middleware"
	"github.com/mathieu-neron/trendsync/internal/model"
)

// CycleTrigger runs cycles on demand and remembers the last one.
type CycleTrigger interface {
	RunOnce(ctx context.Context) *model.CycleOutcome
	Last() *model.CycleOutcome
}

type SyncHandler struct {
	worker CycleTrigger
}

func NewSyncHandler(worker CycleTrigger) *SyncHandler {
	return &SyncHandler{worker: worker}
}

// Run handles POST /api/sync/run: fetches a batch and runs one cycle.
func (h *SyncHandler) Run(c fiber.Ctx) error {
	out := h.worker.RunOnce(c.Context())
	return c.Status(outcomeStatus(out)).JSON(out)
}

// Last handles GET /api/sync/last
func (h *SyncHandler) Last(c fiber.Ctx) error {
	out := h.worker.Last()
	if out == nil {
		return middleware.ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "No cycle has run yet")
	}
	return c.JSON(out)
}

func outcomeStatus(out *model.CycleOutcome) int {
	switch out.Status {
	case model.CycleSuccess:
		return fiber.StatusOK
	case model.CycleLocked:
		return fiber.StatusConflict
	default:
		if out.Stage == model.StageFetch {
			return fiber.StatusBadGateway
		}
		return fiber.StatusInternalServerError
	}
}
