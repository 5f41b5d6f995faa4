package handler

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/trendsync/internal/middleware"
	"github.com/mathieu-neron/trendsync/internal/repository"
	"github.com/mathieu-neron/trendsync/internal/service"
)

type StatsHandler struct {
	svc *service.VideoService
}

func NewStatsHandler(svc *service.VideoService) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// GetStats handles GET /api/stats?since=RFC3339&minVideos=N
// since defaults to the start of the current week (Monday, UTC).
func (h *StatsHandler) GetStats(c fiber.Ctx) error {
	since, errMsg := middleware.ValidateSince(fiber.Query[string](c, "since"), repository.WeekStart(time.Now()))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}
	minVideos, errMsg := middleware.ValidateMinVideos(fiber.Query[string](c, "minVideos"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}

	stats, err := h.svc.GetStats(c.Context(), since, minVideos)
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch statistics")
	}

	return c.JSON(stats)
}
