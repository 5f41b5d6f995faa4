package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mathieu-neron/trendsync/internal/handler"
	"github.com/mathieu-neron/trendsync/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Health *handler.HealthHandler
	Video  *handler.VideoHandler
	Stats  *handler.StatsHandler
	Sync   *handler.SyncHandler
	Reset  *handler.ResetHandler
}

// Setup configures the middleware stack and all routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, corsOrigins string, gatherer prometheus.Gatherer) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(handler.MetricsMiddleware())
	app.Use(middleware.NewCORS(corsOrigins))

	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	app.Get("/metrics", handler.MetricsHandler(gatherer))

	api := app.Group("/api")

	api.Get("/videos/:videoId", middleware.NewVideoRateLimiter().Handler(), h.Video.GetByVideoID)
	api.Get("/stats", middleware.NewStatsRateLimiter().Handler(), h.Stats.GetStats)

	api.Post("/sync/run", middleware.NewSyncRateLimiter().Handler(), h.Sync.Run)
	api.Get("/sync/last", h.Sync.Last)

	if h.Reset != nil {
		api.Post("/admin/reset", middleware.NewSyncRateLimiter().Handler(), h.Reset.Reset)
	}
}
