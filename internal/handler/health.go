package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// Version is reported by the readiness probe. Overridden at build time.
var Version = "dev"

type HealthHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	lastCycle func() *model.CycleOutcome
	startAt   time.Time
}

// NewHealthHandler creates the probe handler. rdb may be nil when the cache
// is disabled; lastCycle may be nil.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, lastCycle func() *model.CycleOutcome) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		rdb:       rdb,
		lastCycle: lastCycle,
		startAt:   time.Now(),
	}
}

// Live handles GET /health/live: liveness probe.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready: readiness probe with dependency checks.
// Postgres is required. Redis is not: without it cycles deduplicate against
// the mirror, so a Redis outage only degrades the service.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map)
	overallStatus := "healthy"

	dbCheck := checkDB(ctx, h.pool)
	checks["database"] = dbCheck
	if dbCheck["status"] != "up" {
		overallStatus = "unhealthy"
	}

	redisCheck := checkRedis(ctx, h.rdb)
	checks["redis"] = redisCheck
	if redisCheck["status"] != "up" && overallStatus == "healthy" {
		overallStatus = "degraded"
	}

	if h.lastCycle != nil {
		if out := h.lastCycle(); out != nil {
			checks["last_cycle"] = fiber.Map{
				"status":     out.Status,
				"strategy":   out.Strategy,
				"started_at": out.StartedAt,
			}
		}
	}

	resp := fiber.Map{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
		"version":        Version,
	}

	status := fiber.StatusOK
	if overallStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(resp)
}

func checkDB(ctx context.Context, pool *pgxpool.Pool) fiber.Map {
	if pool == nil {
		return fiber.Map{"status": "down", "error": "not configured"}
	}
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}

func checkRedis(ctx context.Context, rdb *redis.Client) fiber.Map {
	if rdb == nil {
		return fiber.Map{
			"status": "disabled",
		}
	}

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
