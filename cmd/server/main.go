package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mathieu-neron/trendsync/internal/config"
	"github.com/mathieu-neron/trendsync/internal/db"
	"github.com/mathieu-neron/trendsync/internal/handler"
	"github.com/mathieu-neron/trendsync/internal/metrics"
	"github.com/mathieu-neron/trendsync/internal/middleware"
	"github.com/mathieu-neron/trendsync/internal/repository"
	"github.com/mathieu-neron/trendsync/internal/router"
	"github.com/mathieu-neron/trendsync/internal/service"
	"github.com/mathieu-neron/trendsync/internal/sheets"
	"github.com/mathieu-neron/trendsync/internal/youtube"
)

func main() {
	cfg, err := loadConfig()
	middleware.InitLogger(cfg.LogLevel, "trendsync")
	logger := middleware.Logger
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, logger.With().Str("component", "db").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	schema := cfg.Schema()
	if err := db.EnsureSchema(ctx, pool, schema); err != nil {
		logger.Fatal().Err(err).Str("schema", schema).Msg("failed to apply schema")
	}

	metrics.Register(prometheus.DefaultRegisterer, pool)

	cache := service.NewCacheService(cfg.RedisURL, cfg.Namespace(), cfg.CacheTimeout,
		logger.With().Str("component", "cache").Logger())
	defer cache.Close()

	values, err := newMirrorBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.MirrorBackend).Msg("failed to open mirror")
	}
	mirror := service.NewMirrorService(values, cfg.VideosSheet, cfg.SnapshotsSheet,
		logger.With().Str("component", "mirror").Logger())

	fetcher, err := youtube.NewTrendingFetcher(ctx, cfg.YouTubeAPIKey, cfg.RegionCode, cfg.FetchSize,
		logger.With().Str("component", "youtube").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create trending fetcher")
	}

	repo := repository.NewVideoRepo(pool, schema)
	syncSvc := service.NewSyncService(repo, cache, mirror, service.SyncOptions{
		TTL:         cfg.TTL(),
		DBTimeout:   cfg.DBTimeout,
		LockEnabled: cfg.LockEnabled,
		LockTTL:     cfg.SyncInterval,
	}, logger.With().Str("component", "sync").Logger())

	worker := service.NewSyncWorker(fetcher, syncSvc, cfg.SyncInterval,
		logger.With().Str("component", "sync-worker").Logger())
	go worker.Start(ctx)
	defer worker.Stop()

	// A nil purger means Redis is not configured and holds no fingerprints.
	var purger service.FingerprintPurger
	if cfg.RedisURL != "" {
		purger = cache
	}
	resetSvc := service.NewResetService(repo, mirror, purger, worker, cfg.ResetAllowed(),
		logger.With().Str("component", "reset").Logger())
	if cfg.AllowReset && cfg.IsProduction() {
		logger.Warn().Str("env", cfg.Environment).Msg("allow_reset ignored in production")
	}

	videoSvc := service.NewVideoService(repo, cache, logger.With().Str("component", "video").Logger())

	app := fiber.New(fiber.Config{
		AppName:      "trendsync",
		ServerHeader: "trendsync",
	})
	router.Setup(app, &router.Handlers{
		Health: handler.NewHealthHandler(pool, cache.Client(), worker.Last),
		Video:  handler.NewVideoHandler(videoSvc),
		Stats:  handler.NewStatsHandler(videoSvc),
		Sync:   handler.NewSyncHandler(worker),
		Reset:  handler.NewResetHandler(resetSvc),
	}, cfg.CORSOrigins, prometheus.DefaultGatherer)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Environment).
		Str("namespace", cfg.Namespace()).
		Str("schema", schema).
		Str("mirror", cfg.MirrorBackend).
		Bool("reset_enabled", resetSvc.Enabled()).
		Msg("trendsync starting")

	if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		logger.Error().Err(err).Msg("server stopped")
	}
}

// loadConfig reads the environment, overlaid by CONFIG_FILE when set.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return config.Load(), err
		}
		return cfg, nil
	}
	cfg := config.Load()
	return cfg, cfg.Validate()
}

func newMirrorBackend(ctx context.Context, cfg *config.Config) (sheets.Values, error) {
	switch cfg.MirrorBackend {
	case "sheets":
		return sheets.New(ctx, cfg.SheetID, cfg.SheetsCredentials, cfg.SheetsRPS)
	case "csv":
		return sheets.NewCSVStore(cfg.CSVDir)
	default:
		return nil, errors.New("unknown mirror backend " + cfg.MirrorBackend)
	}
}
