package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	httpapi "github.com/mkhalitova/climate-covariates/internal/api/http"
	"github.com/mkhalitova/climate-covariates/internal/cache"
	"github.com/mkhalitova/climate-covariates/internal/checkpoint"
	"github.com/mkhalitova/climate-covariates/internal/config"
	"github.com/mkhalitova/climate-covariates/internal/covariate"
	"github.com/mkhalitova/climate-covariates/internal/covariate/providers"
	"github.com/mkhalitova/climate-covariates/internal/metrics"
	"github.com/mkhalitova/climate-covariates/internal/scheduler"
)

const (
	appName    = "climate-covariates"
	appVersion = "0.1.0"

	exitOK          = 0
	exitFatal       = 1
	exitRateLimited = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("ERROR: failed to load config: %v", err)
		return exitFatal
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		log.Printf("ERROR: failed to create base dir: %v", err)
		return exitFatal
	}
	cfg.LogSummary()

	runID := uuid.NewString()
	metrics.RunInfo.WithLabelValues(runID, appVersion).Set(1)
	progress := covariate.NewProgress(runID)
	log.Printf("INFO: run %s starting", runID)

	// Status API alongside the pipeline, for watching long runs.
	var app *fiber.App
	if cfg.Port != "" {
		app = fiber.New(fiber.Config{
			AppName:               appName,
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				code := fiber.StatusInternalServerError
				if e, ok := err.(*fiber.Error); ok {
					code = e.Code
				}
				return c.Status(code).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
				})
			},
		})
		app.Use(logger.New())
		app.Use(recover.New())
		httpapi.RegisterRoutes(app, progress)

		go func() {
			if err := app.Listen(":" + cfg.Port); err != nil {
				log.Printf("WARN: status server stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitOK
	if cfg.RunInterval > 0 {
		// Repeat mode: re-run ingestion on the interval until a
		// signal or a rate-limit abort.
		errCh := make(chan error, 1)
		sched := scheduler.New(cfg.RunInterval, func() {
			if err := ingest(ctx, cfg, progress); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- err:
				default:
				}
			}
		})
		if err := sched.Start(); err != nil {
			log.Printf("ERROR: failed to start scheduler: %v", err)
			return exitFatal
		}
		select {
		case <-ctx.Done():
			log.Printf("INFO: interrupt received, progress is saved")
		case err := <-errCh:
			code = exitCode(err)
		}
		sched.Stop()
	} else {
		code = exitCode(ingest(ctx, cfg, progress))
	}

	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("WARN: error during shutdown: %v", err)
		}
	}
	return code
}

// ingest performs one full pipeline pass: vegetation index first, then
// climate, each resumable from checkpoint and cache.
func ingest(ctx context.Context, cfg *config.AppConfig, progress *covariate.Progress) error {
	table, err := checkpoint.LoadOrInit(cfg.CheckpointCSV, cfg.SourceCSV, cfg.ResultColumns())
	if err != nil {
		return err
	}
	ndviCache, err := cache.Load(cfg.NDVICache)
	if err != nil {
		return err
	}
	climateCache, err := cache.Load(cfg.ClimateCache)
	if err != nil {
		return err
	}
	log.Printf("INFO: %d records, ndvi cache %d entries, climate cache %d entries",
		table.Len(), ndviCache.Len(), climateCache.Len())

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	backoff := providers.BackoffConfig{
		MaxAttempts:   cfg.MaxAttempts,
		RateLimitBase: cfg.RateLimitBase,
		RetryDelay:    cfg.RetryDelay,
	}

	modis := providers.NewModisProvider(client, providers.ModisConfig{
		BaseURL:      cfg.NDVIBaseURL,
		APIKey:       cfg.NDVIAPIKey,
		Column:       cfg.NDVIColumn(),
		BufferMeters: cfg.NDVIBufferMeters(),
		Backoff:      backoff,
	})
	openMeteo := providers.NewOpenMeteoProvider(client, providers.OpenMeteoConfig{
		BaseURL:   cfg.ClimateBaseURL,
		TempCol:   cfg.TempColumn(),
		PrecipCol: cfg.PrecipColumn(),
		Backoff:   backoff,
	})

	plans := []*covariate.BackendPlan{
		{
			Provider:      modis,
			Cache:         ndviCache,
			ResolutionDeg: cfg.NDVIResolutionDeg(),
			LatColumn:     "ndvi_qlat",
			LonColumn:     "ndvi_qlon",
			BatchSize:     cfg.NDVIBatchSize,
			Workers:       cfg.NDVIWorkers,
			BatchDelay:    cfg.NDVIBatchDelay,
		},
		{
			Provider:      openMeteo,
			Cache:         climateCache,
			ResolutionDeg: cfg.ClimateResolutionDeg(),
			LatColumn:     "climate_qlat",
			LonColumn:     "climate_qlon",
			BatchSize:     cfg.ClimateBatchSize,
			Workers:       cfg.ClimateWorkers,
			BatchDelay:    cfg.ClimateBatchDelay,
		},
	}

	return covariate.NewPipeline(table, progress).Run(ctx, plans)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		log.Printf("INFO: all covariates fetched")
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Printf("INFO: interrupted, progress is saved")
		return exitOK
	case errors.Is(err, covariate.ErrRateLimited):
		log.Printf("ERROR: aborting after rate-limit exhaustion: %v", err)
		return exitRateLimited
	default:
		log.Printf("ERROR: pipeline failed: %v", err)
		return exitFatal
	}
}
