package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mkhalitova/climate-covariates/internal/grid"
)

var validate = validator.New()

// AppConfig carries every tunable of the pipeline, loaded once at
// startup and passed by value thereafter. No component reads the
// environment after Load returns.
type AppConfig struct {
	BaseDir       string `validate:"required"`
	SourceCSV     string `validate:"required"`
	CheckpointCSV string `validate:"required"`
	NDVICache     string `validate:"required"`
	ClimateCache  string `validate:"required"`

	// Grid configuration. The requested size is clamped per backend
	// to its minimum supported resolution.
	GridSizeKM      float64 `validate:"gt=0"`
	MinNDVIResKM    float64 `validate:"gt=0"`
	MinClimateResKM float64 `validate:"gt=0"`

	// Backend endpoints. The vegetation backend has no public
	// default, so its URL must be configured.
	NDVIBaseURL    string `validate:"required,url"`
	NDVIAPIKey     string
	ClimateBaseURL string `validate:"required,url"`

	// Scheduling. Workers=1 means fully sequential dispatch.
	NDVIBatchSize     int `validate:"gte=1"`
	ClimateBatchSize  int `validate:"gte=1"`
	NDVIWorkers       int `validate:"gte=1"`
	ClimateWorkers    int `validate:"gte=1"`
	NDVIBatchDelay    time.Duration
	ClimateBatchDelay time.Duration

	// Retry policy shared by both fetchers.
	MaxAttempts   int           `validate:"gte=1"`
	RateLimitBase time.Duration `validate:"gt=0"`
	RetryDelay    time.Duration `validate:"gt=0"`

	HTTPTimeout time.Duration `validate:"gt=0"`

	// Status API port; empty disables the listener.
	Port string

	// RunInterval > 0 re-runs the ingestion on a schedule instead of
	// exiting after one pass.
	RunInterval time.Duration
}

// Load reads configuration from environment with defaults mirroring the
// reference deployment, then validates it once.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.BaseDir = getenvDefault("BASE_DIR", "./data")
	cfg.SourceCSV = getenvDefault("SRC_CSV", filepath.Join(cfg.BaseDir, "analysis_panel.csv"))
	cfg.CheckpointCSV = getenvDefault("CHECKPOINT_CSV", filepath.Join(cfg.BaseDir, "climate_checkpoint.csv"))
	cfg.NDVICache = getenvDefault("NDVI_CACHE", filepath.Join(cfg.BaseDir, "ndvi_cache.json"))
	cfg.ClimateCache = getenvDefault("CLIMATE_CACHE", filepath.Join(cfg.BaseDir, "climate_cache.json"))

	var err error
	if cfg.GridSizeKM, err = getenvFloat("GRID_SIZE_KM", 25); err != nil {
		return nil, err
	}
	if cfg.MinNDVIResKM, err = getenvFloat("MIN_NDVI_RES_KM", 0.25); err != nil {
		return nil, err
	}
	if cfg.MinClimateResKM, err = getenvFloat("MIN_CLIMATE_RES_KM", 25); err != nil {
		return nil, err
	}

	cfg.NDVIBaseURL = os.Getenv("NDVI_BASE_URL")
	cfg.NDVIAPIKey = os.Getenv("NDVI_API_KEY")
	cfg.ClimateBaseURL = getenvDefault("CLIMATE_BASE_URL", "https://archive-api.open-meteo.com/v1/archive")

	if cfg.NDVIBatchSize, err = getenvInt("NDVI_BATCH_SIZE", 200); err != nil {
		return nil, err
	}
	if cfg.ClimateBatchSize, err = getenvInt("CLIMATE_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.NDVIWorkers, err = getenvInt("NDVI_WORKERS", 10); err != nil {
		return nil, err
	}
	if cfg.ClimateWorkers, err = getenvInt("CLIMATE_WORKERS", 3); err != nil {
		return nil, err
	}

	if cfg.NDVIBatchDelay, err = getenvDuration("NDVI_BATCH_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ClimateBatchDelay, err = getenvDuration("CLIMATE_BATCH_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getenvInt("MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitBase, err = getenvDuration("RATE_LIMIT_BASE", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getenvDuration("RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")
	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", 0); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NDVIResKM is the effective vegetation grid size after clamping.
func (c *AppConfig) NDVIResKM() float64 {
	return grid.EffectiveKM(c.GridSizeKM, c.MinNDVIResKM)
}

// ClimateResKM is the effective climate grid size after clamping.
func (c *AppConfig) ClimateResKM() float64 {
	return grid.EffectiveKM(c.GridSizeKM, c.MinClimateResKM)
}

// NDVIResolutionDeg is the vegetation quantization step in degrees.
func (c *AppConfig) NDVIResolutionDeg() float64 {
	return grid.Resolution(c.GridSizeKM, c.MinNDVIResKM)
}

// ClimateResolutionDeg is the climate quantization step in degrees.
func (c *AppConfig) ClimateResolutionDeg() float64 {
	return grid.Resolution(c.GridSizeKM, c.MinClimateResKM)
}

// NDVIBufferMeters is the spatial aggregation radius: half the
// effective grid cell, in meters.
func (c *AppConfig) NDVIBufferMeters() float64 {
	return c.NDVIResKM() * 1000 / 2
}

// Result column names encode the effective resolution so checkpoints
// produced at different grid sizes never collide.

func (c *AppConfig) NDVIColumn() string {
	return fmt.Sprintf("ndvi_mean_%gx%gkm", c.NDVIResKM(), c.NDVIResKM())
}

func (c *AppConfig) TempColumn() string {
	return fmt.Sprintf("temp_mean_c_%gx%gkm", c.ClimateResKM(), c.ClimateResKM())
}

func (c *AppConfig) PrecipColumn() string {
	return fmt.Sprintf("precip_sum_mm_%gx%gkm", c.ClimateResKM(), c.ClimateResKM())
}

// ResultColumns lists every result column in checkpoint order.
func (c *AppConfig) ResultColumns() []string {
	return []string{c.NDVIColumn(), c.TempColumn(), c.PrecipColumn()}
}

// LogSummary prints the effective configuration, including clamp
// warnings when the requested grid is below a backend minimum.
func (c *AppConfig) LogSummary() {
	log.Printf("INFO: grid size %g km", c.GridSizeKM)
	log.Printf("INFO: effective resolutions: ndvi %g km (%.4f deg), climate %g km (%.4f deg)",
		c.NDVIResKM(), c.NDVIResolutionDeg(), c.ClimateResKM(), c.ClimateResolutionDeg())
	log.Printf("INFO: workers: ndvi %d, climate %d; batch sizes: ndvi %d, climate %d",
		c.NDVIWorkers, c.ClimateWorkers, c.NDVIBatchSize, c.ClimateBatchSize)
	if c.GridSizeKM < c.MinNDVIResKM {
		log.Printf("WARN: grid size %g km below ndvi minimum, using %g km", c.GridSizeKM, c.MinNDVIResKM)
	}
	if c.GridSizeKM < c.MinClimateResKM {
		log.Printf("WARN: grid size %g km below climate minimum, using %g km", c.GridSizeKM, c.MinClimateResKM)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
