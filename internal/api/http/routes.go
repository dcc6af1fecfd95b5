package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkhalitova/climate-covariates/internal/covariate"
)

// RegisterRoutes wires the status handlers into the Fiber app. The API
// is observational only: it reports run progress while a long
// ingestion is in flight and exposes the Prometheus registry.
func RegisterRoutes(app *fiber.App, progress *covariate.Progress) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "climate-covariates",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")
	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(progress.Snapshot())
	})
}
