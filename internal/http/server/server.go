package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"dynshot/internal/browser"
	"dynshot/internal/config"
	"dynshot/internal/http/handlers"
	"dynshot/internal/http/middleware"
	"dynshot/internal/infra/logging"
	"dynshot/internal/infra/metrics"
)

// Deps bundles what the HTTP surface serves.
type Deps struct {
	Config  config.Config
	Queue   handlers.Queue
	Manager handlers.SessionStats
	Backend browser.Reporter
	// Store backs the rate limiter; unused when rate limiting is disabled.
	Store fiber.Storage
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	middleware.Register(app, d.Config, d.Store)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, d Deps) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	v1 := app.Group("/v1")
	svc := handlers.NewScreenshotService(d.Queue, d.Manager, d.Backend)
	v1.Get("/dynamic/:id/screenshot", svc.HandleScreenshot)
	v1.Get("/queue/stats", svc.HandleQueueStats)
	v1.Get("/browser/stats", svc.HandleBrowserStats)
	v1.Get("/monitor", monitor.New())
}
