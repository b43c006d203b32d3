package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp builds the fiber application with all routes registered.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "clinicore-automation",
	})

	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Clinicore Automation API")
	})

	events := app.Group("/events")
	events.Post("/", handlers.DispatchEvent)
	events.Get("/", handlers.GetEvents)
	events.Get("/stats", handlers.GetEventStats)
	events.Get("/:id", handlers.GetEvent)

	triggers := app.Group("/triggers")
	triggers.Get("/", handlers.GetTriggers)
	triggers.Post("/", handlers.CreateTrigger)
	triggers.Get("/:id", handlers.GetTrigger)
	triggers.Patch("/:id", handlers.UpdateTrigger)
	triggers.Delete("/:id", handlers.DeleteTrigger)

	workflows := app.Group("/workflows")
	workflows.Get("/", handlers.GetWorkflows)
	workflows.Post("/", handlers.CreateWorkflow)
	workflows.Get("/:id", handlers.GetWorkflow)
	workflows.Patch("/:id", handlers.UpdateWorkflow)
	workflows.Delete("/:id", handlers.DeleteWorkflow)

	executions := app.Group("/executions")
	executions.Get("/", handlers.GetExecutions)
	executions.Get("/:id", handlers.GetExecution)

	app.Post("/webhooks/:gateway", handlers.IngestWebhook)

	app.Get("/health", handlers.HealthCheck)

	return app
}
