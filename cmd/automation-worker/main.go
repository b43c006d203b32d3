// Package main provides the automation worker: it consumes domain events
// from the bus and dispatches them through the automation core.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/clinicore/automation/pkg/cmd"
	"github.com/clinicore/automation/pkg/events"
	"github.com/clinicore/automation/pkg/log"
	"github.com/clinicore/automation/pkg/otelhelper"
	"github.com/clinicore/automation/pkg/runner"
)

func main() {
	command := &cli.Command{
		Name:                  "automation-worker",
		Usage:                 "Consume domain events and run matching workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "runner-url",
				Usage:   "Base URL of the external workflow runner",
				Sources: cli.EnvVars("RUNNER_URL"),
			},
			&cli.StringFlag{
				Name:    "runner-token",
				Usage:   "Bearer token for the external workflow runner",
				Sources: cli.EnvVars("RUNNER_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "dispatch-timeout",
				Usage:   "Deadline for one event dispatch",
				Value:   2 * time.Minute,
				Sources: cli.EnvVars("DISPATCH_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing automation worker")

			tracerProvider, err := otelhelper.InitTracer(ctx, "automation-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), workerID, events.DomainTopic, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			notifyBus, err := cmd.NewEventBus(command.String("event-bus"), workerID+"-notify", events.AutomationTopic, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := notifyBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close notification bus", "error", err)
				}
			}()

			stepRunner := runner.NewHTTPRunner(command.String("runner-url"), command.String("runner-token"), logger)
			registry := cmd.NewRegistry(logger, stepRunner)

			worker := NewWorker(
				workerID,
				persistence,
				eventBus,
				notifyBus,
				registry,
				command.Duration("dispatch-timeout"),
				logger,
			)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
