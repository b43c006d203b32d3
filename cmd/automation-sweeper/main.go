// Package main provides the overdue sweeper: a scheduled job that marks
// past-due pending charges OVERDUE and feeds the resulting events back into
// the automation core.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/clinicore/automation/pkg/cmd"
	"github.com/clinicore/automation/pkg/dispatcher"
	"github.com/clinicore/automation/pkg/log"
	"github.com/clinicore/automation/pkg/otelhelper"
	"github.com/clinicore/automation/pkg/runner"
	"github.com/clinicore/automation/pkg/sweeper"
	"github.com/clinicore/automation/pkg/workflow"
)

func main() {
	logger := log.WithModule("sweeper")

	command := &cli.Command{
		Name:                  "automation-sweeper",
		Usage:                 "Mark past-due pending charges overdue on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for sweep runs",
				Value:   sweeper.DefaultSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing sweeper")

			tracerProvider, err := otelhelper.InitTracer(ctx, "automation-sweeper")
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

			stepRunner := runner.NewHTTPRunner(command.String("runner-url"), command.String("runner-token"), logger)
			registry := cmd.NewRegistry(logger, stepRunner)
			executor := workflow.NewExecutor(persistence, registry, logger)
			dispatch := dispatcher.NewDispatcher(persistence, executor, nil, logger)

			sweep, err := sweeper.NewSweeper(persistence, dispatch, command.String("schedule"), logger)
			if err != nil {
				return err
			}

			if command.Bool("once") {
				return sweep.Sweep(ctx)
			}

			return sweep.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
