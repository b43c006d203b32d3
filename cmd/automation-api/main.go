// Package main provides the automation API server: event dispatch, trigger
// and workflow administration, and the payment webhook endpoint.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/clinicore/automation/pkg/log"
	"github.com/clinicore/automation/pkg/otelhelper"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "automation-api",
		Usage:                 "Serve the automation core HTTP API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel); empty disables lifecycle notifications",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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
				Name:    "asaas-access-token",
				Usage:   "Shared token expected on Asaas webhook deliveries",
				Sources: cli.EnvVars("ASAAS_ACCESS_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "stripe-webhook-secret",
				Usage:   "Signing secret for Stripe webhook deliveries",
				Sources: cli.EnvVars("STRIPE_WEBHOOK_SECRET"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for webhook deduplication; empty uses the database ledger",
				Sources: cli.EnvVars("REDIS_URL"),
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

			tracerProvider, err := otelhelper.InitTracer(ctx, "automation-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					logger.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Initializing automation API")

			api, cleanup, err := NewAPI(ctx, logger, command)
			if err != nil {
				return err
			}
			defer cleanup(ctx)

			return api.Start(command.Int("port"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
