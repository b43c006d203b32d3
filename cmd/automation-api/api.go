package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/clinicore/automation/pkg/cmd"
	"github.com/clinicore/automation/pkg/dispatcher"
	"github.com/clinicore/automation/pkg/eventbus"
	"github.com/clinicore/automation/pkg/events"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/runner"
	"github.com/clinicore/automation/pkg/web"
	"github.com/clinicore/automation/pkg/webhook"
	"github.com/clinicore/automation/pkg/webhook/dedup"
	"github.com/clinicore/automation/pkg/webhook/gateways/asaas"
	"github.com/clinicore/automation/pkg/webhook/gateways/stripe"
	"github.com/clinicore/automation/pkg/workflow"
)

type API struct {
	logger *slog.Logger
	app    *fiber.App
}

// NewAPI wires the full request path: persistence, step registry, executor,
// dispatcher, webhook ingestion and the fiber app. The returned cleanup
// closes what was opened, in reverse order.
func NewAPI(ctx context.Context, logger *slog.Logger, command *cli.Command) (*API, func(context.Context), error) {
	var closers []func(context.Context)

	cleanup := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, cleanup, err
	}

	closers = append(closers, func(ctx context.Context) {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	})

	var publisher eventbus.EventPublisher

	if provider := command.String("event-bus"); provider != "" {
		bus, err := cmd.NewEventBus(provider, "automation-api", events.AutomationTopic, logger)
		if err != nil {
			return nil, cleanup, err
		}

		closers = append(closers, func(ctx context.Context) {
			if err := bus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		})

		publisher = bus
	}

	stepRunner := runner.NewHTTPRunner(command.String("runner-url"), command.String("runner-token"), logger)
	registry := cmd.NewRegistry(logger, stepRunner)
	executor := workflow.NewExecutor(persistence, registry, logger)
	dispatch := dispatcher.NewDispatcher(persistence, executor, publisher, logger)

	gatewayRegistry, err := buildGateways(command)
	if err != nil {
		return nil, cleanup, err
	}

	dedupStore, err := buildDedupStore(command, persistence)
	if err != nil {
		return nil, cleanup, err
	}

	ingest, err := webhook.NewService(gatewayRegistry, persistence, dedupStore, dispatch, logger)
	if err != nil {
		return nil, cleanup, err
	}

	handlers := web.NewAPIHandlers(
		persistence,
		dispatch,
		ingest,
		registry,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	return &API{logger: logger, app: web.NewApp(handlers)}, cleanup, nil
}

func buildGateways(command *cli.Command) (*webhook.Registry, error) {
	var gateways []webhook.Gateway

	if token := command.String("asaas-access-token"); token != "" {
		gateway, err := asaas.NewGateway(token)
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, gateway)
	}

	if secret := command.String("stripe-webhook-secret"); secret != "" {
		gateway, err := stripe.NewGateway(secret)
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, gateway)
	}

	return webhook.NewGatewayRegistry(gateways...)
}

func buildDedupStore(command *cli.Command, p persistence.Persistence) (dedup.Store, error) {
	redisURL := command.String("redis-url")
	if redisURL == "" {
		return dedup.NewLedgerStore(p.WebhookEvents()), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return dedup.NewRedisStore(redis.NewClient(opts), dedup.DefaultTTL), nil
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.app.Listen(":" + strconv.Itoa(port))
}
