package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/automation/pkg/dispatcher"
	"github.com/clinicore/automation/pkg/eventbus"
	"github.com/clinicore/automation/pkg/events"
	"github.com/clinicore/automation/pkg/persistence"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/workflow"
)

type Worker struct {
	id              string
	eventBus        eventbus.EventBus
	dispatcher      *dispatcher.Dispatcher
	dispatchTimeout time.Duration
	logger          *slog.Logger
}

func NewWorker(
	id string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	notifier eventbus.EventPublisher,
	reg *registry.Registry,
	dispatchTimeout time.Duration,
	logger *slog.Logger,
) *Worker {
	executor := workflow.NewExecutor(p, reg, logger)

	return &Worker{
		id:              id,
		eventBus:        eventBus,
		dispatcher:      dispatcher.NewDispatcher(p, executor, notifier, logger),
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// Start subscribes to incoming domain events and blocks until a signal or
// context cancellation.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.eventBus.Handle(events.DomainEventReceivedType, w.handleDomainEvent); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	w.logger.Info("Worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.Info("Shutting down worker")
	case <-ctx.Done():
	}

	return nil
}

func (w *Worker) handleDomainEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.DomainEventReceived)
	if !ok || received.Event == nil {
		w.logger.Error("Discarding malformed domain event message")

		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.dispatchTimeout)
	defer cancel()

	result, err := w.dispatcher.Dispatch(ctx, received.Event)
	if err != nil && result == nil {
		w.logger.Error("Dispatch failed",
			"event_id", received.Event.ID,
			"error", err,
		)

		return err
	}

	w.logger.Info("Dispatched event",
		"event_id", result.EventID,
		"triggers_matched", result.TriggersMatched,
		"workflows_executed", result.WorkflowsExecuted,
		"partial", result.Partial,
		"already_processed", result.AlreadyProcessed,
	)

	return nil
}
