// Package otelhelper provides distributed tracing for event dispatch and
// workflow execution.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	TenantIDKey    = attribute.Key("clinicore.tenant.id")
	EventIDKey     = attribute.Key("clinicore.event.id")
	EventTypeKey   = attribute.Key("clinicore.event.type")
	TriggerIDKey   = attribute.Key("clinicore.trigger.id")
	WorkflowIDKey  = attribute.Key("clinicore.workflow.id")
	ExecutionIDKey = attribute.Key("clinicore.execution.id")
	StepNameKey    = attribute.Key("clinicore.step.name")
	StepTypeKey    = attribute.Key("clinicore.step.type")
	GatewayKey     = attribute.Key("clinicore.gateway.name")
	ChargeIDKey    = attribute.Key("clinicore.charge.id")
)

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// InitTracer installs the global OTLP tracer provider for a service. Callers
// own the returned provider and must shut it down on exit.
func InitTracer(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
