// Package telemetry configures OpenTelemetry tracing for the broker and
// agent processes. Grounded on the teacher's internal/telemetry package
// (same OTLP gRPC exporter setup and no-op-when-unconfigured shape);
// the span helpers below are Brokkr's own (HTTP request handling, the
// work-order lifecycle, deployment-object apply, webhook delivery)
// rather than the teacher's LLM-call/tool-call spans, which have no
// counterpart in a control-plane-for-Kubernetes-manifests domain.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "brokkr.io/broker"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a no-op shutdown is
// returned and the global tracer provider is left untouched). The caller
// must invoke the returned shutdown function on process exit.
func InitTraceProvider(ctx context.Context, endpoint, serviceName, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartRequestSpan creates the parent span for one inbound HTTP request,
// per spec.md §6's route table.
func StartRequestSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "http.request",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndRequestSpan enriches the request span with its response status.
func EndRequestSpan(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	span.End()
}

// StartWorkOrderSpan creates a span covering one work-order lifecycle
// transition (create, claim, complete), per spec.md §4.4.
func StartWorkOrderSpan(ctx context.Context, workOrderID, transition string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "work_order."+transition,
		trace.WithAttributes(
			attribute.String("brokkr.work_order_id", workOrderID),
		),
	)
}

// EndWorkOrderSpan enriches a work-order span with its resulting status.
func EndWorkOrderSpan(span trace.Span, status string, attempt int) {
	span.SetAttributes(
		attribute.String("brokkr.work_order_status", status),
		attribute.Int("brokkr.attempt", attempt),
	)
	span.End()
}

// StartApplySpan creates a span for one agent applying a deployment object
// to its cluster, per spec.md §4.6's two-pass dry-run/apply sequence.
func StartApplySpan(ctx context.Context, agentID, deploymentObjectID string, dryRun bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "deployment_object.apply",
		trace.WithAttributes(
			attribute.String("brokkr.agent_id", agentID),
			attribute.String("brokkr.deployment_object_id", deploymentObjectID),
			attribute.Bool("brokkr.dry_run", dryRun),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndApplySpan enriches an apply span with its outcome.
func EndApplySpan(span trace.Span, succeeded bool, errMessage string) {
	span.SetAttributes(attribute.Bool("brokkr.succeeded", succeeded))
	if !succeeded && errMessage != "" {
		span.SetAttributes(attribute.String("brokkr.error", errMessage))
	}
	span.End()
}

// StartWebhookDeliverySpan creates a span for one webhook delivery attempt,
// per spec.md §4.5.
func StartWebhookDeliverySpan(ctx context.Context, subscriptionID, eventType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "webhook.deliver",
		trace.WithAttributes(
			attribute.String("brokkr.subscription_id", subscriptionID),
			attribute.String("brokkr.event_type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndWebhookDeliverySpan enriches a webhook delivery span with its outcome.
func EndWebhookDeliverySpan(span trace.Span, statusCode int, outcome string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.String("brokkr.outcome", outcome),
	)
	span.End()
}
