package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "broker", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartRequestSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartRequestSpan(ctx, "POST", "/work-orders")
	EndRequestSpan(span, 201)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "http.request" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "http.request")
	}

	var foundMethod, foundRoute, foundStatus bool
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "http.method":
			foundMethod = a.Value.AsString() == "POST"
		case "http.route":
			foundRoute = a.Value.AsString() == "/work-orders"
		case "http.status_code":
			foundStatus = a.Value.AsInt64() == 201
		}
	}
	if !foundMethod || !foundRoute || !foundStatus {
		t.Errorf("missing expected attributes: method=%v route=%v status=%v", foundMethod, foundRoute, foundStatus)
	}
}

func TestWorkOrderSpanLifecycle(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartWorkOrderSpan(ctx, "wo-1", "complete")
	EndWorkOrderSpan(span, "SUCCEEDED", 1)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "work_order.complete" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "work_order.complete")
	}

	var foundID, foundStatus bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "brokkr.work_order_id" && a.Value.AsString() == "wo-1" {
			foundID = true
		}
		if string(a.Key) == "brokkr.work_order_status" && a.Value.AsString() == "SUCCEEDED" {
			foundStatus = true
		}
	}
	if !foundID || !foundStatus {
		t.Error("missing expected work order attributes")
	}
}

func TestApplySpanFailure(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartApplySpan(ctx, "agent-1", "do-1", false)
	EndApplySpan(span, false, "admission webhook denied")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	var foundSucceeded, foundError bool
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "brokkr.succeeded" && !a.Value.AsBool() {
			foundSucceeded = true
		}
		if string(a.Key) == "brokkr.error" && a.Value.AsString() == "admission webhook denied" {
			foundError = true
		}
	}
	if !foundSucceeded || !foundError {
		t.Error("missing expected apply failure attributes")
	}
}

func TestWebhookDeliverySpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartWebhookDeliverySpan(ctx, "sub-1", "work_order.created")
	EndWebhookDeliverySpan(span, 200, "success")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "webhook.deliver" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "webhook.deliver")
	}
}

func TestNestedSpansShareTraceID(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, reqSpan := StartRequestSpan(ctx, "POST", "/deployment-objects")
	_, woSpan := StartWorkOrderSpan(ctx, "wo-2", "create")
	woSpan.End()
	EndRequestSpan(reqSpan, 201)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	child := spans[0]
	parent := spans[1]
	if child.Parent.TraceID() != parent.SpanContext.TraceID() {
		t.Error("child span should share trace ID with parent span")
	}
	if !child.Parent.SpanID().IsValid() {
		t.Error("child span should have a valid parent span ID")
	}
}
