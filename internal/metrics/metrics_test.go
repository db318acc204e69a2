package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/store"
)

func TestMetricsHandlerReflectsRecordedValues(t *testing.T) {
	c := NewCollector()
	c.SetAgentStatusCounts(map[string]int{store.AgentActive: 3, store.AgentInactive: 1})
	c.SetWorkOrderStatusCounts(map[string]int{store.WorkOrderPending: 2, store.WorkOrderFailed: 1})
	c.SetLiveDeploymentObjectCount(5)
	c.RecordWebhookDelivery("work_order.created", "success", 120*time.Millisecond)
	c.RecordEventEmitted("work_order.created")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	checks := []string{
		`brokkr_agents_total{status="ACTIVE"} 3`,
		`brokkr_agents_total{status="INACTIVE"} 1`,
		`brokkr_work_orders_total{status="PENDING"} 2`,
		`brokkr_work_orders_total{status="FAILED"} 1`,
		`brokkr_deployment_objects_live 5`,
		`brokkr_webhook_deliveries_total{event_type="work_order.created",outcome="success"} 1`,
		`brokkr_events_emitted_total{event_type="work_order.created"} 1`,
	}
	for _, check := range checks {
		if !strings.Contains(body, check) {
			t.Errorf("missing metric line: %s\nbody:\n%s", check, body)
		}
	}

	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Errorf("expected text/plain content-type, got %s", ct)
	}
}

func TestMetricsZeroStateOmitsUnsetSeries(t *testing.T) {
	c := NewCollector()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "brokkr_agents_total") {
		t.Error("expected no agent status series before SetAgentStatusCounts is called")
	}
	if !strings.Contains(body, "brokkr_deployment_objects_live 0") {
		t.Error("expected the scalar deployment objects gauge to default to zero")
	}
}

func TestWebhookDurationHistogramBuckets(t *testing.T) {
	c := NewCollector()
	c.RecordWebhookDelivery("diagnostic.completed", "retryable", 2*time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `brokkr_webhook_delivery_duration_seconds_count{event_type="diagnostic.completed"} 1`) {
		t.Errorf("expected histogram count for diagnostic.completed\nbody:\n%s", body)
	}
}
