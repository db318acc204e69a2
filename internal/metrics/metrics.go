// Package metrics exposes the broker's Prometheus metrics (spec.md §6's
// GET /metrics). Grounded on the teacher's github.com/prometheus/
// client_golang dependency, which the teacher's own metrics.go oddly never
// imported (it hand-rolled the Prometheus text format over its own
// fleet/hub/approval/audit counters); this rewrite actually wires the
// client_golang registry/collector machinery the dependency exists for,
// covering Brokkr's domain instead: agents by status, work orders by
// status, webhook delivery outcomes/duration, live deployment objects,
// diagnostic requests by status, and emitted events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brokkr-io/brokkr/internal/store"
)

// Collector registers and serves Brokkr's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	agentsByStatus     *prometheus.GaugeVec
	workOrdersByStatus *prometheus.GaugeVec
	deploymentObjects  prometheus.Gauge
	webhookDeliveries  *prometheus.CounterVec
	webhookDuration    *prometheus.HistogramVec
	diagnosticRequests *prometheus.GaugeVec
	eventsEmittedTotal *prometheus.CounterVec
}

// NewCollector builds a Collector with a fresh registry, registering the
// standard Go process/runtime collectors alongside Brokkr's own metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())

	c := &Collector{
		registry: reg,
		agentsByStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "brokkr_agents_total",
			Help: "Number of registered agents by status.",
		}, []string{"status"}),
		workOrdersByStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "brokkr_work_orders_total",
			Help: "Number of work orders by status.",
		}, []string{"status"}),
		deploymentObjects: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "brokkr_deployment_objects_live",
			Help: "Number of live (non-deleted) deployment objects.",
		}),
		webhookDeliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "brokkr_webhook_deliveries_total",
			Help: "Total webhook delivery attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		webhookDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brokkr_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery attempt duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"event_type"}),
		diagnosticRequests: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "brokkr_diagnostic_requests_total",
			Help: "Number of diagnostic requests by status.",
		}, []string{"status"}),
		eventsEmittedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "brokkr_events_emitted_total",
			Help: "Total events emitted, by event type.",
		}, []string{"event_type"}),
	}
	return c
}

// RecordWebhookDelivery records one webhook delivery attempt's outcome and
// duration. No package outside internal/metrics calls it.
func (c *Collector) RecordWebhookDelivery(eventType, outcome string, duration time.Duration) {
	c.webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
	c.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordEventEmitted records one event emission. No package outside
// internal/metrics calls it.
func (c *Collector) RecordEventEmitted(eventType string) {
	c.eventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// SetAgentStatusCounts overwrites the agents-by-status gauge set, called
// periodically by the broker's background sweep alongside the
// agent-liveness sweeper.
func (c *Collector) SetAgentStatusCounts(counts map[string]int) {
	for _, status := range []string{store.AgentActive, store.AgentInactive, store.AgentUnreachable} {
		c.agentsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// SetWorkOrderStatusCounts overwrites the work-orders-by-status gauge set.
func (c *Collector) SetWorkOrderStatusCounts(counts map[string]int) {
	for _, status := range []string{
		store.WorkOrderPending, store.WorkOrderClaimed, store.WorkOrderRunning,
		store.WorkOrderSucceeded, store.WorkOrderFailed, store.WorkOrderRetryPending, store.WorkOrderCancelled,
	} {
		c.workOrdersByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// SetDiagnosticRequestStatusCounts overwrites the diagnostic-requests gauge
// set.
func (c *Collector) SetDiagnosticRequestStatusCounts(counts map[string]int) {
	for _, status := range []string{
		store.DiagnosticPending, store.DiagnosticClaimed, store.DiagnosticCompleted,
		store.DiagnosticFailed, store.DiagnosticExpired,
	} {
		c.diagnosticRequests.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// SetLiveDeploymentObjectCount sets the live-deployment-objects gauge.
func (c *Collector) SetLiveDeploymentObjectCount(n int) {
	c.deploymentObjects.Set(float64(n))
}

// Handler returns an http.Handler serving the registry in Prometheus text
// exposition format, for GET /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
