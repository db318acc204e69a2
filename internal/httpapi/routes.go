package httpapi

import "net/http"

// registerRoutes wires every handler onto mux. Grounded on the teacher's
// internal/controlplane/server route table shape (flat mux.HandleFunc
// calls grouped by resource, agent-facing routes last within each group);
// the resource set itself is Brokkr's own. All routes live under /api/v1
// per spec.md §6, except the three liveness/metrics endpoints conventionally
// served unprefixed for k8s probes and scrapers.
const apiV1 = "/api/v1"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST "+apiV1+"/auth/pak", s.handleAuthPAK)

	mux.HandleFunc("POST "+apiV1+"/generators", s.handleCreateGenerator)
	mux.HandleFunc("GET "+apiV1+"/generators", s.handleListGenerators)
	mux.HandleFunc("GET "+apiV1+"/generators/{id}", s.handleGetGenerator)
	mux.HandleFunc("POST "+apiV1+"/generators/{id}/rotate", s.handleRotateGeneratorPAK)

	mux.HandleFunc("POST "+apiV1+"/agents", s.handleCreateAgent)
	mux.HandleFunc("GET "+apiV1+"/agents", s.handleListAgents)
	mux.HandleFunc("GET "+apiV1+"/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("DELETE "+apiV1+"/agents/{id}", s.handleDeleteAgent)
	mux.Handle("POST "+apiV1+"/agents/{id}/heartbeat", s.pollLimiter.middleware(http.HandlerFunc(s.handleAgentHeartbeat)))
	mux.Handle("GET "+apiV1+"/agents/{id}/applicable-deployment-objects", s.pollLimiter.middleware(http.HandlerFunc(s.handleApplicableDeploymentObjects)))
	mux.HandleFunc("GET "+apiV1+"/agents/{id}/labels", s.handleGetAgentLabels)
	mux.HandleFunc("PUT "+apiV1+"/agents/{id}/labels", s.handleSetAgentLabels)

	mux.HandleFunc("POST "+apiV1+"/stacks", s.handleCreateStack)
	mux.HandleFunc("GET "+apiV1+"/stacks", s.handleListStacks)
	mux.HandleFunc("GET "+apiV1+"/stacks/{id}", s.handleGetStack)
	mux.HandleFunc("PUT "+apiV1+"/stacks/{id}", s.handleUpdateStack)
	mux.HandleFunc("DELETE "+apiV1+"/stacks/{id}", s.handleDeleteStack)
	mux.HandleFunc("POST "+apiV1+"/admin/stacks/{id}/purge", s.handlePurgeStack)
	mux.HandleFunc("GET "+apiV1+"/stacks/{id}/labels", s.handleGetStackLabels)
	mux.HandleFunc("PUT "+apiV1+"/stacks/{id}/labels", s.handleSetStackLabels)
	mux.HandleFunc("POST "+apiV1+"/stacks/{id}/agent-targets", s.handleCreateAgentTarget)
	mux.HandleFunc("DELETE "+apiV1+"/stacks/{id}/agent-targets/{agent_id}", s.handleDeleteAgentTarget)
	mux.HandleFunc("GET "+apiV1+"/stacks/{id}/health", s.handleGetStackHealth)

	mux.HandleFunc("POST "+apiV1+"/deployment-objects", s.handleCreateDeploymentObject)
	mux.HandleFunc("GET "+apiV1+"/deployment-objects", s.handleListDeploymentObjects)
	mux.HandleFunc("GET "+apiV1+"/deployment-objects/{id}", s.handleGetDeploymentObject)
	mux.HandleFunc("DELETE "+apiV1+"/deployment-objects/{id}", s.handleDeleteDeploymentObject)
	mux.HandleFunc("POST "+apiV1+"/deployment-objects/{id}/ack/{agent_id}", s.handleAckDeploymentObject)

	mux.HandleFunc("POST "+apiV1+"/work-orders", s.handleCreateWorkOrder)
	mux.HandleFunc("GET "+apiV1+"/work-orders", s.handleListWorkOrders)
	mux.HandleFunc("GET "+apiV1+"/work-orders/{id}", s.handleGetWorkOrder)
	mux.HandleFunc("DELETE "+apiV1+"/work-orders/{id}", s.handleCancelWorkOrder)
	mux.HandleFunc("POST "+apiV1+"/work-orders/{id}/claim", s.handleClaimWorkOrder)
	mux.HandleFunc("POST "+apiV1+"/work-orders/{id}/complete", s.handleCompleteWorkOrder)
	mux.Handle("GET "+apiV1+"/agents/{id}/work-orders/pending", s.pollLimiter.middleware(http.HandlerFunc(s.handlePendingWorkOrders)))
	mux.HandleFunc("GET "+apiV1+"/work-order-log", s.handleListWorkOrderLogs)
	mux.HandleFunc("GET "+apiV1+"/work-order-log/{id}", s.handleGetWorkOrderLog)

	mux.HandleFunc("POST "+apiV1+"/webhook-subscriptions", s.handleCreateWebhookSubscription)
	mux.HandleFunc("GET "+apiV1+"/webhook-subscriptions", s.handleListWebhookSubscriptions)
	mux.HandleFunc("GET "+apiV1+"/webhook-subscriptions/{id}", s.handleGetWebhookSubscription)
	mux.HandleFunc("DELETE "+apiV1+"/webhook-subscriptions/{id}", s.handleDeleteWebhookSubscription)
	mux.Handle("GET "+apiV1+"/agents/{id}/webhook-deliveries/pending", s.pollLimiter.middleware(http.HandlerFunc(s.handlePendingWebhookDeliveries)))
	mux.HandleFunc("POST "+apiV1+"/webhook-deliveries/{id}/complete", s.handleCompleteWebhookDelivery)

	mux.HandleFunc("POST "+apiV1+"/stack-templates", s.handleCreateStackTemplate)
	mux.HandleFunc("GET "+apiV1+"/stack-templates", s.handleListStackTemplates)
	mux.HandleFunc("GET "+apiV1+"/stack-templates/{id}", s.handleGetStackTemplate)
	mux.HandleFunc("PUT "+apiV1+"/stack-templates/{id}", s.handleUpdateStackTemplate)
	mux.HandleFunc("DELETE "+apiV1+"/stack-templates/{id}", s.handleDeleteStackTemplate)
	mux.HandleFunc("POST "+apiV1+"/stack-templates/{id}/targets", s.handleCreateTemplateTarget)
	mux.HandleFunc("GET "+apiV1+"/stack-templates/{id}/targets", s.handleListTemplateTargets)
	mux.HandleFunc("DELETE "+apiV1+"/stack-templates/{id}/targets/{stack_id}", s.handleDeleteTemplateTarget)

	mux.HandleFunc("POST "+apiV1+"/agents/{id}/deployment-objects/{deployment_object_id}/health", s.handleReportDeploymentHealth)
	mux.HandleFunc("GET "+apiV1+"/agents/{id}/deployment-objects/{deployment_object_id}/health", s.handleGetDeploymentHealth)
	mux.HandleFunc("POST "+apiV1+"/agents/{id}/diagnostic-requests", s.handleRequestDiagnostic)
	mux.Handle("GET "+apiV1+"/agents/{id}/diagnostic-requests/pending", s.pollLimiter.middleware(http.HandlerFunc(s.handlePendingDiagnostics)))
	mux.HandleFunc("POST "+apiV1+"/diagnostic-requests/{id}/claim", s.handleClaimDiagnostic)
	mux.HandleFunc("POST "+apiV1+"/diagnostic-requests/{id}/complete", s.handleCompleteDiagnostic)

	mux.HandleFunc("GET "+apiV1+"/admin/audit-logs", s.handleListAuditLogs)
	mux.HandleFunc("POST "+apiV1+"/admin/config/reload", s.handleReloadConfig)
}
