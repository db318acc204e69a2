package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/security"
	"github.com/brokkr-io/brokkr/internal/store"
)

type workOrderResponse struct {
	ID             string          `json:"id"`
	WorkType       string          `json:"work_type"`
	YAMLContent    string          `json:"yaml_content"`
	Status         string          `json:"status"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	ResultMessage  *string         `json:"result_message,omitempty"`
	Selector       *store.Selector `json:"selector,omitempty"`
	ExplicitAgents []string        `json:"explicit_agents,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toWorkOrderResponse(wo *store.WorkOrder) workOrderResponse {
	return workOrderResponse{
		ID: wo.ID, WorkType: wo.WorkType, YAMLContent: wo.YAMLContent, Status: wo.Status,
		Attempt: wo.Attempt, MaxAttempts: wo.MaxAttempts, ResultMessage: wo.ResultMessage,
		Selector: wo.Selector, ExplicitAgents: wo.ExplicitAgents,
		CreatedAt: wo.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createWorkOrderRequest struct {
	WorkType       string          `json:"work_type"`
	YAMLContent    string          `json:"yaml_content"`
	MaxAttempts    int             `json:"max_attempts"`
	Selector       *store.Selector `json:"selector"`
	ExplicitAgents []string        `json:"explicit_agents"`
}

// handleCreateWorkOrder creates an async work order (admin only, per
// spec.md §4.4).
func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	var req createWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkType == "" || req.YAMLContent == "" {
		badRequest(w, "work_type and yaml_content are required")
		return
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	wo, err := s.woMgr.Create(r.Context(), "admin", "", req.WorkType, req.YAMLContent, maxAttempts, req.Selector, req.ExplicitAgents)
	if err != nil {
		s.writeStoreError(w, "CreateWorkOrder", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkOrderResponse(wo))
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	orders, err := s.store.ListWorkOrders(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListWorkOrders", err)
		return
	}
	out := make([]workOrderResponse, 0, len(orders))
	for _, wo := range orders {
		out = append(out, toWorkOrderResponse(wo))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	wo, err := s.store.GetWorkOrder(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetWorkOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderResponse(wo))
}

// handleCancelWorkOrder cancels a PENDING/RETRY_PENDING work order
// cooperatively; CLAIMED/RUNNING orders run to completion (spec.md §4.4).
func (s *Server) handleCancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	if err := s.woMgr.Cancel(r.Context(), "admin", "", id); err != nil {
		s.writeStoreError(w, "CancelWorkOrder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePendingWorkOrders returns the work orders agentID is currently
// eligible to claim (spec.md §4.4's agent-facing poll).
func (s *Server) handlePendingWorkOrders(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeStoreError(w, "GetAgent", err)
		return
	}
	orders, err := s.woMgr.Eligible(r.Context(), agentID, agent.Labels, agent.Annotations)
	if err != nil {
		s.writeStoreError(w, "EligibleWorkOrders", err)
		return
	}
	out := make([]workOrderResponse, 0, len(orders))
	for _, wo := range orders {
		out = append(out, toWorkOrderResponse(wo))
	}
	writeJSON(w, http.StatusOK, out)
}

type claimWorkOrderRequest struct {
	AgentID string `json:"agent_id"`
}

// handleClaimWorkOrder performs the atomic PENDING -> CLAIMED transition.
// A store.Conflict (another agent already claimed it) surfaces as 409.
func (s *Server) handleClaimWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req claimWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		badRequest(w, "agent_id is required")
		return
	}
	if !authpak.RequireAgentOrAdmin(r.Context(), req.AgentID) {
		forbidden(w)
		return
	}
	wo, err := s.woMgr.Claim(r.Context(), id, req.AgentID)
	if err != nil {
		s.writeStoreError(w, "ClaimWorkOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderResponse(wo))
}

type completeWorkOrderRequest struct {
	AgentID   string `json:"agent_id"`
	Success   bool   `json:"success"`
	Retryable *bool  `json:"retryable"`
	Message   string `json:"message"`
}

// handleCompleteWorkOrder reports a claimed work order's outcome. A
// retryable failure under max_attempts schedules a backoff retry (202);
// everything else is a terminal transition (200), per spec.md §4.4.
func (s *Server) handleCompleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req completeWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if !authpak.RequireAgentOrAdmin(r.Context(), req.AgentID) {
		forbidden(w)
		return
	}
	message := security.Sanitize(req.Message)
	if req.Success {
		if err := s.woMgr.CompleteSuccess(r.Context(), id, message); err != nil {
			s.writeStoreError(w, "CompleteWorkOrderSuccess", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if req.Retryable == nil {
		badRequest(w, "retryable is required when success is false")
		return
	}
	wo, err := s.store.GetWorkOrder(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetWorkOrder", err)
		return
	}
	if err := s.woMgr.CompleteFailure(r.Context(), id, *req.Retryable, message); err != nil {
		s.writeStoreError(w, "CompleteWorkOrderFailure", err)
		return
	}
	if *req.Retryable && wo.Attempt < wo.MaxAttempts {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type workOrderLogResponse struct {
	ID          string  `json:"id"`
	WorkOrderID string  `json:"work_order_id"`
	FinalStatus string  `json:"final_status"`
	Message     *string `json:"message,omitempty"`
	Attempt     int     `json:"attempt"`
	RecordedAt  string  `json:"recorded_at"`
}

func toWorkOrderLogResponse(l *store.WorkOrderLog) workOrderLogResponse {
	return workOrderLogResponse{
		ID: l.ID, WorkOrderID: l.WorkOrderID, FinalStatus: l.FinalStatus, Message: l.Message,
		Attempt: l.Attempt, RecordedAt: l.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListWorkOrderLogs(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	logs, err := s.store.ListWorkOrderLogs(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListWorkOrderLogs", err)
		return
	}
	out := make([]workOrderLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toWorkOrderLogResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkOrderLog(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	logs, err := s.store.GetWorkOrderLog(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetWorkOrderLog", err)
		return
	}
	out := make([]workOrderLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toWorkOrderLogResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}
