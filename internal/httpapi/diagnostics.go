package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/security"
	"github.com/brokkr-io/brokkr/internal/store"
)

type deploymentHealthRequest struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// handleReportDeploymentHealth records an agent's health assessment for a
// deployment object it applied (spec.md §4.7).
func (s *Server) handleReportDeploymentHealth(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	deploymentObjectID := r.PathValue("deployment_object_id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	var req deploymentHealthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		badRequest(w, "status is required")
		return
	}
	if err := s.healthMgr.Upsert(r.Context(), agentID, deploymentObjectID, req.Status, security.Sanitize(req.Summary)); err != nil {
		s.writeStoreError(w, "UpsertDeploymentHealth", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deploymentHealthResponse struct {
	AgentID            string `json:"agent_id"`
	DeploymentObjectID string `json:"deployment_object_id"`
	Status             string `json:"status"`
	Summary            string `json:"summary"`
	CheckedAt          string `json:"checked_at"`
}

func toDeploymentHealthResponse(h *store.DeploymentHealth) deploymentHealthResponse {
	return deploymentHealthResponse{
		AgentID: h.AgentID, DeploymentObjectID: h.DeploymentObjectID, Status: h.Status,
		Summary: h.Summary, CheckedAt: h.CheckedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleGetDeploymentHealth(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	agentID := r.PathValue("id")
	deploymentObjectID := r.PathValue("deployment_object_id")
	h, err := s.healthMgr.Deployment(r.Context(), agentID, deploymentObjectID)
	if err != nil {
		s.writeStoreError(w, "GetDeploymentHealth", err)
		return
	}
	if h == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentHealthResponse(h))
}

type stackHealthResponse struct {
	StackID     string                              `json:"stack_id"`
	Status      string                              `json:"status"`
	Deployments map[string]*deploymentSummaryPayload `json:"deployments"`
}

type deploymentSummaryPayload struct {
	DeploymentObjectID string `json:"deployment_object_id"`
	Status             string `json:"status"`
	HealthyCount       int    `json:"healthy_count"`
	DegradedCount      int    `json:"degraded_count"`
	FailingCount       int    `json:"failing_count"`
	UnknownCount       int    `json:"unknown_count"`
}

// handleGetStackHealth returns the worst-status rollup across a stack's
// live deployment objects (spec.md §4.7).
func (s *Server) handleGetStackHealth(w http.ResponseWriter, r *http.Request) {
	stackID := r.PathValue("id")
	stack, err := s.store.GetStack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), stack.GeneratorID) {
		forbidden(w)
		return
	}
	summary, err := s.healthMgr.Stack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "StackHealth", err)
		return
	}
	out := stackHealthResponse{StackID: summary.StackID, Status: summary.Status, Deployments: map[string]*deploymentSummaryPayload{}}
	for id, d := range summary.Deployments {
		out.Deployments[id] = &deploymentSummaryPayload{
			DeploymentObjectID: d.DeploymentObjectID, Status: d.Status,
			HealthyCount: d.HealthyCount, DegradedCount: d.DegradedCount,
			FailingCount: d.FailingCount, UnknownCount: d.UnknownCount,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type requestDiagnosticRequest struct {
	DeploymentObjectID string `json:"deployment_object_id"`
	TTLSeconds         int    `json:"ttl_seconds"`
}

type diagnosticRequestResponse struct {
	ID                 string `json:"id"`
	AgentID            string `json:"agent_id"`
	DeploymentObjectID string `json:"deployment_object_id"`
	Status             string `json:"status"`
	ExpiresAt          string `json:"expires_at"`
	CreatedAt          string `json:"created_at"`
}

func toDiagnosticRequestResponse(d *store.DiagnosticRequest) diagnosticRequestResponse {
	return diagnosticRequestResponse{
		ID: d.ID, AgentID: d.AgentID, DeploymentObjectID: d.DeploymentObjectID, Status: d.Status,
		ExpiresAt: d.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"), CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// handleRequestDiagnostic creates a bounded-lifetime diagnostic request
// against agentID (admin only, spec.md §4.7's operator-triggered probe).
func (s *Server) handleRequestDiagnostic(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	agentID := r.PathValue("id")
	var req requestDiagnosticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeploymentObjectID == "" {
		badRequest(w, "deployment_object_id is required")
		return
	}
	ttlSeconds := req.TTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = 60
	}
	d, err := s.healthMgr.RequestDiagnostic(r.Context(), agentID, req.DeploymentObjectID, time.Duration(ttlSeconds)*time.Second)
	if err != nil {
		s.writeStoreError(w, "RequestDiagnostic", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDiagnosticRequestResponse(d))
}

// handlePendingDiagnostics returns the diagnostic requests agentID should
// drain on its next poll (spec.md §4.6 step 7).
func (s *Server) handlePendingDiagnostics(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	reqs, err := s.healthMgr.PendingDiagnostics(r.Context(), agentID)
	if err != nil {
		s.writeStoreError(w, "PendingDiagnostics", err)
		return
	}
	out := make([]diagnosticRequestResponse, 0, len(reqs))
	for _, d := range reqs {
		out = append(out, toDiagnosticRequestResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleClaimDiagnostic performs the atomic pending -> claimed transition;
// a store.Conflict surfaces as 409 (another drain already claimed it).
func (s *Server) handleClaimDiagnostic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := r.URL.Query().Get("agent_id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	if err := s.healthMgr.ClaimDiagnostic(r.Context(), id); err != nil {
		s.writeStoreError(w, "ClaimDiagnostic", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completeDiagnosticRequest struct {
	AgentID     string          `json:"agent_id"`
	Success     bool            `json:"success"`
	PodStatuses json.RawMessage `json:"pod_statuses"`
	Events      json.RawMessage `json:"events"`
	LogTail     string          `json:"log_tail"`
}

func (s *Server) handleCompleteDiagnostic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req completeDiagnosticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if !authpak.RequireAgentOrAdmin(r.Context(), req.AgentID) {
		forbidden(w)
		return
	}
	if err := s.healthMgr.CompleteDiagnostic(r.Context(), id, req.Success, req.PodStatuses, req.Events, security.Sanitize(req.LogTail)); err != nil {
		s.writeStoreError(w, "CompleteDiagnostic", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
