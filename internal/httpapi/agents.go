package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/store"
)

type agentResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ClusterName   string             `json:"cluster_name"`
	Status        string             `json:"status"`
	LastHeartbeat *string            `json:"last_heartbeat,omitempty"`
	Labels        store.Labels       `json:"labels,omitempty"`
	Annotations   store.Annotations  `json:"annotations,omitempty"`
	CreatedAt     string             `json:"created_at"`
}

func toAgentResponse(a *store.Agent) agentResponse {
	resp := agentResponse{
		ID: a.ID, Name: a.Name, ClusterName: a.ClusterName, Status: a.Status,
		Labels: a.Labels, Annotations: a.Annotations, CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if a.LastHeartbeat != nil {
		ts := a.LastHeartbeat.Format("2006-01-02T15:04:05Z07:00")
		resp.LastHeartbeat = &ts
	}
	return resp
}

type createAgentRequest struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
}

type createAgentResponse struct {
	Agent agentResponse `json:"agent"`
	PAK   string        `json:"pak"`
}

// handleCreateAgent mints a new agent identity and its PAK (admin only).
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.ClusterName == "" {
		badRequest(w, "name and cluster_name are required")
		return
	}
	gen, err := authpak.Generate(authpak.DefaultConfig())
	if err != nil {
		s.logger.Error("generate agent pak failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	a, err := s.store.CreateAgent(r.Context(), req.Name, req.ClusterName, gen.Hash)
	if err != nil {
		s.writeStoreError(w, "CreateAgent", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionAgentCreated, "agent", a.ID, map[string]any{
		"name": req.Name, "cluster_name": req.ClusterName,
	}); err != nil {
		s.logger.Warn("record audit failed", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, createAgentResponse{Agent: toAgentResponse(a), PAK: gen.Plaintext})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	agents, err := s.store.ListLiveAgents(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListLiveAgents", err)
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), id) {
		forbidden(w)
		return
	}
	a, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetAgent", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(a))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	if err := s.store.SoftDeleteAgent(r.Context(), id); err != nil {
		s.writeStoreError(w, "SoftDeleteAgent", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionAgentDeleted, "agent", id, nil); err != nil {
		s.logger.Warn("record audit failed", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAgentHeartbeat promotes an agent to ACTIVE and bumps last_heartbeat,
// per spec.md §4.6 step 3's reconciler tick.
func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), id) {
		forbidden(w)
		return
	}
	if err := s.store.Heartbeat(r.Context(), id); err != nil {
		s.writeStoreError(w, "Heartbeat", err)
		return
	}
	s.events.PublishCommitted(eventbus.New(id, eventbus.TypeAgentHeartbeat, map[string]any{"agent_id": id}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplicableDeploymentObjects(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), id) {
		forbidden(w)
		return
	}
	objs, err := s.doMgr.Applicable(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "Applicable", err)
		return
	}
	out := make([]deploymentObjectResponse, 0, len(objs))
	for _, o := range objs {
		out = append(out, toDeploymentObjectResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

type labelsRequest struct {
	Labels      store.Labels      `json:"labels"`
	Annotations store.Annotations `json:"annotations"`
}

func (s *Server) handleGetAgentLabels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !authpak.RequireAgentOrAdmin(r.Context(), id) {
		forbidden(w)
		return
	}
	a, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetAgent", err)
		return
	}
	writeJSON(w, http.StatusOK, labelsRequest{Labels: a.Labels, Annotations: a.Annotations})
}

func (s *Server) handleSetAgentLabels(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	var req labelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.Labels != nil {
		if err := s.store.SetAgentLabels(r.Context(), id, req.Labels); err != nil {
			s.writeStoreError(w, "SetAgentLabels", err)
			return
		}
	}
	if req.Annotations != nil {
		if err := s.store.SetAgentAnnotations(r.Context(), id, req.Annotations); err != nil {
			s.writeStoreError(w, "SetAgentAnnotations", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
