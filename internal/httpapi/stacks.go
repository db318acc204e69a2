package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/store"
)

type stackResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	GeneratorID string          `json:"generator_id"`
	Selector    *store.Selector `json:"selector,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func toStackResponse(st *store.Stack) stackResponse {
	return stackResponse{
		ID: st.ID, Name: st.Name, Description: st.Description, GeneratorID: st.GeneratorID,
		Selector: st.Selector, CreatedAt: st.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createStackRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Selector    *store.Selector `json:"selector"`
}

// handleCreateStack creates a stack owned by the authenticated generator.
// Only a generator credential may create a stack — admins act on behalf of
// generators elsewhere but do not own stacks themselves (spec.md §4.1/§4.2).
func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	payload := authpak.FromContext(r.Context())
	if payload.GeneratorID == "" {
		forbidden(w)
		return
	}
	generatorID := payload.GeneratorID
	var req createStackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	st, err := s.store.CreateStack(r.Context(), generatorID, req.Name, req.Description, req.Selector)
	if err != nil {
		s.writeStoreError(w, "CreateStack", err)
		return
	}
	s.events.PublishCommitted(eventbus.New(st.ID, eventbus.TypeStackCreated, map[string]any{
		"stack_id": st.ID, "generator_id": generatorID,
	}))
	writeJSON(w, http.StatusCreated, toStackResponse(st))
}

func (s *Server) handleListStacks(w http.ResponseWriter, r *http.Request) {
	payload := authpak.FromContext(r.Context())
	var stacks []*store.Stack
	var err error
	if payload.IsAdmin() {
		stacks, err = s.store.ListLiveStacks(r.Context())
	} else if payload.GeneratorID != "" {
		stacks, err = s.store.ListStacksByGenerator(r.Context(), payload.GeneratorID)
	} else {
		forbidden(w)
		return
	}
	if err != nil {
		s.writeStoreError(w, "ListStacks", err)
		return
	}
	out := make([]stackResponse, 0, len(stacks))
	for _, st := range stacks {
		out = append(out, toStackResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetStack(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), st.GeneratorID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, toStackResponse(st))
}

type updateStackRequest struct {
	Description string          `json:"description"`
	Selector    *store.Selector `json:"selector"`
}

func (s *Server) handleUpdateStack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetStack(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), existing.GeneratorID) {
		forbidden(w)
		return
	}
	var req updateStackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	st, err := s.store.UpdateStack(r.Context(), id, req.Description, req.Selector)
	if err != nil {
		s.writeStoreError(w, "UpdateStack", err)
		return
	}
	writeJSON(w, http.StatusOK, toStackResponse(st))
}

func (s *Server) handleDeleteStack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetStack(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), existing.GeneratorID) {
		forbidden(w)
		return
	}
	if err := s.store.SoftDeleteStack(r.Context(), id); err != nil {
		s.writeStoreError(w, "SoftDeleteStack", err)
		return
	}
	payload := authpak.FromContext(r.Context())
	actorType, actorID := audit.ActorAdmin, ""
	if payload.IsGenerator(existing.GeneratorID) {
		actorType, actorID = audit.ActorGenerator, existing.GeneratorID
	}
	if err := s.auditLog.Record(r.Context(), nil, actorType, actorID, audit.ActionStackDeleted, "stack", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	s.events.PublishCommitted(eventbus.New(id, eventbus.TypeStackDeleted, map[string]any{"stack_id": id}))
	w.WriteHeader(http.StatusNoContent)
}

// handlePurgeStack hard-deletes an already soft-deleted stack (admin only,
// SPEC_FULL.md §6's supplemented purge operation).
func (s *Server) handlePurgeStack(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	if err := s.store.PurgeStack(r.Context(), id); err != nil {
		s.writeStoreError(w, "PurgeStack", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionStackPurged, "stack", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type stackLabelsResponse struct {
	Labels      store.Labels      `json:"labels"`
	Annotations store.Annotations `json:"annotations"`
}

func (s *Server) handleGetStackLabels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetStack(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), st.GeneratorID) {
		forbidden(w)
		return
	}
	labels, ann, err := s.store.GetStackLabels(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStackLabels", err)
		return
	}
	writeJSON(w, http.StatusOK, stackLabelsResponse{Labels: labels, Annotations: ann})
}

func (s *Server) handleSetStackLabels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetStack(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), st.GeneratorID) {
		forbidden(w)
		return
	}
	var req stackLabelsResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.Labels != nil {
		if err := s.store.SetStackLabels(r.Context(), id, req.Labels); err != nil {
			s.writeStoreError(w, "SetStackLabels", err)
			return
		}
	}
	if req.Annotations != nil {
		if err := s.store.SetStackAnnotations(r.Context(), id, req.Annotations); err != nil {
			s.writeStoreError(w, "SetStackAnnotations", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type agentTargetRequest struct {
	AgentID string `json:"agent_id"`
}

// handleCreateAgentTarget records an explicit (agent, stack) assignment
// (the stack's owning generator or an admin, per spec.md §4.3).
func (s *Server) handleCreateAgentTarget(w http.ResponseWriter, r *http.Request) {
	stackID := r.PathValue("id")
	st, err := s.store.GetStack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), st.GeneratorID) {
		forbidden(w)
		return
	}
	var req agentTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		badRequest(w, "agent_id is required")
		return
	}
	if err := s.store.CreateAgentTarget(r.Context(), req.AgentID, stackID); err != nil {
		s.writeStoreError(w, "CreateAgentTarget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAgentTarget(w http.ResponseWriter, r *http.Request) {
	stackID := r.PathValue("id")
	agentID := r.PathValue("agent_id")
	st, err := s.store.GetStack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), st.GeneratorID) {
		forbidden(w)
		return
	}
	if err := s.store.DeleteAgentTarget(r.Context(), agentID, stackID); err != nil {
		s.writeStoreError(w, "DeleteAgentTarget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
