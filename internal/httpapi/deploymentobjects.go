package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/store"
)

type deploymentObjectResponse struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAMLContent      string `json:"yaml_content"`
	YAMLChecksum     string `json:"yaml_checksum"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
	SubmittedAt      string `json:"submitted_at"`
}

func toDeploymentObjectResponse(o *store.DeploymentObject) deploymentObjectResponse {
	return deploymentObjectResponse{
		ID:               o.ID,
		StackID:          o.StackID,
		SequenceID:       o.SequenceID,
		YAMLContent:      o.YAMLContent,
		YAMLChecksum:     o.YAMLChecksum,
		IsDeletionMarker: o.IsDeletionMarker,
		SubmittedAt:      o.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createDeploymentObjectRequest struct {
	StackID          string `json:"stack_id"`
	YAMLContent      string `json:"yaml_content"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
}

// handleCreateDeploymentObject submits a new revision against a stack named
// in the request body (the stack's owning generator, or an admin, per
// spec.md §4.2/§6). deployment-objects is a flat resource, not nested under
// stacks, matching spec.md §6's wire surface.
func (s *Server) handleCreateDeploymentObject(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StackID == "" || req.YAMLContent == "" {
		badRequest(w, "stack_id and yaml_content are required")
		return
	}
	stack, err := s.store.GetStack(r.Context(), req.StackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), stack.GeneratorID) {
		forbidden(w)
		return
	}
	payload := authpak.FromContext(r.Context())
	actorType, actorID := audit.ActorAdmin, ""
	if payload.IsGenerator(stack.GeneratorID) {
		actorType, actorID = audit.ActorGenerator, stack.GeneratorID
	}
	obj, err := s.doMgr.Create(r.Context(), actorType, actorID, req.StackID, req.YAMLContent, req.IsDeletionMarker)
	if err != nil {
		s.writeStoreError(w, "CreateDeploymentObject", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeploymentObjectResponse(obj))
}

// handleListDeploymentObjects lists live deployment objects for the stack
// named by the ?stack_id= query parameter.
func (s *Server) handleListDeploymentObjects(w http.ResponseWriter, r *http.Request) {
	stackID := r.URL.Query().Get("stack_id")
	if stackID == "" {
		badRequest(w, "stack_id query parameter is required")
		return
	}
	stack, err := s.store.GetStack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), stack.GeneratorID) {
		forbidden(w)
		return
	}
	objs, err := s.store.ListDeploymentObjectsForStack(r.Context(), stackID)
	if err != nil {
		s.writeStoreError(w, "ListDeploymentObjectsForStack", err)
		return
	}
	out := make([]deploymentObjectResponse, 0, len(objs))
	for _, o := range objs {
		out = append(out, toDeploymentObjectResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDeploymentObject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	obj, err := s.store.GetDeploymentObject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetDeploymentObject", err)
		return
	}
	stack, err := s.store.GetStack(r.Context(), obj.StackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), stack.GeneratorID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentObjectResponse(obj))
}

func (s *Server) handleDeleteDeploymentObject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	obj, err := s.store.GetDeploymentObject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetDeploymentObject", err)
		return
	}
	stack, err := s.store.GetStack(r.Context(), obj.StackID)
	if err != nil {
		s.writeStoreError(w, "GetStack", err)
		return
	}
	if !authpak.RequireGeneratorOrAdmin(r.Context(), stack.GeneratorID) {
		forbidden(w)
		return
	}
	payload := authpak.FromContext(r.Context())
	actorType, actorID := audit.ActorAdmin, ""
	if payload.IsGenerator(stack.GeneratorID) {
		actorType, actorID = audit.ActorGenerator, stack.GeneratorID
	}
	if err := s.doMgr.Delete(r.Context(), actorType, actorID, id); err != nil {
		s.writeStoreError(w, "DeleteDeploymentObject", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ackDeploymentObjectRequest struct {
	Succeeded bool `json:"succeeded"`
}

// handleAckDeploymentObject records an agent's apply outcome, per spec.md
// §4.3's no-backoff retry model (a failed ack simply reappears on the
// agent's next applicable-deployment-objects poll).
func (s *Server) handleAckDeploymentObject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := r.PathValue("agent_id")
	if !authpak.RequireAgentOrAdmin(r.Context(), agentID) {
		forbidden(w)
		return
	}
	var req ackDeploymentObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if err := s.doMgr.Ack(r.Context(), id, agentID, req.Succeeded); err != nil {
		s.writeStoreError(w, "AckDeploymentObject", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
