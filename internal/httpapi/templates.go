package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/store"
)

type stackTemplateResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	TemplateText string          `json:"template_text"`
	ParamSchema  json.RawMessage `json:"param_schema,omitempty"`
	Version      int             `json:"version"`
	Selector     *store.Selector `json:"selector,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

func toStackTemplateResponse(t *store.StackTemplate) stackTemplateResponse {
	return stackTemplateResponse{
		ID: t.ID, Name: t.Name, TemplateText: t.TemplateText, ParamSchema: t.ParamSchema,
		Version: t.Version, Selector: t.Selector, CreatedAt: t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type createStackTemplateRequest struct {
	Name         string          `json:"name"`
	TemplateText string          `json:"template_text"`
	ParamSchema  json.RawMessage `json:"param_schema"`
	Selector     *store.Selector `json:"selector"`
}

// handleCreateStackTemplate registers a new versioned stack template
// (admin only, SPEC_FULL.md §6 supplemented feature).
func (s *Server) handleCreateStackTemplate(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	var req createStackTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.TemplateText == "" {
		badRequest(w, "name and template_text are required")
		return
	}
	t, err := s.store.CreateStackTemplate(r.Context(), req.Name, req.TemplateText, req.ParamSchema, req.Selector)
	if err != nil {
		s.writeStoreError(w, "CreateStackTemplate", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionTemplateCreated, "stack_template", t.ID, map[string]any{"name": req.Name}); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusCreated, toStackTemplateResponse(t))
}

func (s *Server) handleListStackTemplates(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	templates, err := s.store.ListStackTemplates(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListStackTemplates", err)
		return
	}
	out := make([]stackTemplateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toStackTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStackTemplate(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	t, err := s.store.GetStackTemplate(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetStackTemplate", err)
		return
	}
	writeJSON(w, http.StatusOK, toStackTemplateResponse(t))
}

type updateStackTemplateRequest struct {
	TemplateText string          `json:"template_text"`
	ParamSchema  json.RawMessage `json:"param_schema"`
	Selector     *store.Selector `json:"selector"`
}

// handleUpdateStackTemplate rewrites a template's body/schema, bumping
// its version so already-rendered deployment objects keep their recorded
// provenance (spec.md §9 supplemented rendering feature).
func (s *Server) handleUpdateStackTemplate(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	var req updateStackTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	t, err := s.store.UpdateStackTemplate(r.Context(), id, req.TemplateText, req.ParamSchema, req.Selector)
	if err != nil {
		s.writeStoreError(w, "UpdateStackTemplate", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionTemplateUpdated, "stack_template", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusOK, toStackTemplateResponse(t))
}

func (s *Server) handleDeleteStackTemplate(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	if err := s.store.SoftDeleteStackTemplate(r.Context(), id); err != nil {
		s.writeStoreError(w, "SoftDeleteStackTemplate", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionTemplateDeleted, "stack_template", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateTargetRequest struct {
	StackID string `json:"stack_id"`
}

func (s *Server) handleCreateTemplateTarget(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	templateID := r.PathValue("id")
	var req templateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StackID == "" {
		badRequest(w, "stack_id is required")
		return
	}
	if err := s.store.CreateTemplateTarget(r.Context(), templateID, req.StackID); err != nil {
		s.writeStoreError(w, "CreateTemplateTarget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTemplateTarget(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	templateID := r.PathValue("id")
	stackID := r.PathValue("stack_id")
	if err := s.store.DeleteTemplateTarget(r.Context(), templateID, stackID); err != nil {
		s.writeStoreError(w, "DeleteTemplateTarget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplateTargets(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	templateID := r.PathValue("id")
	stackIDs, err := s.store.StackIDsForTemplate(r.Context(), templateID)
	if err != nil {
		s.writeStoreError(w, "StackIDsForTemplate", err)
		return
	}
	writeJSON(w, http.StatusOK, stackIDs)
}
