package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/store"
)

type generatorResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	IsActive     bool    `json:"is_active"`
	LastActiveAt *string `json:"last_active_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toGeneratorResponse(g *store.Generator) generatorResponse {
	resp := generatorResponse{ID: g.ID, Name: g.Name, IsActive: g.IsActive, CreatedAt: g.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
	if g.LastActiveAt != nil {
		ts := g.LastActiveAt.Format("2006-01-02T15:04:05Z07:00")
		resp.LastActiveAt = &ts
	}
	return resp
}

type createGeneratorRequest struct {
	Name string `json:"name"`
}

type createGeneratorResponse struct {
	Generator generatorResponse `json:"generator"`
	PAK       string            `json:"pak"`
}

// handleCreateGenerator mints a new generator identity and its PAK
// (admin only, per spec.md §4.2).
func (s *Server) handleCreateGenerator(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	var req createGeneratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	gen, err := authpak.Generate(authpak.DefaultConfig())
	if err != nil {
		s.logger.Error("generate generator pak failed")
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	g, err := s.store.CreateGenerator(r.Context(), nil, req.Name, gen.Hash)
	if err != nil {
		s.writeStoreError(w, "CreateGenerator", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionGeneratorCreated, "generator", g.ID, map[string]any{"name": req.Name}); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusCreated, createGeneratorResponse{Generator: toGeneratorResponse(g), PAK: gen.Plaintext})
}

func (s *Server) handleListGenerators(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	gens, err := s.store.ListLiveGenerators(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListLiveGenerators", err)
		return
	}
	out := make([]generatorResponse, 0, len(gens))
	for _, g := range gens {
		out = append(out, toGeneratorResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGenerator(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !authpak.RequireGeneratorOrAdmin(r.Context(), id) {
		forbidden(w)
		return
	}
	g, err := s.store.GetGenerator(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetGenerator", err)
		return
	}
	writeJSON(w, http.StatusOK, toGeneratorResponse(g))
}

type rotateGeneratorPAKResponse struct {
	PAK string `json:"pak"`
}

// handleRotateGeneratorPAK mints a fresh PAK for an existing generator,
// invalidating the prior one (admin only, per spec.md §4.2's rotation path).
func (s *Server) handleRotateGeneratorPAK(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	id := r.PathValue("id")
	gen, err := authpak.Generate(authpak.DefaultConfig())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := s.store.SetGeneratorPAKHash(r.Context(), id, gen.Hash); err != nil {
		s.writeStoreError(w, "SetGeneratorPAKHash", err)
		return
	}
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", audit.ActionGeneratorRotated, "generator", id, nil); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusOK, rotateGeneratorPAKResponse{PAK: gen.Plaintext})
}
