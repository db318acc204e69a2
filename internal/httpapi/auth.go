package httpapi

import (
	"encoding/json"
	"net/http"
)

type pakRequest struct {
	Token string `json:"token"`
}

type pakResponse struct {
	Admin       bool   `json:"admin"`
	AgentID     string `json:"agent,omitempty"`
	GeneratorID string `json:"generator,omitempty"`
}

// handleAuthPAK resolves a bearer token to an identity and echoes it back,
// per spec.md §6's POST /auth/pak. Any caller may hit this route — it is the
// mechanism a caller uses to discover what a token authenticates as.
func (s *Server) handleAuthPAK(w http.ResponseWriter, r *http.Request) {
	var req pakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		badRequest(w, "token is required")
		return
	}
	payload, err := s.resolver.Resolve(r.Context(), req.Token)
	if err != nil {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, pakResponse{
		Admin:       payload.IsAdmin(),
		AgentID:     payload.AgentID,
		GeneratorID: payload.GeneratorID,
	})
}
