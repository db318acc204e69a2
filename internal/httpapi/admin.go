package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/config"
)

type auditLogResponse struct {
	ID           string `json:"id"`
	ActorType    string `json:"actor_type"`
	ActorID      string `json:"actor_id,omitempty"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Metadata     any    `json:"metadata,omitempty"`
	At           string `json:"at"`
}

// handleListAuditLogs serves GET /admin/audit-logs, filterable by actor
// type/id, action, resource type/id, and a since timestamp (admin only,
// SPEC_FULL.md §6's supplemented compliance surface).
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		ActorType:    q.Get("actor_type"),
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Limit:        100,
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	entries, err := s.auditLog.Query(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, "ListAuditLogs", err)
		return
	}
	out := make([]auditLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditLogResponse{
			ID: e.ID, ActorType: e.ActorType, ActorID: e.ActorID, Action: e.Action,
			ResourceType: e.ResourceType, ResourceID: e.ResourceID,
			Metadata: e.Metadata, At: e.At.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type configFieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

type reloadConfigResponse struct {
	Reloaded bool                `json:"reloaded"`
	Source   string              `json:"source,omitempty"`
	Changes  []configFieldChange `json:"changes"`
}

// handleReloadConfig re-reads the broker's config file (if one was given at
// startup) plus the environment, diffs the result against the running
// config, swaps in the new values, and reports what changed (admin only,
// spec.md §6). DatabaseURL and EncryptionKey are compared but never echoed
// back in the diff — they carry credentials the config file holds in
// plaintext. A reload never re-binds the listener or rewires dependents
// that were fixed at New(); only the fields handlers read live off s.cfg
// take effect immediately.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if !authpak.RequireAdmin(r.Context()) {
		forbidden(w)
		return
	}
	next, err := config.LoadBroker(s.cfgPath)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid", fmt.Sprintf("reload config: %v", err))
		return
	}
	prev := s.config()
	var changes []configFieldChange
	diff := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			changes = append(changes, configFieldChange{Field: field, Old: oldVal, New: newVal})
		}
	}
	diff("listen_addr", prev.ListenAddr, next.ListenAddr)
	diff("log_level", prev.LogLevel, next.LogLevel)
	diff("otlp_endpoint", prev.OTLPEndpoint, next.OTLPEndpoint)
	diff("max_conns", fmt.Sprintf("%d", prev.MaxConns), fmt.Sprintf("%d", next.MaxConns))
	diff("webhook_timeout", prev.WebhookTimeout.String(), next.WebhookTimeout.String())
	if prev.DatabaseURL != next.DatabaseURL {
		changes = append(changes, configFieldChange{Field: "database_url", Old: "(redacted)", New: "(redacted)"})
	}
	if prev.EncryptionKey != next.EncryptionKey {
		changes = append(changes, configFieldChange{Field: "encryption_key", Old: "(redacted)", New: "(redacted)"})
	}

	s.setConfig(next)
	if err := s.auditLog.Record(r.Context(), nil, audit.ActorAdmin, "", "config.reloaded", "", "", map[string]any{"changed_fields": len(changes)}); err != nil {
		s.logger.Warn("record audit failed")
	}
	writeJSON(w, http.StatusOK, reloadConfigResponse{Reloaded: true, Source: s.cfgPath, Changes: changes})
}
