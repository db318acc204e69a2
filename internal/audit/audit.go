// Package audit provides a persistent, queryable audit trail for every
// admin-initiated mutation (SPEC_FULL.md §6). It wraps internal/store's
// durable audit_logs table; unlike the teacher's in-memory ring buffer,
// the trail survives a broker restart, which an admin-facing compliance
// log must do.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brokkr-io/brokkr/internal/store"
)

// Actor types, mirroring spec.md §4.2's three authenticated identities plus
// the system itself (background sweepers).
const (
	ActorAdmin     = "admin"
	ActorAgent     = "agent"
	ActorGenerator = "generator"
	ActorSystem    = "system"
)

// Action names recorded by admin mutation handlers. Kept as plain strings
// rather than a closed enum because httpapi grows new admin actions over
// time and a missing constant should never block recording one.
const (
	ActionGeneratorCreated        = "generator.created"
	ActionGeneratorRotated        = "generator.rotated"
	ActionAgentCreated            = "agent.created"
	ActionAgentRotated            = "agent.rotated"
	ActionAgentDeleted            = "agent.deleted"
	ActionAdminRotated            = "admin.rotated"
	ActionStackDeleted            = "stack.deleted"
	ActionStackPurged             = "stack.purged"
	ActionWorkOrderCreated        = "workorder.created"
	ActionWorkOrderCancel         = "workorder.cancelled"
	ActionDeploymentObjectCreated = "deployment_object.created"
	ActionDeploymentObjectDeleted = "deployment_object.deleted"
	ActionWebhookCreated          = "webhook.created"
	ActionWebhookDeleted          = "webhook.deleted"
	ActionTemplateCreated         = "template.created"
	ActionTemplateUpdated         = "template.updated"
	ActionTemplateDeleted  = "template.deleted"
)

// Logger records audit entries to the store and reads them back for
// GET /admin/audit-logs.
type Logger struct {
	store *store.Store
}

// NewLogger builds a Logger backed by st.
func NewLogger(st *store.Store) *Logger {
	return &Logger{store: st}
}

// Record persists one audit entry. Pass a non-nil tx to fold the audit
// write into the same transaction as the mutation it describes, so the
// mutation and its audit record either both commit or both roll back.
func (l *Logger) Record(ctx context.Context, tx pgx.Tx, actorType, actorID, action, resourceType, resourceID string, detail any) error {
	var metadata []byte
	if detail != nil {
		data, err := json.Marshal(detail)
		if err == nil {
			metadata = data
		}
	}
	var actorIDPtr, resourceTypePtr, resourceIDPtr *string
	if actorID != "" {
		actorIDPtr = &actorID
	}
	if resourceType != "" {
		resourceTypePtr = &resourceType
	}
	if resourceID != "" {
		resourceIDPtr = &resourceID
	}
	return l.store.RecordAudit(ctx, tx, actorType, actorIDPtr, action, resourceTypePtr, resourceIDPtr, metadata)
}

// Filter narrows Query results; see store.AuditLogFilter for field
// semantics.
type Filter = store.AuditLogFilter

// Entry is the queryable projection of an audit_logs row. Metadata is the
// row's raw JSON, passed through undecoded.
type Entry struct {
	ID           string
	ActorType    string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     json.RawMessage
	At           time.Time
}

// Query returns audit entries matching filter, newest first.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	rows, err := l.store.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{ID: r.ID, Action: r.Action, ActorType: r.ActorType, At: r.At, Metadata: r.Metadata}
		if r.ActorID != nil {
			e.ActorID = *r.ActorID
		}
		if r.ResourceType != nil {
			e.ResourceType = *r.ResourceType
		}
		if r.ResourceID != nil {
			e.ResourceID = *r.ResourceID
		}
		out = append(out, e)
	}
	return out, nil
}
