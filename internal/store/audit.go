package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// RecordAudit inserts an audit log entry for an admin mutation. Passing a non-nil tx lets callers fold the audit write into the same
// transaction as the mutation it describes.
func (s *Store) RecordAudit(ctx context.Context, tx pgx.Tx, actorType string, actorID *string, action string, resourceType, resourceID *string, metadata []byte) error {
	_, err := s.conn(tx).Exec(ctx, `
		INSERT INTO audit_logs (actor_type, actor_id, action, resource_type, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actorType, actorID, action, resourceType, resourceID, metadata)
	return classify("RecordAudit", err)
}

// AuditLogFilter narrows ListAuditLogs by optional fields; zero values
// (empty string, nil) are treated as "any".
type AuditLogFilter struct {
	ActorType    string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Limit        int
	Offset       int
}

// ListAuditLogs returns audit entries matching filter, newest first, for
// GET /admin/audit-logs.
func (s *Store) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, actor_type, actor_id, action, resource_type, resource_id, metadata, at
		FROM audit_logs
		WHERE ($1 = '' OR actor_type = $1)
		  AND ($2 = '' OR actor_id = $2)
		  AND ($3 = '' OR action = $3)
		  AND ($4 = '' OR resource_type = $4)
		  AND ($5 = '' OR resource_id = $5)
		  AND ($6::timestamptz IS NULL OR at >= $6)
		ORDER BY at DESC
		LIMIT $7 OFFSET $8
	`
	rows, err := s.pool.Query(ctx, query, filter.ActorType, filter.ActorID, filter.Action, filter.ResourceType, filter.ResourceID, filter.Since, limit, filter.Offset)
	if err != nil {
		return nil, classify("ListAuditLogs", err)
	}
	defer rows.Close()
	var out []*AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.ActorType, &a.ActorID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Metadata, &a.At); err != nil {
			return nil, classify("ListAuditLogs", err)
		}
		out = append(out, &a)
	}
	return out, classify("ListAuditLogs", rows.Err())
}
