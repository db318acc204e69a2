package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertDeploymentHealth records an agent's current health assessment for a
// deployment object; the most recent checked_at wins (spec.md §3/§4.7).
func (s *Store) UpsertDeploymentHealth(ctx context.Context, agentID, deploymentObjectID, status, summary string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_health (agent_id, deployment_object_id, status, summary, checked_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_id, deployment_object_id) DO UPDATE
		SET status = EXCLUDED.status, summary = EXCLUDED.summary, checked_at = EXCLUDED.checked_at
		WHERE deployment_health.checked_at <= EXCLUDED.checked_at
	`, agentID, deploymentObjectID, status, summary)
	return classify("UpsertDeploymentHealth", err)
}

// GetDeploymentHealth returns the health row for an (agent, deployment
// object) pair, or nil if none exists yet.
func (s *Store) GetDeploymentHealth(ctx context.Context, agentID, deploymentObjectID string) (*DeploymentHealth, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT agent_id, deployment_object_id, status, summary, checked_at
		FROM deployment_health WHERE agent_id = $1 AND deployment_object_id = $2
	`, agentID, deploymentObjectID)
	var h DeploymentHealth
	if err := row.Scan(&h.AgentID, &h.DeploymentObjectID, &h.Status, &h.Summary, &h.CheckedAt); err != nil {
		return nil, classify("GetDeploymentHealth", err)
	}
	return &h, nil
}

// DeploymentHealthForStack returns every agent's health row for each live
// deployment object of a stack, unaggregated, as input to the per-stack
// aggregation of spec.md §4.7.
func (s *Store) DeploymentHealthForStack(ctx context.Context, stackID string) ([]*DeploymentHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.agent_id, h.deployment_object_id, h.status, h.summary, h.checked_at
		FROM deployment_health h
		JOIN deployment_objects d ON d.id = h.deployment_object_id
		WHERE d.stack_id = $1 AND d.deleted_at IS NULL
	`, stackID)
	if err != nil {
		return nil, classify("DeploymentHealthForStack", err)
	}
	defer rows.Close()
	var out []*DeploymentHealth
	for rows.Next() {
		var h DeploymentHealth
		if err := rows.Scan(&h.AgentID, &h.DeploymentObjectID, &h.Status, &h.Summary, &h.CheckedAt); err != nil {
			return nil, classify("DeploymentHealthForStack", err)
		}
		out = append(out, &h)
	}
	return out, classify("DeploymentHealthForStack", rows.Err())
}

// ClearHealthForStack marks every health row for a stack's deployment
// objects as unknown, used after a deletion marker drains the stack
// (scenario 3 of spec.md §8).
func (s *Store) ClearHealthForStack(ctx context.Context, stackID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deployment_health h SET status = 'unknown', summary = '', checked_at = now()
		FROM deployment_objects d
		WHERE h.deployment_object_id = d.id AND d.stack_id = $1
	`, stackID)
	return classify("ClearHealthForStack", err)
}

// CreateDiagnosticRequest inserts a new diagnostic request targeting
// (agentID, deploymentObjectID) with the given time-to-live.
func (s *Store) CreateDiagnosticRequest(ctx context.Context, agentID, deploymentObjectID string, ttl time.Duration) (*DiagnosticRequest, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO diagnostic_requests (agent_id, deployment_object_id, expires_at)
		VALUES ($1, $2, now() + $3)
		RETURNING id, agent_id, deployment_object_id, status, expires_at, created_at, updated_at
	`, agentID, deploymentObjectID, ttl)
	var d DiagnosticRequest
	if err := row.Scan(&d.ID, &d.AgentID, &d.DeploymentObjectID, &d.Status, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, classify("CreateDiagnosticRequest", err)
	}
	return &d, nil
}

// PendingDiagnosticRequestsForAgent returns unexpired pending requests for
// an agent to drain (spec.md §4.6 step 7).
func (s *Store) PendingDiagnosticRequestsForAgent(ctx context.Context, agentID string) ([]*DiagnosticRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, deployment_object_id, status, expires_at, created_at, updated_at
		FROM diagnostic_requests WHERE agent_id = $1 AND status = 'pending' AND expires_at > now()
	`, agentID)
	if err != nil {
		return nil, classify("PendingDiagnosticRequestsForAgent", err)
	}
	defer rows.Close()
	var out []*DiagnosticRequest
	for rows.Next() {
		var d DiagnosticRequest
		if err := rows.Scan(&d.ID, &d.AgentID, &d.DeploymentObjectID, &d.Status, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, classify("PendingDiagnosticRequestsForAgent", err)
		}
		out = append(out, &d)
	}
	return out, classify("PendingDiagnosticRequestsForAgent", rows.Err())
}

// ClaimDiagnosticRequest transitions pending -> claimed atomically.
func (s *Store) ClaimDiagnosticRequest(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE diagnostic_requests SET status = 'claimed', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return classify("ClaimDiagnosticRequest", err)
	}
	if tag.RowsAffected() == 0 {
		return Conflict("ClaimDiagnosticRequest", pgx.ErrNoRows)
	}
	return nil
}

// CompleteDiagnosticRequest records the result and marks the request
// completed or failed.
func (s *Store) CompleteDiagnosticRequest(ctx context.Context, id string, success bool, podStatuses, events []byte, logTail string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		status := DiagnosticCompleted
		if !success {
			status = DiagnosticFailed
		}
		if _, err := tx.Exec(ctx, `UPDATE diagnostic_requests SET status = $1, updated_at = now() WHERE id = $2`, status, id); err != nil {
			return classify("CompleteDiagnosticRequest", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO diagnostic_results (request_id, pod_statuses, events, log_tail) VALUES ($1, $2, $3, $4)
			ON CONFLICT (request_id) DO UPDATE SET pod_statuses = EXCLUDED.pod_statuses, events = EXCLUDED.events, log_tail = EXCLUDED.log_tail
		`, id, podStatuses, events, logTail)
		return classify("CompleteDiagnosticRequest", err)
	})
}

// ExpireDiagnosticRequests marks pending requests whose expires_at has
// passed as expired, per spec.md §4.7's sweeper.
func (s *Store) ExpireDiagnosticRequests(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE diagnostic_requests SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND expires_at < now()
	`)
	if err != nil {
		return 0, classify("ExpireDiagnosticRequests", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupDiagnosticRequests deletes terminal diagnostic requests older than
// maxAge, per spec.md §4.7's cleanup.
func (s *Store) CleanupDiagnosticRequests(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM diagnostic_requests
		WHERE status IN ('completed', 'failed', 'expired') AND updated_at < now() - $1
	`, maxAge)
	if err != nil {
		return 0, classify("CleanupDiagnosticRequests", err)
	}
	return tag.RowsAffected(), nil
}
