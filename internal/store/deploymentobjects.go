package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateDeploymentObject inserts a new revision for a stack. The
// sequence_id is assigned by the deployment_object_sequence DEFAULT, giving
// a strictly total order across the whole store (spec.md §3/§9.1). The
// caller is expected to have verified yamlChecksum = sha256hex(yamlContent)
// (internal/deployobj owns that invariant, per spec.md §9: the store does
// not interpret YAML).
func (s *Store) CreateDeploymentObject(ctx context.Context, tx pgx.Tx, stackID, yamlContent, yamlChecksum string, isDeletionMarker bool) (*DeploymentObject, error) {
	row := s.conn(tx).QueryRow(ctx, `
		INSERT INTO deployment_objects (stack_id, yaml_content, yaml_checksum, is_deletion_marker)
		VALUES ($1, $2, $3, $4)
		RETURNING id, stack_id, sequence_id, yaml_content, yaml_checksum, is_deletion_marker, submitted_at, created_at, updated_at, deleted_at
	`, stackID, yamlContent, yamlChecksum, isDeletionMarker)
	d, err := scanDeploymentObject(row)
	if err != nil {
		return nil, classify("CreateDeploymentObject", err)
	}
	return d, nil
}

// GetDeploymentObject fetches a live deployment object by id.
func (s *Store) GetDeploymentObject(ctx context.Context, id string) (*DeploymentObject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, stack_id, sequence_id, yaml_content, yaml_checksum, is_deletion_marker, submitted_at, created_at, updated_at, deleted_at
		FROM deployment_objects WHERE id = $1 AND deleted_at IS NULL
	`, id)
	d, err := scanDeploymentObject(row)
	if err != nil {
		return nil, classify("GetDeploymentObject", err)
	}
	return d, nil
}

// ListDeploymentObjectsForStack returns live deployment objects of a stack,
// ordered ascending by sequence_id (P1/P10).
func (s *Store) ListDeploymentObjectsForStack(ctx context.Context, stackID string) ([]*DeploymentObject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stack_id, sequence_id, yaml_content, yaml_checksum, is_deletion_marker, submitted_at, created_at, updated_at, deleted_at
		FROM deployment_objects WHERE stack_id = $1 AND deleted_at IS NULL ORDER BY sequence_id ASC
	`, stackID)
	if err != nil {
		return nil, classify("ListDeploymentObjectsForStack", err)
	}
	defer rows.Close()
	var out []*DeploymentObject
	for rows.Next() {
		d, err := scanDeploymentObject(rows)
		if err != nil {
			return nil, classify("ListDeploymentObjectsForStack", err)
		}
		out = append(out, d)
	}
	return out, classify("ListDeploymentObjectsForStack", rows.Err())
}

// SoftDeleteDeploymentObject marks a deployment object deleted. Deployment
// objects are never updated in place (spec.md §3); this is their only
// mutation after creation.
func (s *Store) SoftDeleteDeploymentObject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE deployment_objects SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return classify("SoftDeleteDeploymentObject", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SoftDeleteDeploymentObject", pgx.ErrNoRows)
	}
	return nil
}

// ApplicableDeploymentObjects returns, across the given set of stacks the
// agent targets, every live deployment object with no prior successful ack
// from this agent, ordered ascending by sequence_id (spec.md §4.3, P10).
func (s *Store) ApplicableDeploymentObjects(ctx context.Context, agentID string, stackIDs []string) ([]*DeploymentObject, error) {
	if len(stackIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.stack_id, d.sequence_id, d.yaml_content, d.yaml_checksum, d.is_deletion_marker, d.submitted_at, d.created_at, d.updated_at, d.deleted_at
		FROM deployment_objects d
		WHERE d.stack_id = ANY($1) AND d.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM deployment_object_acks a
		    WHERE a.deployment_object_id = d.id AND a.agent_id = $2 AND a.succeeded = true
		  )
		ORDER BY d.sequence_id ASC
	`, stackIDs, agentID)
	if err != nil {
		return nil, classify("ApplicableDeploymentObjects", err)
	}
	defer rows.Close()
	var out []*DeploymentObject
	for rows.Next() {
		d, err := scanDeploymentObject(rows)
		if err != nil {
			return nil, classify("ApplicableDeploymentObjects", err)
		}
		out = append(out, d)
	}
	return out, classify("ApplicableDeploymentObjects", rows.Err())
}

// AckDeploymentObject records an agent's outcome (success or failure) for a
// deployment object; it upserts so a retried report overwrites the prior ack.
func (s *Store) AckDeploymentObject(ctx context.Context, deploymentObjectID, agentID string, succeeded bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_object_acks (deployment_object_id, agent_id, succeeded, acked_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (deployment_object_id, agent_id) DO UPDATE SET succeeded = EXCLUDED.succeeded, acked_at = now()
	`, deploymentObjectID, agentID, succeeded)
	return classify("AckDeploymentObject", err)
}

func scanDeploymentObject(row pgx.Row) (*DeploymentObject, error) {
	var d DeploymentObject
	var deleted *time.Time
	if err := row.Scan(&d.ID, &d.StackID, &d.SequenceID, &d.YAMLContent, &d.YAMLChecksum, &d.IsDeletionMarker, &d.SubmittedAt, &d.CreatedAt, &d.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	d.DeletedAt = deleted
	return &d, nil
}
