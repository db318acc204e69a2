package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateStackTemplate inserts a new, versioned stack template
// (SPEC_FULL.md §6 supplemented feature).
func (s *Store) CreateStackTemplate(ctx context.Context, name, templateText string, paramSchema []byte, selector *Selector) (*StackTemplate, error) {
	selJSON, err := json.Marshal(selector)
	if err != nil {
		return nil, Invalid("CreateStackTemplate", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO stack_templates (name, template_text, param_schema, version, selector)
		VALUES ($1, $2, $3, 1, $4)
		RETURNING id, name, template_text, param_schema, version, selector, created_at, updated_at, deleted_at
	`, name, templateText, paramSchema, selJSON)
	t, err := scanStackTemplate(row)
	if err != nil {
		return nil, classify("CreateStackTemplate", err)
	}
	return t, nil
}

// GetStackTemplate fetches a live template by id.
func (s *Store) GetStackTemplate(ctx context.Context, id string) (*StackTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, template_text, param_schema, version, selector, created_at, updated_at, deleted_at
		FROM stack_templates WHERE id = $1 AND deleted_at IS NULL
	`, id)
	t, err := scanStackTemplate(row)
	if err != nil {
		return nil, classify("GetStackTemplate", err)
	}
	return t, nil
}

// ListStackTemplates returns every live template.
func (s *Store) ListStackTemplates(ctx context.Context) ([]*StackTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, template_text, param_schema, version, selector, created_at, updated_at, deleted_at
		FROM stack_templates WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, classify("ListStackTemplates", err)
	}
	defer rows.Close()
	var out []*StackTemplate
	for rows.Next() {
		t, err := scanStackTemplate(rows)
		if err != nil {
			return nil, classify("ListStackTemplates", err)
		}
		out = append(out, t)
	}
	return out, classify("ListStackTemplates", rows.Err())
}

// UpdateStackTemplate updates the template body/schema/selector and bumps
// version, so already-rendered deployment objects keep their recorded
// template_version (spec.md §9 supplemented rendering provenance).
func (s *Store) UpdateStackTemplate(ctx context.Context, id, templateText string, paramSchema []byte, selector *Selector) (*StackTemplate, error) {
	selJSON, err := json.Marshal(selector)
	if err != nil {
		return nil, Invalid("UpdateStackTemplate", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE stack_templates
		SET template_text = $1, param_schema = $2, selector = $3, version = version + 1, updated_at = now()
		WHERE id = $4 AND deleted_at IS NULL
		RETURNING id, name, template_text, param_schema, version, selector, created_at, updated_at, deleted_at
	`, templateText, paramSchema, selJSON, id)
	t, err := scanStackTemplate(row)
	if err != nil {
		return nil, classify("UpdateStackTemplate", err)
	}
	return t, nil
}

// SoftDeleteStackTemplate marks a template deleted.
func (s *Store) SoftDeleteStackTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE stack_templates SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return classify("SoftDeleteStackTemplate", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SoftDeleteStackTemplate", pgx.ErrNoRows)
	}
	return nil
}

// CreateTemplateTarget records that templateID should render onto stackID,
// mirroring agent_targets' explicit-assignment shape.
func (s *Store) CreateTemplateTarget(ctx context.Context, templateID, stackID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO template_targets (template_id, stack_id) VALUES ($1, $2)`, templateID, stackID)
	return classify("CreateTemplateTarget", err)
}

// DeleteTemplateTarget removes a template/stack association.
func (s *Store) DeleteTemplateTarget(ctx context.Context, templateID, stackID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM template_targets WHERE template_id = $1 AND stack_id = $2`, templateID, stackID)
	return classify("DeleteTemplateTarget", err)
}

// StackIDsForTemplate returns the stacks a template is targeted at.
func (s *Store) StackIDsForTemplate(ctx context.Context, templateID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stack_id FROM template_targets WHERE template_id = $1`, templateID)
	if err != nil {
		return nil, classify("StackIDsForTemplate", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("StackIDsForTemplate", err)
		}
		out = append(out, id)
	}
	return out, classify("StackIDsForTemplate", rows.Err())
}

// RecordRenderedDeploymentObject links a newly created deployment object
// back to the template/version/parameters that rendered it, for
// provenance (SPEC_FULL.md §6).
func (s *Store) RecordRenderedDeploymentObject(ctx context.Context, tx pgx.Tx, deploymentObjectID, templateID string, templateVersion int, renderedParameters []byte) error {
	_, err := s.conn(tx).Exec(ctx, `
		INSERT INTO rendered_deployment_objects (deployment_object_id, template_id, template_version, rendered_parameters)
		VALUES ($1, $2, $3, $4)
	`, deploymentObjectID, templateID, templateVersion, renderedParameters)
	return classify("RecordRenderedDeploymentObject", err)
}

// GetRenderedDeploymentObject returns the rendering provenance for a
// deployment object, if it was produced from a template.
func (s *Store) GetRenderedDeploymentObject(ctx context.Context, deploymentObjectID string) (*RenderedDeploymentObject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT deployment_object_id, template_id, template_version, rendered_parameters, created_at
		FROM rendered_deployment_objects WHERE deployment_object_id = $1
	`, deploymentObjectID)
	var r RenderedDeploymentObject
	if err := row.Scan(&r.DeploymentObjectID, &r.TemplateID, &r.TemplateVersion, &r.RenderedParameters, &r.CreatedAt); err != nil {
		return nil, classify("GetRenderedDeploymentObject", err)
	}
	return &r, nil
}

func scanStackTemplate(row pgx.Row) (*StackTemplate, error) {
	var t StackTemplate
	var selJSON []byte
	var deleted *time.Time
	if err := row.Scan(&t.ID, &t.Name, &t.TemplateText, &t.ParamSchema, &t.Version, &selJSON, &t.CreatedAt, &t.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	t.DeletedAt = deleted
	if len(selJSON) > 0 {
		var sel Selector
		if err := json.Unmarshal(selJSON, &sel); err == nil && !sel.Empty() {
			t.Selector = &sel
		}
	}
	return &t, nil
}
