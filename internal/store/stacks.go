package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateStack inserts a new stack owned by generatorID. (generator_id, name)
// must be unique among non-deleted stacks per spec.md §4.1.
func (s *Store) CreateStack(ctx context.Context, generatorID, name, description string, selector *Selector) (*Stack, error) {
	selJSON, err := json.Marshal(selector)
	if err != nil {
		return nil, Invalid("CreateStack", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO stacks (name, description, generator_id, selector) VALUES ($1, $2, $3, $4)
		RETURNING id, name, description, generator_id, selector, created_at, updated_at, deleted_at
	`, name, description, generatorID, selJSON)
	st, err := scanStack(row)
	if err != nil {
		return nil, classify("CreateStack", err)
	}
	return st, nil
}

// GetStack fetches a live stack by id.
func (s *Store) GetStack(ctx context.Context, id string) (*Stack, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, generator_id, selector, created_at, updated_at, deleted_at
		FROM stacks WHERE id = $1 AND deleted_at IS NULL
	`, id)
	st, err := scanStack(row)
	if err != nil {
		return nil, classify("GetStack", err)
	}
	return st, nil
}

// GetStackIncludingDeleted fetches a stack regardless of deletion state, for
// audit paths per spec.md §4.1.
func (s *Store) GetStackIncludingDeleted(ctx context.Context, id string) (*Stack, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, generator_id, selector, created_at, updated_at, deleted_at
		FROM stacks WHERE id = $1
	`, id)
	st, err := scanStack(row)
	if err != nil {
		return nil, classify("GetStackIncludingDeleted", err)
	}
	return st, nil
}

// ListStacksByGenerator returns live stacks owned by a generator.
func (s *Store) ListStacksByGenerator(ctx context.Context, generatorID string) ([]*Stack, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, generator_id, selector, created_at, updated_at, deleted_at
		FROM stacks WHERE generator_id = $1 AND deleted_at IS NULL
	`, generatorID)
	if err != nil {
		return nil, classify("ListStacksByGenerator", err)
	}
	defer rows.Close()
	var out []*Stack
	for rows.Next() {
		st, err := scanStack(rows)
		if err != nil {
			return nil, classify("ListStacksByGenerator", err)
		}
		out = append(out, st)
	}
	return out, classify("ListStacksByGenerator", rows.Err())
}

// ListLiveStacks returns every non-deleted stack.
func (s *Store) ListLiveStacks(ctx context.Context) ([]*Stack, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, generator_id, selector, created_at, updated_at, deleted_at
		FROM stacks WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, classify("ListLiveStacks", err)
	}
	defer rows.Close()
	var out []*Stack
	for rows.Next() {
		st, err := scanStack(rows)
		if err != nil {
			return nil, classify("ListLiveStacks", err)
		}
		out = append(out, st)
	}
	return out, classify("ListLiveStacks", rows.Err())
}

// UpdateStack updates description/selector for a live stack.
func (s *Store) UpdateStack(ctx context.Context, id, description string, selector *Selector) (*Stack, error) {
	selJSON, err := json.Marshal(selector)
	if err != nil {
		return nil, Invalid("UpdateStack", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE stacks SET description = $1, selector = $2, updated_at = now()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING id, name, description, generator_id, selector, created_at, updated_at, deleted_at
	`, description, selJSON, id)
	st, err := scanStack(row)
	if err != nil {
		return nil, classify("UpdateStack", err)
	}
	return st, nil
}

// SoftDeleteStack marks a stack deleted.
func (s *Store) SoftDeleteStack(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE stacks SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return classify("SoftDeleteStack", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SoftDeleteStack", pgx.ErrNoRows)
	}
	return nil
}

// PurgeStack hard-deletes a soft-deleted stack and its dependent rows. Only
// reachable via the admin purge operation (SPEC_FULL.md §6).
func (s *Store) PurgeStack(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var deletedAt *time.Time
		if err := tx.QueryRow(ctx, `SELECT deleted_at FROM stacks WHERE id = $1`, id).Scan(&deletedAt); err != nil {
			return classify("PurgeStack", err)
		}
		if deletedAt == nil {
			return Invalid("PurgeStack", pgx.ErrNoRows)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM agent_targets WHERE stack_id = $1`, id); err != nil {
			return classify("PurgeStack", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM deployment_objects WHERE stack_id = $1`, id); err != nil {
			return classify("PurgeStack", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stacks WHERE id = $1`, id); err != nil {
			return classify("PurgeStack", err)
		}
		return nil
	})
}

// CreateAgentTarget records an explicit (agent, stack) assignment.
func (s *Store) CreateAgentTarget(ctx context.Context, agentID, stackID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO agent_targets (agent_id, stack_id) VALUES ($1, $2)`, agentID, stackID)
	return classify("CreateAgentTarget", err)
}

// DeleteAgentTarget removes an explicit assignment.
func (s *Store) DeleteAgentTarget(ctx context.Context, agentID, stackID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_targets WHERE agent_id = $1 AND stack_id = $2`, agentID, stackID)
	return classify("DeleteAgentTarget", err)
}

// ExplicitTargetAgentIDs returns the agent ids explicitly assigned to a stack.
func (s *Store) ExplicitTargetAgentIDs(ctx context.Context, stackID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT agent_id FROM agent_targets WHERE stack_id = $1`, stackID)
	if err != nil {
		return nil, classify("ExplicitTargetAgentIDs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("ExplicitTargetAgentIDs", err)
		}
		out = append(out, id)
	}
	return out, classify("ExplicitTargetAgentIDs", rows.Err())
}

// ExplicitTargetStackIDs returns the stack ids an agent is explicitly
// assigned to.
func (s *Store) ExplicitTargetStackIDs(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stack_id FROM agent_targets WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, classify("ExplicitTargetStackIDs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("ExplicitTargetStackIDs", err)
		}
		out = append(out, id)
	}
	return out, classify("ExplicitTargetStackIDs", rows.Err())
}

// SetStackLabels replaces a stack's label set. Rejects the whole set
// (KindInvalid) if any key or value is empty, exceeds 64 characters, or
// contains whitespace, per spec.md §7.
func (s *Store) SetStackLabels(ctx context.Context, id string, labels Labels) error {
	if err := validateLabels(labels); err != nil {
		return Invalid("SetStackLabels", err)
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stack_labels WHERE stack_id = $1`, id); err != nil {
			return classify("SetStackLabels", err)
		}
		for key, values := range labels {
			for _, v := range values {
				if _, err := tx.Exec(ctx, `INSERT INTO stack_labels (stack_id, key, value) VALUES ($1,$2,$3)`, id, key, v); err != nil {
					return classify("SetStackLabels", err)
				}
			}
		}
		return nil
	})
}

// SetStackAnnotations replaces a stack's annotation map.
func (s *Store) SetStackAnnotations(ctx context.Context, id string, ann Annotations) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stack_annotations WHERE stack_id = $1`, id); err != nil {
			return classify("SetStackAnnotations", err)
		}
		for key, v := range ann {
			if _, err := tx.Exec(ctx, `INSERT INTO stack_annotations (stack_id, key, value) VALUES ($1,$2,$3)`, id, key, v); err != nil {
				return classify("SetStackAnnotations", err)
			}
		}
		return nil
	})
}

// GetStackLabels fetches a stack's label set and annotation map, for
// GET /stacks/:id/labels (SPEC_FULL.md §6 supplemented feature).
func (s *Store) GetStackLabels(ctx context.Context, id string) (Labels, Annotations, error) {
	labels := Labels{}
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM stack_labels WHERE stack_id = $1`, id)
	if err != nil {
		return nil, nil, classify("GetStackLabels", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, nil, classify("GetStackLabels", err)
		}
		labels[k] = append(labels[k], v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, classify("GetStackLabels", err)
	}

	ann := Annotations{}
	rows2, err := s.pool.Query(ctx, `SELECT key, value FROM stack_annotations WHERE stack_id = $1`, id)
	if err != nil {
		return nil, nil, classify("GetStackLabels", err)
	}
	for rows2.Next() {
		var k, v string
		if err := rows2.Scan(&k, &v); err != nil {
			rows2.Close()
			return nil, nil, classify("GetStackLabels", err)
		}
		ann[k] = v
	}
	rows2.Close()
	return labels, ann, classify("GetStackLabels", rows2.Err())
}

func scanStack(row pgx.Row) (*Stack, error) {
	var st Stack
	var selJSON []byte
	var deleted *time.Time
	if err := row.Scan(&st.ID, &st.Name, &st.Description, &st.GeneratorID, &selJSON, &st.CreatedAt, &st.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	st.DeletedAt = deleted
	if len(selJSON) > 0 {
		var sel Selector
		if err := json.Unmarshal(selJSON, &sel); err == nil && !sel.Empty() {
			st.Selector = &sel
		}
	}
	return &st, nil
}
