package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateAgent inserts a new agent with the given name/cluster and PAK hash.
func (s *Store) CreateAgent(ctx context.Context, name, clusterName, pakHash string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (name, cluster_name, pak_hash, status) VALUES ($1, $2, $3, 'INACTIVE')
		RETURNING id, name, cluster_name, status, last_heartbeat, pak_hash, created_at, updated_at, deleted_at
	`, name, clusterName, pakHash)
	a, err := scanAgent(row)
	if err != nil {
		return nil, classify("CreateAgent", err)
	}
	return a, nil
}

// GetAgent fetches a live agent by id, including its labels/annotations.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cluster_name, status, last_heartbeat, pak_hash, created_at, updated_at, deleted_at
		FROM agents WHERE id = $1 AND deleted_at IS NULL
	`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, classify("GetAgent", err)
	}
	if err := s.loadAgentLabels(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAgentByIdentity looks an agent up by (name, cluster_name), used by the
// agent reconciler's identity step (spec.md §4.6 step 3).
func (s *Store) GetAgentByIdentity(ctx context.Context, name, clusterName string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cluster_name, status, last_heartbeat, pak_hash, created_at, updated_at, deleted_at
		FROM agents WHERE name = $1 AND cluster_name = $2 AND deleted_at IS NULL
	`, name, clusterName)
	a, err := scanAgent(row)
	if err != nil {
		return nil, classify("GetAgentByIdentity", err)
	}
	return a, nil
}

// ListLiveAgents returns every non-deleted agent, used by the auth resolver
// (spec.md §4.2 step 2). The liveness sweeper uses MarkUnreachable instead.
func (s *Store) ListLiveAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cluster_name, status, last_heartbeat, pak_hash, created_at, updated_at, deleted_at
		FROM agents WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, classify("ListLiveAgents", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, classify("ListLiveAgents", err)
		}
		out = append(out, a)
	}
	return out, classify("ListLiveAgents", rows.Err())
}

// Heartbeat updates last_heartbeat to now and promotes INACTIVE -> ACTIVE.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET last_heartbeat = now(), updated_at = now(),
			status = CASE WHEN status = 'INACTIVE' THEN 'ACTIVE' ELSE status END
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return classify("Heartbeat", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("Heartbeat", pgx.ErrNoRows)
	}
	return nil
}

// MarkUnreachable transitions every ACTIVE agent whose last_heartbeat is
// older than cutoff to UNREACHABLE. Called by the agent-liveness sweeper.
func (s *Store) MarkUnreachable(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = 'UNREACHABLE', updated_at = now()
		WHERE status = 'ACTIVE' AND deleted_at IS NULL
		  AND (last_heartbeat IS NULL OR last_heartbeat < $1)
	`, cutoff)
	if err != nil {
		return 0, classify("MarkUnreachable", err)
	}
	return tag.RowsAffected(), nil
}

// SetAgentPAKHash rotates an agent's PAK hash.
func (s *Store) SetAgentPAKHash(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET pak_hash = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`, hash, id)
	if err != nil {
		return classify("SetAgentPAKHash", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SetAgentPAKHash", pgx.ErrNoRows)
	}
	return nil
}

// SoftDeleteAgent marks an agent deleted; does not cascade, and the row
// stays in the table.
func (s *Store) SoftDeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return classify("SoftDeleteAgent", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SoftDeleteAgent", pgx.ErrNoRows)
	}
	return nil
}

// SetAgentLabels replaces an agent's label set (key -> []values). Rejects
// the whole set (KindInvalid) if any key or value is empty, exceeds 64
// characters, or contains whitespace, per spec.md §7.
func (s *Store) SetAgentLabels(ctx context.Context, id string, labels Labels) error {
	if err := validateLabels(labels); err != nil {
		return Invalid("SetAgentLabels", err)
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM agent_labels WHERE agent_id = $1`, id); err != nil {
			return classify("SetAgentLabels", err)
		}
		for key, values := range labels {
			for _, v := range values {
				if _, err := tx.Exec(ctx, `INSERT INTO agent_labels (agent_id, key, value) VALUES ($1,$2,$3)`, id, key, v); err != nil {
					return classify("SetAgentLabels", err)
				}
			}
		}
		return nil
	})
}

// SetAgentAnnotations replaces an agent's annotation map.
func (s *Store) SetAgentAnnotations(ctx context.Context, id string, ann Annotations) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM agent_annotations WHERE agent_id = $1`, id); err != nil {
			return classify("SetAgentAnnotations", err)
		}
		for key, v := range ann {
			if _, err := tx.Exec(ctx, `INSERT INTO agent_annotations (agent_id, key, value) VALUES ($1,$2,$3)`, id, key, v); err != nil {
				return classify("SetAgentAnnotations", err)
			}
		}
		return nil
	})
}

func (s *Store) loadAgentLabels(ctx context.Context, a *Agent) error {
	labels := Labels{}
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM agent_labels WHERE agent_id = $1`, a.ID)
	if err != nil {
		return classify("loadAgentLabels", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return classify("loadAgentLabels", err)
		}
		labels[k] = append(labels[k], v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("loadAgentLabels", err)
	}
	a.Labels = labels

	ann := Annotations{}
	rows2, err := s.pool.Query(ctx, `SELECT key, value FROM agent_annotations WHERE agent_id = $1`, a.ID)
	if err != nil {
		return classify("loadAgentLabels", err)
	}
	for rows2.Next() {
		var k, v string
		if err := rows2.Scan(&k, &v); err != nil {
			rows2.Close()
			return classify("loadAgentLabels", err)
		}
		ann[k] = v
	}
	rows2.Close()
	a.Annotations = ann
	return rows2.Err()
}

// AgentLabelsByID fetches the label/annotation state for a set of agents in
// one pass, used by the targeting resolver to avoid per-agent round trips.
func (s *Store) AgentLabelsByID(ctx context.Context, ids []string) (map[string]Labels, map[string]Annotations, error) {
	labelsByAgent := map[string]Labels{}
	annByAgent := map[string]Annotations{}
	if len(ids) == 0 {
		return labelsByAgent, annByAgent, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT agent_id, key, value FROM agent_labels WHERE agent_id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, classify("AgentLabelsByID", err)
	}
	for rows.Next() {
		var agentID, k, v string
		if err := rows.Scan(&agentID, &k, &v); err != nil {
			rows.Close()
			return nil, nil, classify("AgentLabelsByID", err)
		}
		if labelsByAgent[agentID] == nil {
			labelsByAgent[agentID] = Labels{}
		}
		labelsByAgent[agentID][k] = append(labelsByAgent[agentID][k], v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, classify("AgentLabelsByID", err)
	}

	rows2, err := s.pool.Query(ctx, `SELECT agent_id, key, value FROM agent_annotations WHERE agent_id = ANY($1)`, ids)
	if err != nil {
		return nil, nil, classify("AgentLabelsByID", err)
	}
	for rows2.Next() {
		var agentID, k, v string
		if err := rows2.Scan(&agentID, &k, &v); err != nil {
			rows2.Close()
			return nil, nil, classify("AgentLabelsByID", err)
		}
		if annByAgent[agentID] == nil {
			annByAgent[agentID] = Annotations{}
		}
		annByAgent[agentID][k] = v
	}
	rows2.Close()
	return labelsByAgent, annByAgent, classify("AgentLabelsByID", rows2.Err())
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var lastHeartbeat *time.Time
	var deleted *time.Time
	if err := row.Scan(&a.ID, &a.Name, &a.ClusterName, &a.Status, &lastHeartbeat, &a.PAKHash, &a.CreatedAt, &a.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	a.LastHeartbeat = lastHeartbeat
	a.DeletedAt = deleted
	return &a, nil
}
