package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateWorkOrder inserts a new work order in PENDING status, along with its
// explicit agent targets, inside tx. Passing a nil tx opens and commits a
// new transaction, so callers that only need the work order itself (no
// accompanying audit/event writes) can call this standalone; callers that
// need the creation, its audit record, and its emitted event to commit
// atomically pass their own tx (mirrors CreateDeploymentObject's shape).
func (s *Store) CreateWorkOrder(ctx context.Context, tx pgx.Tx, workType, yamlContent string, maxAttempts int, selector *Selector, explicitAgentIDs []string) (*WorkOrder, error) {
	selJSON, err := json.Marshal(selector)
	if err != nil {
		return nil, Invalid("CreateWorkOrder", err)
	}

	create := func(ctx context.Context, tx pgx.Tx) (*WorkOrder, error) {
		row := tx.QueryRow(ctx, `
			INSERT INTO work_orders (work_type, yaml_content, max_attempts, selector)
			VALUES ($1, $2, $3, $4)
			RETURNING id, work_type, yaml_content, status, attempt, max_attempts, next_attempt_at,
				claimed_by, claimed_at, completed_at, result_message, selector, created_at, updated_at, deleted_at
		`, workType, yamlContent, maxAttempts, selJSON)
		wo, err := scanWorkOrder(row)
		if err != nil {
			return nil, classify("CreateWorkOrder", err)
		}
		for _, agentID := range explicitAgentIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO work_order_targets (work_order_id, agent_id) VALUES ($1, $2)`, wo.ID, agentID); err != nil {
				return nil, classify("CreateWorkOrder", err)
			}
		}
		wo.ExplicitAgents = explicitAgentIDs
		return wo, nil
	}

	if tx != nil {
		return create(ctx, tx)
	}
	var wo *WorkOrder
	err = s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		wo, err = create(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// GetWorkOrder fetches a live work order by id.
func (s *Store) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, work_type, yaml_content, status, attempt, max_attempts, next_attempt_at,
			claimed_by, claimed_at, completed_at, result_message, selector, created_at, updated_at, deleted_at
		FROM work_orders WHERE id = $1 AND deleted_at IS NULL
	`, id)
	wo, err := scanWorkOrder(row)
	if err != nil {
		return nil, classify("GetWorkOrder", err)
	}
	return wo, nil
}

// ListWorkOrders returns every live work order.
func (s *Store) ListWorkOrders(ctx context.Context) ([]*WorkOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_type, yaml_content, status, attempt, max_attempts, next_attempt_at,
			claimed_by, claimed_at, completed_at, result_message, selector, created_at, updated_at, deleted_at
		FROM work_orders WHERE deleted_at IS NULL ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, classify("ListWorkOrders", err)
	}
	defer rows.Close()
	var out []*WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, classify("ListWorkOrders", err)
		}
		out = append(out, wo)
	}
	return out, classify("ListWorkOrders", rows.Err())
}

// EligibleWorkOrdersExplicit returns PENDING, due work orders explicitly
// targeted at agentID (spec.md §4.4 eligibility rule, explicit half).
func (s *Store) EligibleWorkOrdersExplicit(ctx context.Context, agentID string) ([]*WorkOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wo.id, wo.work_type, wo.yaml_content, wo.status, wo.attempt, wo.max_attempts, wo.next_attempt_at,
			wo.claimed_by, wo.claimed_at, wo.completed_at, wo.result_message, wo.selector, wo.created_at, wo.updated_at, wo.deleted_at
		FROM work_orders wo
		JOIN work_order_targets t ON t.work_order_id = wo.id
		WHERE t.agent_id = $1 AND wo.deleted_at IS NULL AND wo.status = 'PENDING'
		  AND (wo.next_attempt_at IS NULL OR wo.next_attempt_at <= now())
	`, agentID)
	if err != nil {
		return nil, classify("EligibleWorkOrdersExplicit", err)
	}
	defer rows.Close()
	var out []*WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, classify("EligibleWorkOrdersExplicit", err)
		}
		out = append(out, wo)
	}
	return out, classify("EligibleWorkOrdersExplicit", rows.Err())
}

// EligibleWorkOrdersWithSelector returns PENDING, due work orders that carry
// a label/annotation selector, for Go-side evaluation against an agent's
// current labels (the selector half of spec.md §4.4 eligibility).
func (s *Store) EligibleWorkOrdersWithSelector(ctx context.Context) ([]*WorkOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_type, yaml_content, status, attempt, max_attempts, next_attempt_at,
			claimed_by, claimed_at, completed_at, result_message, selector, created_at, updated_at, deleted_at
		FROM work_orders
		WHERE deleted_at IS NULL AND status = 'PENDING' AND selector IS NOT NULL
		  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
	`)
	if err != nil {
		return nil, classify("EligibleWorkOrdersWithSelector", err)
	}
	defer rows.Close()
	var out []*WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, classify("EligibleWorkOrdersWithSelector", err)
		}
		out = append(out, wo)
	}
	return out, classify("EligibleWorkOrdersWithSelector", rows.Err())
}

// ClaimWorkOrder performs the atomic PENDING -> CLAIMED transition of
// spec.md §4.4. Zero rows affected means another agent won the race or the
// order is no longer PENDING; the caller reports that as Conflict.
func (s *Store) ClaimWorkOrder(ctx context.Context, id, agentID string) (*WorkOrder, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE work_orders SET status = 'CLAIMED', claimed_by = $1, claimed_at = now(), updated_at = now()
		WHERE id = $2 AND status = 'PENDING' AND deleted_at IS NULL
		RETURNING id, work_type, yaml_content, status, attempt, max_attempts, next_attempt_at,
			claimed_by, claimed_at, completed_at, result_message, selector, created_at, updated_at, deleted_at
	`, agentID, id)
	wo, err := scanWorkOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, Conflict("ClaimWorkOrder", err)
		}
		return nil, classify("ClaimWorkOrder", err)
	}
	return wo, nil
}

// CompleteWorkOrderSuccess transitions a work order to SUCCEEDED and writes
// the matching WorkOrderLog row in the same transaction (P6).
func (s *Store) CompleteWorkOrderSuccess(ctx context.Context, id, message string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var attempt int
		row := tx.QueryRow(ctx, `
			UPDATE work_orders SET status = 'SUCCEEDED', completed_at = now(), updated_at = now(), result_message = $1
			WHERE id = $2 AND deleted_at IS NULL
			RETURNING attempt
		`, message, id)
		if err := row.Scan(&attempt); err != nil {
			return classify("CompleteWorkOrderSuccess", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO work_order_logs (work_order_id, final_status, message, attempt) VALUES ($1, 'SUCCEEDED', $2, $3)
		`, id, message, attempt)
		return classify("CompleteWorkOrderSuccess", err)
	})
}

// FailWorkOrderTerminal transitions a work order to FAILED and writes the
// matching WorkOrderLog row (P6), used when the agent reports a
// non-retryable failure or attempt has reached max_attempts.
func (s *Store) FailWorkOrderTerminal(ctx context.Context, id, message string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var attempt int
		row := tx.QueryRow(ctx, `
			UPDATE work_orders SET status = 'FAILED', completed_at = now(), updated_at = now(), result_message = $1
			WHERE id = $2 AND deleted_at IS NULL
			RETURNING attempt
		`, message, id)
		if err := row.Scan(&attempt); err != nil {
			return classify("FailWorkOrderTerminal", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO work_order_logs (work_order_id, final_status, message, attempt) VALUES ($1, 'FAILED', $2, $3)
		`, id, message, attempt)
		return classify("FailWorkOrderTerminal", err)
	})
}

// ScheduleWorkOrderRetry transitions a work order to RETRY_PENDING,
// incrementing attempt and clearing claim fields, per spec.md §4.4's retry
// policy. nextAttemptAt is computed by the caller (internal/workorder).
func (s *Store) ScheduleWorkOrderRetry(ctx context.Context, id, message string, nextAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_orders
		SET status = 'RETRY_PENDING', attempt = attempt + 1, claimed_by = NULL, claimed_at = NULL,
			next_attempt_at = $1, result_message = $2, updated_at = now()
		WHERE id = $3 AND deleted_at IS NULL
	`, nextAttemptAt, message, id)
	if err != nil {
		return classify("ScheduleWorkOrderRetry", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("ScheduleWorkOrderRetry", pgx.ErrNoRows)
	}
	return nil
}

// SweepRetryPending transitions RETRY_PENDING work orders whose
// next_attempt_at has passed back to PENDING, per spec.md §4.4's background
// sweep.
func (s *Store) SweepRetryPending(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_orders SET status = 'PENDING', updated_at = now()
		WHERE status = 'RETRY_PENDING' AND next_attempt_at <= now() AND deleted_at IS NULL
	`)
	if err != nil {
		return 0, classify("SweepRetryPending", err)
	}
	return tag.RowsAffected(), nil
}

// CancelWorkOrder performs the admin-cancel soft transition: PENDING or
// RETRY_PENDING -> CANCELLED. CLAIMED/RUNNING orders are left alone per
// spec.md §4.4 (cooperative cancellation, not preemption).
func (s *Store) CancelWorkOrder(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var attempt int
		row := tx.QueryRow(ctx, `
			UPDATE work_orders SET status = 'CANCELLED', completed_at = now(), updated_at = now()
			WHERE id = $1 AND status IN ('PENDING', 'RETRY_PENDING') AND deleted_at IS NULL
			RETURNING attempt
		`, id)
		if err := row.Scan(&attempt); err != nil {
			return classify("CancelWorkOrder", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO work_order_logs (work_order_id, final_status, message, attempt) VALUES ($1, 'CANCELLED', NULL, $2)
		`, id, attempt)
		return classify("CancelWorkOrder", err)
	})
}

// ListWorkOrderLogs returns the full log history, most recent first.
func (s *Store) ListWorkOrderLogs(ctx context.Context) ([]*WorkOrderLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_order_id, final_status, message, attempt, recorded_at FROM work_order_logs ORDER BY recorded_at DESC
	`)
	if err != nil {
		return nil, classify("ListWorkOrderLogs", err)
	}
	defer rows.Close()
	var out []*WorkOrderLog
	for rows.Next() {
		var l WorkOrderLog
		if err := rows.Scan(&l.ID, &l.WorkOrderID, &l.FinalStatus, &l.Message, &l.Attempt, &l.RecordedAt); err != nil {
			return nil, classify("ListWorkOrderLogs", err)
		}
		out = append(out, &l)
	}
	return out, classify("ListWorkOrderLogs", rows.Err())
}

// GetWorkOrderLog returns the log rows for a single work order.
func (s *Store) GetWorkOrderLog(ctx context.Context, workOrderID string) ([]*WorkOrderLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_order_id, final_status, message, attempt, recorded_at
		FROM work_order_logs WHERE work_order_id = $1 ORDER BY recorded_at DESC
	`, workOrderID)
	if err != nil {
		return nil, classify("GetWorkOrderLog", err)
	}
	defer rows.Close()
	var out []*WorkOrderLog
	for rows.Next() {
		var l WorkOrderLog
		if err := rows.Scan(&l.ID, &l.WorkOrderID, &l.FinalStatus, &l.Message, &l.Attempt, &l.RecordedAt); err != nil {
			return nil, classify("GetWorkOrderLog", err)
		}
		out = append(out, &l)
	}
	return out, classify("GetWorkOrderLog", rows.Err())
}

func scanWorkOrder(row pgx.Row) (*WorkOrder, error) {
	var wo WorkOrder
	var selJSON []byte
	var deleted *time.Time
	if err := row.Scan(&wo.ID, &wo.WorkType, &wo.YAMLContent, &wo.Status, &wo.Attempt, &wo.MaxAttempts, &wo.NextAttemptAt,
		&wo.ClaimedBy, &wo.ClaimedAt, &wo.CompletedAt, &wo.ResultMessage, &selJSON, &wo.CreatedAt, &wo.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	wo.DeletedAt = deleted
	if len(selJSON) > 0 {
		var sel Selector
		if err := json.Unmarshal(selJSON, &sel); err == nil && !sel.Empty() {
			wo.Selector = &sel
		}
	}
	return &wo, nil
}
