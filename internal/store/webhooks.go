package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateWebhookSubscription inserts a subscription. urlCiphertext/urlNonce
// and authCiphertext/authNonce are opaque ChaCha20-Poly1305 output produced
// by internal/webhook; the store never sees plaintext URLs or auth headers
// (spec.md §9.3).
func (s *Store) CreateWebhookSubscription(ctx context.Context, sub *WebhookSubscription) (*WebhookSubscription, error) {
	targetLabels, err := json.Marshal(sub.TargetLabels)
	if err != nil {
		return nil, Invalid("CreateWebhookSubscription", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions
			(name, url_ciphertext, url_nonce, auth_ciphertext, auth_nonce, event_types, filters, target_labels,
			 secret, enabled, max_retries, timeout_seconds, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, name, url_ciphertext, url_nonce, auth_ciphertext, auth_nonce, event_types, filters, target_labels,
			secret, enabled, max_retries, timeout_seconds, created_by, created_at, updated_at, deleted_at
	`, sub.Name, sub.URLCiphertext, sub.URLNonce, sub.AuthCiphertext, sub.AuthNonce, sub.EventTypes, sub.Filters, targetLabels,
		sub.Secret, sub.Enabled, sub.MaxRetries, sub.TimeoutSeconds, sub.CreatedBy)
	out, err := scanWebhookSubscription(row)
	if err != nil {
		return nil, classify("CreateWebhookSubscription", err)
	}
	return out, nil
}

// GetWebhookSubscription fetches a live subscription by id.
func (s *Store) GetWebhookSubscription(ctx context.Context, id string) (*WebhookSubscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, url_ciphertext, url_nonce, auth_ciphertext, auth_nonce, event_types, filters, target_labels,
			secret, enabled, max_retries, timeout_seconds, created_by, created_at, updated_at, deleted_at
		FROM webhook_subscriptions WHERE id = $1 AND deleted_at IS NULL
	`, id)
	out, err := scanWebhookSubscription(row)
	if err != nil {
		return nil, classify("GetWebhookSubscription", err)
	}
	return out, nil
}

// ListEnabledWebhookSubscriptions returns every live, enabled subscription,
// used by event emission to find pattern matches (spec.md §4.5 step 1).
func (s *Store) ListEnabledWebhookSubscriptions(ctx context.Context, tx pgx.Tx) ([]*WebhookSubscription, error) {
	rows, err := s.conn(tx).Query(ctx, `
		SELECT id, name, url_ciphertext, url_nonce, auth_ciphertext, auth_nonce, event_types, filters, target_labels,
			secret, enabled, max_retries, timeout_seconds, created_by, created_at, updated_at, deleted_at
		FROM webhook_subscriptions WHERE enabled = true AND deleted_at IS NULL
	`)
	if err != nil {
		return nil, classify("ListEnabledWebhookSubscriptions", err)
	}
	defer rows.Close()
	var out []*WebhookSubscription
	for rows.Next() {
		sub, err := scanWebhookSubscription(rows)
		if err != nil {
			return nil, classify("ListEnabledWebhookSubscriptions", err)
		}
		out = append(out, sub)
	}
	return out, classify("ListEnabledWebhookSubscriptions", rows.Err())
}

// ListWebhookSubscriptions returns every live subscription (admin listing).
func (s *Store) ListWebhookSubscriptions(ctx context.Context) ([]*WebhookSubscription, error) {
	return s.ListEnabledOrDisabledSubscriptions(ctx)
}

// ListEnabledOrDisabledSubscriptions returns every live subscription
// regardless of enabled state.
func (s *Store) ListEnabledOrDisabledSubscriptions(ctx context.Context) ([]*WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, url_ciphertext, url_nonce, auth_ciphertext, auth_nonce, event_types, filters, target_labels,
			secret, enabled, max_retries, timeout_seconds, created_by, created_at, updated_at, deleted_at
		FROM webhook_subscriptions WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, classify("ListWebhookSubscriptions", err)
	}
	defer rows.Close()
	var out []*WebhookSubscription
	for rows.Next() {
		sub, err := scanWebhookSubscription(rows)
		if err != nil {
			return nil, classify("ListWebhookSubscriptions", err)
		}
		out = append(out, sub)
	}
	return out, classify("ListWebhookSubscriptions", rows.Err())
}

// SoftDeleteWebhookSubscription marks a subscription deleted.
func (s *Store) SoftDeleteWebhookSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_subscriptions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return classify("SoftDeleteWebhookSubscription", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SoftDeleteWebhookSubscription", pgx.ErrNoRows)
	}
	return nil
}

// EnqueueWebhookDelivery inserts a pending delivery row in the caller's
// transaction, so that event emission and delivery enqueue commit atomically
// (spec.md §4.5 step 3).
func (s *Store) EnqueueWebhookDelivery(ctx context.Context, tx pgx.Tx, subscriptionID string, event []byte, targetLabels Labels) (*WebhookDelivery, error) {
	var targetJSON []byte
	var err error
	if targetLabels != nil {
		targetJSON, err = json.Marshal(targetLabels)
		if err != nil {
			return nil, Invalid("EnqueueWebhookDelivery", err)
		}
	}
	row := s.conn(tx).QueryRow(ctx, `
		INSERT INTO webhook_deliveries (subscription_id, event, target_labels)
		VALUES ($1, $2, $3)
		RETURNING id, subscription_id, event, target_labels, status, attempt, next_attempt_at, last_status_code, last_response, created_at, updated_at
	`, subscriptionID, event, targetJSON)
	d, err := scanWebhookDelivery(row)
	if err != nil {
		return nil, classify("EnqueueWebhookDelivery", err)
	}
	return d, nil
}

// ClaimBrokerDeliveries claims up to limit pending or failed_retryable
// broker-delivered deliveries (subscriptions without target_labels) whose
// next_attempt_at is due, transitioning them to in_flight (spec.md §4.5
// broker-delivered drain).
func (s *Store) ClaimBrokerDeliveries(ctx context.Context, limit int) ([]*WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE webhook_deliveries d SET status = 'in_flight', updated_at = now()
		FROM webhook_subscriptions s
		WHERE d.subscription_id = s.id AND s.target_labels IS NULL
		  AND d.status IN ('pending', 'failed_retryable') AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= now())
		  AND d.id IN (
		    SELECT d2.id FROM webhook_deliveries d2
		    JOIN webhook_subscriptions s2 ON s2.id = d2.subscription_id
		    WHERE s2.target_labels IS NULL AND d2.status IN ('pending', 'failed_retryable')
		      AND (d2.next_attempt_at IS NULL OR d2.next_attempt_at <= now())
		    LIMIT $1
		  )
		RETURNING d.id, d.subscription_id, d.event, d.target_labels, d.status, d.attempt, d.next_attempt_at, d.last_status_code, d.last_response, d.created_at, d.updated_at
	`, limit)
	if err != nil {
		return nil, classify("ClaimBrokerDeliveries", err)
	}
	defer rows.Close()
	var out []*WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, classify("ClaimBrokerDeliveries", err)
		}
		out = append(out, d)
	}
	return out, classify("ClaimBrokerDeliveries", rows.Err())
}

// PendingAgentDeliveries returns due pending agent-delivered deliveries
// whose subscription's target_labels are non-null, for Go-side label-overlap
// filtering by the caller (internal/httpapi). It changes no rows; the
// caller marks each delivery it hands out in_flight via MarkDeliveryInFlight.
func (s *Store) PendingAgentDeliveries(ctx context.Context) ([]*WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.subscription_id, d.event, d.target_labels, d.status, d.attempt, d.next_attempt_at, d.last_status_code, d.last_response, d.created_at, d.updated_at
		FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE s.target_labels IS NOT NULL AND d.status = 'pending'
		  AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= now())
	`)
	if err != nil {
		return nil, classify("PendingAgentDeliveries", err)
	}
	defer rows.Close()
	var out []*WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, classify("PendingAgentDeliveries", err)
		}
		out = append(out, d)
	}
	return out, classify("PendingAgentDeliveries", rows.Err())
}

// MarkDeliveryInFlight transitions a single delivery to in_flight.
func (s *Store) MarkDeliveryInFlight(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries SET status = 'in_flight', updated_at = now() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return classify("MarkDeliveryInFlight", err)
	}
	if tag.RowsAffected() == 0 {
		return Conflict("MarkDeliveryInFlight", pgx.ErrNoRows)
	}
	return nil
}

// CompleteDeliverySuccess marks a delivery succeeded, recording the response.
func (s *Store) CompleteDeliverySuccess(ctx context.Context, id string, statusCode int, response string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'succeeded', last_status_code = $1, last_response = $2, updated_at = now()
		WHERE id = $3
	`, statusCode, response, id)
	return classify("CompleteDeliverySuccess", err)
}

// CompleteDeliveryRetryable marks a delivery for retry with the computed
// next_attempt_at, bumping attempt, per spec.md §4.5's backoff rule.
func (s *Store) CompleteDeliveryRetryable(ctx context.Context, id string, statusCode int, response string, nextAttemptAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'failed_retryable', attempt = attempt + 1,
			last_status_code = $1, last_response = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $4
	`, statusCode, response, nextAttemptAt, id)
	return classify("CompleteDeliveryRetryable", err)
}

// CompleteDeliveryTerminal marks a delivery permanently failed.
func (s *Store) CompleteDeliveryTerminal(ctx context.Context, id string, statusCode int, response string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = 'failed_terminal', last_status_code = $1, last_response = $2, updated_at = now()
		WHERE id = $3
	`, statusCode, response, id)
	return classify("CompleteDeliveryTerminal", err)
}

// CleanupDeliveries deletes terminal deliveries older than maxAge, per the
// webhook-delivery cleanup background task of spec.md §5.
func (s *Store) CleanupDeliveries(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries WHERE status IN ('succeeded', 'failed_terminal') AND updated_at < now() - $1
	`, maxAge)
	if err != nil {
		return 0, classify("CleanupDeliveries", err)
	}
	return tag.RowsAffected(), nil
}

func scanWebhookSubscription(row pgx.Row) (*WebhookSubscription, error) {
	var sub WebhookSubscription
	var targetJSON []byte
	var deleted *time.Time
	if err := row.Scan(&sub.ID, &sub.Name, &sub.URLCiphertext, &sub.URLNonce, &sub.AuthCiphertext, &sub.AuthNonce,
		&sub.EventTypes, &sub.Filters, &targetJSON, &sub.Secret, &sub.Enabled, &sub.MaxRetries, &sub.TimeoutSeconds,
		&sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	sub.DeletedAt = deleted
	if len(targetJSON) > 0 {
		var labels Labels
		if err := json.Unmarshal(targetJSON, &labels); err == nil {
			sub.TargetLabels = labels
		}
	}
	return &sub, nil
}

func scanWebhookDelivery(row pgx.Row) (*WebhookDelivery, error) {
	var d WebhookDelivery
	var targetJSON []byte
	if err := row.Scan(&d.ID, &d.SubscriptionID, &d.Event, &targetJSON, &d.Status, &d.Attempt, &d.NextAttemptAt,
		&d.LastStatusCode, &d.LastResponse, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(targetJSON) > 0 {
		var labels Labels
		if err := json.Unmarshal(targetJSON, &labels); err == nil {
			d.TargetLabels = labels
		}
	}
	return &d, nil
}
