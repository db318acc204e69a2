package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// schemaVersion is bumped whenever ensureSchema gains a new additive
// statement; kept for parity with the teacher's _schema_version bookkeeping
// even though Postgres's IF NOT EXISTS guards make it non-load-bearing here.
const schemaVersion = 1

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE SEQUENCE IF NOT EXISTS deployment_object_sequence;

CREATE TABLE IF NOT EXISTS _schema_version (
	version    INTEGER NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS admin_role (
	id         BOOLEAN PRIMARY KEY DEFAULT true CHECK (id),
	pak_hash   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS generators (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name           TEXT NOT NULL,
	pak_hash       TEXT,
	last_active_at TIMESTAMPTZ,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at     TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS generators_name_live_idx ON generators (name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS agents (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name           TEXT NOT NULL,
	cluster_name   TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'INACTIVE',
	last_heartbeat TIMESTAMPTZ,
	pak_hash       TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at     TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS agents_name_cluster_live_idx ON agents (name, cluster_name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS agent_labels (
	agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (agent_id, key, value)
);

CREATE TABLE IF NOT EXISTS agent_annotations (
	agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (agent_id, key)
);

CREATE TABLE IF NOT EXISTS stacks (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	generator_id UUID NOT NULL REFERENCES generators(id),
	selector     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS stacks_generator_name_live_idx ON stacks (generator_id, name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS stack_labels (
	stack_id UUID NOT NULL REFERENCES stacks(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (stack_id, key, value)
);

CREATE TABLE IF NOT EXISTS stack_annotations (
	stack_id UUID NOT NULL REFERENCES stacks(id) ON DELETE CASCADE,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (stack_id, key)
);

CREATE TABLE IF NOT EXISTS agent_targets (
	agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	stack_id UUID NOT NULL REFERENCES stacks(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, stack_id)
);

CREATE TABLE IF NOT EXISTS deployment_objects (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	stack_id           UUID NOT NULL REFERENCES stacks(id),
	sequence_id        BIGINT NOT NULL DEFAULT nextval('deployment_object_sequence'),
	yaml_content       TEXT NOT NULL,
	yaml_checksum      TEXT NOT NULL,
	is_deletion_marker BOOLEAN NOT NULL DEFAULT false,
	submitted_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at         TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS deployment_objects_sequence_idx ON deployment_objects (sequence_id);
CREATE INDEX IF NOT EXISTS deployment_objects_stack_idx ON deployment_objects (stack_id, sequence_id);

CREATE TABLE IF NOT EXISTS deployment_object_acks (
	deployment_object_id UUID NOT NULL REFERENCES deployment_objects(id) ON DELETE CASCADE,
	agent_id             UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	succeeded            BOOLEAN NOT NULL,
	acked_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (deployment_object_id, agent_id)
);

CREATE TABLE IF NOT EXISTS stack_templates (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name           TEXT NOT NULL,
	template_text  TEXT NOT NULL,
	param_schema   JSONB NOT NULL DEFAULT '{}',
	version        INTEGER NOT NULL DEFAULT 1,
	selector       JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at     TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS stack_templates_name_live_idx ON stack_templates (name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS template_targets (
	template_id UUID NOT NULL REFERENCES stack_templates(id) ON DELETE CASCADE,
	stack_id    UUID NOT NULL REFERENCES stacks(id) ON DELETE CASCADE,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (template_id, stack_id)
);

CREATE TABLE IF NOT EXISTS rendered_deployment_objects (
	deployment_object_id UUID PRIMARY KEY REFERENCES deployment_objects(id) ON DELETE CASCADE,
	template_id          UUID NOT NULL REFERENCES stack_templates(id),
	template_version     INTEGER NOT NULL,
	rendered_parameters  JSONB NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS work_orders (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	work_type        TEXT NOT NULL,
	yaml_content     TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	attempt          INTEGER NOT NULL DEFAULT 1,
	max_attempts     INTEGER NOT NULL DEFAULT 5,
	next_attempt_at  TIMESTAMPTZ,
	claimed_by       UUID REFERENCES agents(id),
	claimed_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	result_message   TEXT,
	selector         JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS work_orders_status_idx ON work_orders (status, next_attempt_at);

CREATE TABLE IF NOT EXISTS work_order_targets (
	work_order_id UUID NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
	agent_id      UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	PRIMARY KEY (work_order_id, agent_id)
);

CREATE TABLE IF NOT EXISTS work_order_logs (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	work_order_id UUID NOT NULL REFERENCES work_orders(id),
	final_status  TEXT NOT NULL,
	message       TEXT,
	attempt       INTEGER NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS work_order_logs_wo_idx ON work_order_logs (work_order_id);

CREATE TABLE IF NOT EXISTS deployment_health (
	agent_id             UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	deployment_object_id UUID NOT NULL REFERENCES deployment_objects(id) ON DELETE CASCADE,
	status               TEXT NOT NULL DEFAULT 'unknown',
	summary              TEXT NOT NULL DEFAULT '',
	checked_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, deployment_object_id)
);

CREATE TABLE IF NOT EXISTS diagnostic_requests (
	id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	agent_id             UUID NOT NULL REFERENCES agents(id),
	deployment_object_id UUID NOT NULL REFERENCES deployment_objects(id),
	status               TEXT NOT NULL DEFAULT 'pending',
	expires_at           TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS diagnostic_requests_agent_idx ON diagnostic_requests (agent_id, status);

CREATE TABLE IF NOT EXISTS diagnostic_results (
	request_id  UUID PRIMARY KEY REFERENCES diagnostic_requests(id) ON DELETE CASCADE,
	pod_statuses JSONB NOT NULL DEFAULT '[]',
	events       JSONB NOT NULL DEFAULT '[]',
	log_tail     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name             TEXT NOT NULL,
	url_ciphertext   BYTEA NOT NULL,
	url_nonce        BYTEA NOT NULL,
	auth_ciphertext  BYTEA,
	auth_nonce       BYTEA,
	event_types      TEXT[] NOT NULL,
	filters          JSONB,
	target_labels    JSONB,
	secret           TEXT NOT NULL,
	enabled          BOOLEAN NOT NULL DEFAULT true,
	max_retries      INTEGER NOT NULL DEFAULT 5,
	timeout_seconds  INTEGER NOT NULL DEFAULT 10,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	subscription_id  UUID NOT NULL REFERENCES webhook_subscriptions(id),
	event            JSONB NOT NULL,
	target_labels    JSONB,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempt          INTEGER NOT NULL DEFAULT 0,
	next_attempt_at  TIMESTAMPTZ,
	last_status_code INTEGER,
	last_response    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS webhook_deliveries_status_idx ON webhook_deliveries (status, next_attempt_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	actor_type    TEXT NOT NULL,
	actor_id      TEXT,
	action        TEXT NOT NULL,
	resource_type TEXT,
	resource_id   TEXT,
	metadata      JSONB,
	at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_logs_at_idx ON audit_logs (at DESC);
`

// ensureSchema creates every table/index/sequence if absent and records the
// applied schema version, mirroring the teacher's idempotent
// migration.EnsureVersion startup call.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}

	var current int
	err := s.pool.QueryRow(ctx, `SELECT version FROM _schema_version ORDER BY version DESC LIMIT 1`).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = s.pool.Exec(ctx, `INSERT INTO _schema_version (version) VALUES ($1)`, schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if current < schemaVersion {
		_, err = s.pool.Exec(ctx, `INSERT INTO _schema_version (version) VALUES ($1)`, schemaVersion)
		return err
	}
	return nil
}

// classify maps a pgx/postgres error to a store Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return Conflict(op, err)
		case "23503", "23514": // foreign_key_violation, check_violation
			return Invalid(op, err)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return Transient(op, err)
		}
	}
	return newErr(KindInternal, op, err)
}
