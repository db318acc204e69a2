// Package workorder implements the work-order lifecycle of spec.md §4.4:
// creation, eligibility resolution, atomic claim, completion, retry backoff,
// and cooperative cancellation. It is grounded on the teacher's
// internal/controlplane/jobs package, adapted from a cron-scheduled
// push-command model (the broker dispatches to online probes over a
// websocket hub) to spec.md's pull model (agents poll for and claim work
// orders over HTTP); the atomic-claim and exponential-backoff machinery
// carries over, the push/dispatch/tracker machinery does not.
package workorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/targeting"
)

// Manager coordinates work-order operations against the store, emitting
// events and audit records alongside each mutation.
type Manager struct {
	store  *store.Store
	events *eventbus.Emitter
	audit  *audit.Logger
	policy Policy
	logger *zap.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithPolicy overrides the default retry backoff policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager builds a Manager backed by st, emitting through events and
// recording admin mutations through auditLog.
func NewManager(st *store.Store, events *eventbus.Emitter, auditLog *audit.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		events: events,
		audit:  auditLog,
		policy: DefaultPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts a new work order and, in the same transaction, records the
// admin audit entry and enqueues workorder.created's webhook deliveries, per
// spec.md §4.1's "create, audit, and emit commit together" discipline. The
// live-stream publish happens only after the transaction actually commits
// (see eventbus.Emitter.PublishCommitted's invariant).
func (m *Manager) Create(ctx context.Context, actorType, actorID, workType, yamlContent string, maxAttempts int, selector *store.Selector, explicitAgentIDs []string) (*store.WorkOrder, error) {
	var wo *store.WorkOrder
	err := m.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		wo, err = m.store.CreateWorkOrder(ctx, tx, workType, yamlContent, maxAttempts, selector, explicitAgentIDs)
		if err != nil {
			return err
		}
		if err := m.audit.Record(ctx, tx, actorType, actorID, audit.ActionWorkOrderCreated, "work_order", wo.ID, map[string]any{
			"work_type": workType, "max_attempts": maxAttempts,
		}); err != nil {
			return err
		}
		evt := eventbus.New(wo.ID, eventbus.TypeWorkOrderCreated, map[string]any{
			"work_order_id": wo.ID, "work_type": workType,
		})
		return m.events.Emit(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	m.events.PublishCommitted(eventbus.New(wo.ID, eventbus.TypeWorkOrderCreated, map[string]any{
		"work_order_id": wo.ID, "work_type": workType,
	}))
	return wo, nil
}

// Eligible returns the work orders agentID may currently claim: those
// explicitly targeted at it, unioned with those whose selector matches its
// labels/annotations, per spec.md §4.4's eligibility rule.
func (m *Manager) Eligible(ctx context.Context, agentID string, agentLabels store.Labels, agentAnn store.Annotations) ([]*store.WorkOrder, error) {
	explicit, err := m.store.EligibleWorkOrdersExplicit(ctx, agentID)
	if err != nil {
		return nil, err
	}
	withSelector, err := m.store.EligibleWorkOrdersWithSelector(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(explicit))
	out := make([]*store.WorkOrder, 0, len(explicit)+len(withSelector))
	for _, wo := range explicit {
		seen[wo.ID] = struct{}{}
		out = append(out, wo)
	}
	for _, wo := range withSelector {
		if _, ok := seen[wo.ID]; ok {
			continue
		}
		if targeting.Matches(wo.Selector, agentLabels, agentAnn) {
			out = append(out, wo)
		}
	}
	return out, nil
}

// Claim performs the atomic PENDING -> CLAIMED transition. A store.Conflict
// error means another agent already claimed it (spec.md §4.4 P4).
func (m *Manager) Claim(ctx context.Context, id, agentID string) (*store.WorkOrder, error) {
	wo, err := m.store.ClaimWorkOrder(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	m.events.PublishCommitted(eventbus.New(wo.ID, eventbus.TypeWorkOrderClaimed, map[string]any{
		"work_order_id": wo.ID, "agent_id": agentID,
	}))
	return wo, nil
}

// CompleteSuccess records a successful completion.
func (m *Manager) CompleteSuccess(ctx context.Context, id, message string) error {
	if err := m.store.CompleteWorkOrderSuccess(ctx, id, message); err != nil {
		return err
	}
	m.events.PublishCommitted(eventbus.New(id, eventbus.TypeWorkOrderSucceeded, map[string]any{
		"work_order_id": id, "message": message,
	}))
	return nil
}

// CompleteFailure applies spec.md §4.4's failure policy: if retryable and
// attempt < max_attempts, schedules a retry with exponential backoff;
// otherwise transitions to FAILED.
func (m *Manager) CompleteFailure(ctx context.Context, id string, retryable bool, message string) error {
	wo, err := m.store.GetWorkOrder(ctx, id)
	if err != nil {
		return err
	}
	if retryable && wo.Attempt < wo.MaxAttempts {
		delay := m.policy.NextDelay(wo.Attempt)
		nextAttemptAt := time.Now().Add(delay)
		if err := m.store.ScheduleWorkOrderRetry(ctx, id, message, nextAttemptAt); err != nil {
			return err
		}
		m.logger.Info("scheduled work order retry",
			zap.String("work_order_id", id),
			zap.Int("attempt", wo.Attempt+1),
			zap.Duration("delay", delay),
		)
		return nil
	}
	if err := m.store.FailWorkOrderTerminal(ctx, id, message); err != nil {
		return err
	}
	m.events.PublishCommitted(eventbus.New(id, eventbus.TypeWorkOrderFailed, map[string]any{
		"work_order_id": id, "message": message,
	}))
	return nil
}

// Cancel performs the cooperative admin-cancel of spec.md §4.4: only
// PENDING/RETRY_PENDING orders are affected, CLAIMED/RUNNING ones run to
// completion.
func (m *Manager) Cancel(ctx context.Context, actorType, actorID, id string) error {
	if err := m.store.CancelWorkOrder(ctx, id); err != nil {
		return err
	}
	if err := m.audit.Record(ctx, nil, actorType, actorID, audit.ActionWorkOrderCancel, "work_order", id, nil); err != nil {
		return err
	}
	m.events.PublishCommitted(eventbus.New(id, eventbus.TypeWorkOrderCancelled, map[string]any{
		"work_order_id": id,
	}))
	return nil
}
