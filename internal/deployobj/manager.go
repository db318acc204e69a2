// Package deployobj implements the deployment-object pipeline of spec.md
// §4.1/§4.3: checksummed, append-only YAML revisions submitted against a
// stack, and the per-agent "applicable objects" query agents poll to learn
// what to apply. Grounded on internal/store/deploymentobjects.go for the
// storage shape and on internal/workorder.Manager for the
// create+audit+emit transactional composition pattern.
package deployobj

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/targeting"
)

// Manager coordinates deployment-object submission and lookup.
type Manager struct {
	store  *store.Store
	events *eventbus.Emitter
	audit  *audit.Logger
	logger *zap.Logger
}

// NewManager builds a Manager backed by st.
func NewManager(st *store.Store, events *eventbus.Emitter, auditLog *audit.Logger, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, events: events, audit: auditLog, logger: logger}
}

// Checksum computes the sha256 hex digest of yamlContent, the value stored
// alongside every deployment object so a later byte-for-byte comparison
// never needs to re-read the full manifest (spec.md §9.1 P2).
func Checksum(yamlContent string) string {
	sum := sha256.Sum256([]byte(yamlContent))
	return hex.EncodeToString(sum[:])
}

// Create submits a new deployment object revision for stackID, recording
// the admin audit entry and enqueueing deployment_object.created's webhook
// deliveries in the same transaction as the insert.
func (m *Manager) Create(ctx context.Context, actorType, actorID, stackID, yamlContent string, isDeletionMarker bool) (*store.DeploymentObject, error) {
	checksum := Checksum(yamlContent)
	var obj *store.DeploymentObject
	err := m.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		obj, err = m.store.CreateDeploymentObject(ctx, tx, stackID, yamlContent, checksum, isDeletionMarker)
		if err != nil {
			return err
		}
		if err := m.audit.Record(ctx, tx, actorType, actorID, audit.ActionDeploymentObjectCreated, "deployment_object", obj.ID, map[string]any{
			"stack_id": stackID, "is_deletion_marker": isDeletionMarker,
		}); err != nil {
			return err
		}
		evt := eventbus.New(obj.ID, eventbus.TypeDeploymentObjectCreated, map[string]any{
			"deployment_object_id": obj.ID, "stack_id": stackID, "sequence_id": obj.SequenceID,
		})
		return m.events.Emit(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	m.events.PublishCommitted(eventbus.New(obj.ID, eventbus.TypeDeploymentObjectCreated, map[string]any{
		"deployment_object_id": obj.ID, "stack_id": stackID, "sequence_id": obj.SequenceID,
	}))
	return obj, nil
}

// Applicable returns the deployment objects agentID should apply: every
// live object in a stack the agent reaches (explicit target or
// selector-matched), not yet successfully acked by this agent, ordered by
// sequence_id (spec.md §4.3's agent-facing poll).
func (m *Manager) Applicable(ctx context.Context, agentID string) ([]*store.DeploymentObject, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	explicitStackIDs, err := m.store.ExplicitTargetStackIDs(ctx, agentID)
	if err != nil {
		return nil, err
	}
	stacks, err := m.store.ListLiveStacks(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(explicitStackIDs))
	stackIDs := make([]string, 0, len(explicitStackIDs)+len(stacks))
	for _, id := range explicitStackIDs {
		if !seen[id] {
			seen[id] = true
			stackIDs = append(stackIDs, id)
		}
	}
	for _, s := range stacks {
		if seen[s.ID] {
			continue
		}
		if targeting.Matches(s.Selector, agent.Labels, agent.Annotations) {
			seen[s.ID] = true
			stackIDs = append(stackIDs, s.ID)
		}
	}
	if len(stackIDs) == 0 {
		return nil, nil
	}
	return m.store.ApplicableDeploymentObjects(ctx, agentID, stackIDs)
}

// Ack records agentID's apply outcome for a deployment object. A success ack
// removes the object from future Applicable results for that agent; a
// failure ack leaves it eligible for retry (spec.md §4.3's no-backoff retry
// model — the object simply reappears on the agent's next poll).
func (m *Manager) Ack(ctx context.Context, deploymentObjectID, agentID string, succeeded bool) error {
	if err := m.store.AckDeploymentObject(ctx, deploymentObjectID, agentID, succeeded); err != nil {
		return err
	}
	typ := eventbus.TypeDeploymentObjectSucceeded
	if !succeeded {
		typ = eventbus.TypeDeploymentObjectFailed
	}
	m.events.PublishCommitted(eventbus.New(deploymentObjectID, typ, map[string]any{
		"deployment_object_id": deploymentObjectID, "agent_id": agentID,
	}))
	return nil
}

// Delete soft-deletes a deployment object, recording the admin audit entry.
func (m *Manager) Delete(ctx context.Context, actorType, actorID, id string) error {
	if err := m.store.SoftDeleteDeploymentObject(ctx, id); err != nil {
		return err
	}
	return m.audit.Record(ctx, nil, actorType, actorID, audit.ActionDeploymentObjectDeleted, "deployment_object", id, nil)
}
