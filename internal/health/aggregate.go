// Package health implements the aggregation and lifecycle-sweeping layer of
// spec.md §4.7, sitting above internal/store's per-(agent, deployment
// object) health rows and diagnostic-request primitives. Grounded on
// internal/controlplane/fleet/store.go's upsert-by-latest-seen pattern for
// the underlying store writes, generalized here to the worst-status
// rollups spec.md's per-deployment and per-stack views require.
package health

import (
	"context"
	"time"

	"github.com/brokkr-io/brokkr/internal/store"
)

// severity ranks health statuses for aggregation, failing worst. unknown
// means "no observation yet" and ranks lowest, below healthy, so any
// observed status supersedes it in a rollup.
var severity = map[string]int{
	store.HealthFailing:  3,
	store.HealthDegraded: 2,
	store.HealthHealthy:  1,
	store.HealthUnknown:  0,
}

func worse(a, b string) string {
	if severity[a] >= severity[b] {
		return a
	}
	return b
}

// DeploymentSummary is the worst-status rollup across every agent that has
// reported health for one deployment object.
type DeploymentSummary struct {
	DeploymentObjectID string
	Status             string
	HealthyCount       int
	DegradedCount      int
	FailingCount       int
	UnknownCount       int
}

// StackSummary is the worst-status rollup across every live deployment
// object of a stack (spec.md §4.7's "worst over deployment objects, live
// only").
type StackSummary struct {
	StackID     string
	Status      string
	Deployments map[string]*DeploymentSummary
}

// Manager computes health aggregations on demand and drives the
// diagnostic-request lifecycle sweeps.
type Manager struct {
	store *store.Store
}

// NewManager builds a Manager backed by st.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// Upsert records an agent's health assessment for a deployment object.
func (m *Manager) Upsert(ctx context.Context, agentID, deploymentObjectID, status, summary string) error {
	return m.store.UpsertDeploymentHealth(ctx, agentID, deploymentObjectID, status, summary)
}

// Deployment returns the single agent-reported health row for (agentID,
// deploymentObjectID), or nil if no agent has reported yet.
func (m *Manager) Deployment(ctx context.Context, agentID, deploymentObjectID string) (*store.DeploymentHealth, error) {
	h, err := m.store.GetDeploymentHealth(ctx, agentID, deploymentObjectID)
	if store.IsNotFound(err) {
		return nil, nil
	}
	return h, err
}

// Stack computes the per-stack worst-status rollup of spec.md §4.7: worst
// status over every live deployment object's worst-status-across-agents.
func (m *Manager) Stack(ctx context.Context, stackID string) (*StackSummary, error) {
	rows, err := m.store.DeploymentHealthForStack(ctx, stackID)
	if err != nil {
		return nil, err
	}
	summary := &StackSummary{
		StackID:     stackID,
		Status:      store.HealthUnknown,
		Deployments: make(map[string]*DeploymentSummary),
	}
	for _, h := range rows {
		d, ok := summary.Deployments[h.DeploymentObjectID]
		if !ok {
			d = &DeploymentSummary{DeploymentObjectID: h.DeploymentObjectID, Status: store.HealthUnknown}
			summary.Deployments[h.DeploymentObjectID] = d
		}
		d.Status = worse(d.Status, h.Status)
		switch h.Status {
		case store.HealthHealthy:
			d.HealthyCount++
		case store.HealthDegraded:
			d.DegradedCount++
		case store.HealthFailing:
			d.FailingCount++
		default:
			d.UnknownCount++
		}
		summary.Status = worse(summary.Status, d.Status)
	}
	return summary, nil
}

// ClearStack resets every health row for a stack's deployment objects to
// unknown, called after a deletion marker drains the stack (spec.md §8
// scenario 3).
func (m *Manager) ClearStack(ctx context.Context, stackID string) error {
	return m.store.ClearHealthForStack(ctx, stackID)
}

// RequestDiagnostic creates a bounded-lifetime diagnostic request for
// (agentID, deploymentObjectID).
func (m *Manager) RequestDiagnostic(ctx context.Context, agentID, deploymentObjectID string, ttl time.Duration) (*store.DiagnosticRequest, error) {
	return m.store.CreateDiagnosticRequest(ctx, agentID, deploymentObjectID, ttl)
}

// PendingDiagnostics returns the unexpired diagnostic requests waiting for
// agentID to drain (spec.md §4.6 step 7).
func (m *Manager) PendingDiagnostics(ctx context.Context, agentID string) ([]*store.DiagnosticRequest, error) {
	return m.store.PendingDiagnosticRequestsForAgent(ctx, agentID)
}

// ClaimDiagnostic performs the atomic pending -> claimed transition; a
// store.Conflict error means another drain already claimed it.
func (m *Manager) ClaimDiagnostic(ctx context.Context, id string) error {
	return m.store.ClaimDiagnosticRequest(ctx, id)
}

// CompleteDiagnostic records an agent's diagnostic result.
func (m *Manager) CompleteDiagnostic(ctx context.Context, id string, success bool, podStatuses, events []byte, logTail string) error {
	return m.store.CompleteDiagnosticRequest(ctx, id, success, podStatuses, events, logTail)
}
