package workorder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/store"
)

// newTestManager connects to BROKKR_TEST_DATABASE_URL, mirroring the store
// package's own newTestStore(t) gating pattern since these are integration
// tests against a real Postgres instance that the unit-test suite must not
// require.
func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dsn := os.Getenv("BROKKR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BROKKR_TEST_DATABASE_URL not set; skipping Postgres-backed test")
	}
	st, err := store.New(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(st.Close)

	stream := eventbus.NewLiveStream(16)
	emitter := eventbus.NewEmitter(st, stream)
	auditLog := audit.NewLogger(st)
	return NewManager(st, emitter, auditLog), st
}

func TestManagerCreateRecordsAuditAndEvent(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	wo, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if wo.Status != store.WorkOrderPending {
		t.Fatalf("expected PENDING, got %s", wo.Status)
	}

	logs, err := st.ListAuditLogs(ctx, store.AuditLogFilter{ResourceID: wo.ID})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, l := range logs {
		if l.Action == audit.ActionWorkOrderCreated {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a workorder.created audit entry, got %+v", logs)
	}
}

func TestManagerEligibleUnionsExplicitAndSelector(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	agent, err := st.CreateAgent(ctx, "agent-mgr-eligible", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetAgentLabels(ctx, agent.ID, store.Labels{"env": {"prod"}}); err != nil {
		t.Fatal(err)
	}

	explicitWO, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, nil, []string{agent.ID})
	if err != nil {
		t.Fatal(err)
	}
	sel := &store.Selector{LabelIn: []store.LabelInPredicate{{Key: "env", Values: []string{"prod"}}}}
	selectorWO, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, sel, nil)
	if err != nil {
		t.Fatal(err)
	}

	eligible, err := mgr.Eligible(ctx, agent.ID, store.Labels{"env": {"prod"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, wo := range eligible {
		seen[wo.ID] = true
	}
	if !seen[explicitWO.ID] || !seen[selectorWO.ID] {
		t.Fatalf("expected both explicit and selector-matched work orders eligible, got %+v", eligible)
	}
}

func TestManagerClaimAndCompleteSuccess(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	agent, err := st.CreateAgent(ctx, "agent-mgr-claim", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	wo, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := mgr.Claim(ctx, wo.ID, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.Status != store.WorkOrderClaimed {
		t.Fatalf("expected CLAIMED, got %s", claimed.Status)
	}

	if err := mgr.CompleteSuccess(ctx, wo.ID, "ok"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetWorkOrder(ctx, wo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.WorkOrderSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", got.Status)
	}
}

func TestManagerCompleteFailureSchedulesRetryThenFails(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	mgr.policy = Policy{InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Second}

	agent, err := st.CreateAgent(ctx, "agent-mgr-fail", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	wo, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Claim(ctx, wo.ID, agent.ID); err != nil {
		t.Fatal(err)
	}

	if err := mgr.CompleteFailure(ctx, wo.ID, true, "transient"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetWorkOrder(ctx, wo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.WorkOrderRetryPending {
		t.Fatalf("expected RETRY_PENDING after first retryable failure, got %s", got.Status)
	}

	if _, err := st.SweepRetryPending(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Claim(ctx, wo.ID, agent.ID); err != nil {
		t.Fatal(err)
	}
	if err := mgr.CompleteFailure(ctx, wo.ID, true, "transient again"); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetWorkOrder(ctx, wo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.WorkOrderFailed {
		t.Fatalf("expected terminal FAILED once attempt reaches max_attempts, got %s", got.Status)
	}
}

func TestManagerCancelOnlyAffectsPendingOrRetryPending(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	agent, err := st.CreateAgent(ctx, "agent-mgr-cancel", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	wo, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Claim(ctx, wo.ID, agent.ID); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Cancel(ctx, audit.ActorAdmin, "admin-1", wo.ID); err == nil {
		t.Fatal("expected cancel of a CLAIMED work order to fail")
	}

	wo2, err := mgr.Create(ctx, audit.ActorAdmin, "admin-1", "restart", "kind: Job", 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Cancel(ctx, audit.ActorAdmin, "admin-1", wo2.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetWorkOrder(ctx, wo2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.WorkOrderCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}
