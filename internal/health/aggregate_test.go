package health

import (
	"context"
	"os"
	"testing"

	"github.com/brokkr-io/brokkr/internal/store"
)

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
	return NewManager(st), st
}

func mustStackForHealth(t *testing.T, st *store.Store, name string) *store.Stack {
	t.Helper()
	ctx := context.Background()
	g, err := st.CreateGenerator(ctx, nil, name+"-gen", "hash")
	if err != nil {
		t.Fatal(err)
	}
	s, err := st.CreateStack(ctx, g.ID, name, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStackWorstStatusAcrossDeploymentsAndAgents(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	stack := mustStackForHealth(t, st, "stack-health")

	obj1, err := st.CreateDeploymentObject(ctx, nil, stack.ID, "kind: A\n", "sum1", false)
	if err != nil {
		t.Fatal(err)
	}
	obj2, err := st.CreateDeploymentObject(ctx, nil, stack.ID, "kind: B\n", "sum2", false)
	if err != nil {
		t.Fatal(err)
	}
	agentA, err := st.CreateAgent(ctx, "agent-health-a", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	agentB, err := st.CreateAgent(ctx, "agent-health-b", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Upsert(ctx, agentA.ID, obj1.ID, store.HealthHealthy, "ok"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Upsert(ctx, agentB.ID, obj1.ID, store.HealthDegraded, "slow"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Upsert(ctx, agentA.ID, obj2.ID, store.HealthFailing, "crashlooping"); err != nil {
		t.Fatal(err)
	}

	summary, err := mgr.Stack(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != store.HealthFailing {
		t.Fatalf("expected stack-wide worst status FAILING, got %s", summary.Status)
	}
	if summary.Deployments[obj1.ID].Status != store.HealthDegraded {
		t.Fatalf("expected obj1 worst status DEGRADED, got %s", summary.Deployments[obj1.ID].Status)
	}
	if summary.Deployments[obj2.ID].Status != store.HealthFailing {
		t.Fatalf("expected obj2 worst status FAILING, got %s", summary.Deployments[obj2.ID].Status)
	}
}

func TestClearStackResetsToUnknown(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	stack := mustStackForHealth(t, st, "stack-health-clear")
	obj, err := st.CreateDeploymentObject(ctx, nil, stack.ID, "kind: A\n", "sum1", false)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := st.CreateAgent(ctx, "agent-health-clear", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Upsert(ctx, agent.ID, obj.ID, store.HealthFailing, "down"); err != nil {
		t.Fatal(err)
	}

	if err := mgr.ClearStack(ctx, stack.ID); err != nil {
		t.Fatal(err)
	}
	summary, err := mgr.Stack(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Deployments[obj.ID].Status != store.HealthUnknown {
		t.Fatalf("expected reset status UNKNOWN, got %s", summary.Deployments[obj.ID].Status)
	}
}

func TestDiagnosticLifecycle(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()
	stack := mustStackForHealth(t, st, "stack-health-diag")
	obj, err := st.CreateDeploymentObject(ctx, nil, stack.ID, "kind: A\n", "sum1", false)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := st.CreateAgent(ctx, "agent-health-diag", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	req, err := mgr.RequestDiagnostic(ctx, agent.ID, obj.ID, 0)
	if err != nil {
		t.Fatal(err)
	}

	pending, err := mgr.PendingDiagnostics(ctx, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range pending {
		if p.ID == req.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the new request in PendingDiagnostics")
	}

	if err := mgr.ClaimDiagnostic(ctx, req.ID); err != nil {
		t.Fatal(err)
	}
	if err := mgr.CompleteDiagnostic(ctx, req.ID, true, []byte("[]"), []byte("[]"), "log tail"); err != nil {
		t.Fatal(err)
	}
}
