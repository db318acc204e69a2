package store

import (
	"context"
	"testing"
	"time"
)

func TestAgentHeartbeatPromotesInactiveToActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-hb", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != AgentInactive {
		t.Fatalf("expected new agent to start INACTIVE, got %s", a.Status)
	}

	if err := st.Heartbeat(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != AgentActive {
		t.Fatalf("expected status ACTIVE after heartbeat, got %s", got.Status)
	}
	if got.LastHeartbeat == nil {
		t.Fatal("expected last_heartbeat to be set")
	}
}

func TestMarkUnreachableOnlyAffectsStaleActiveAgents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-stale", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Heartbeat(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	n, err := st.MarkUnreachable(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Fatalf("expected at least 1 agent marked unreachable, got %d", n)
	}

	got, err := st.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != AgentUnreachable {
		t.Fatalf("expected status UNREACHABLE, got %s", got.Status)
	}
}

func TestSetAgentLabelsReplacesPriorSet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-labels", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {"prod", "staging"}}); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labels["env"]) != 2 {
		t.Fatalf("expected 2 values for env label, got %d", len(got.Labels["env"]))
	}

	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {"prod"}}); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labels["env"]) != 1 {
		t.Fatalf("expected replacement to leave 1 value for env label, got %d", len(got.Labels["env"]))
	}
}

func TestGetAgentByIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-identity", "cluster-b", "hash")
	if err != nil {
		t.Fatal(err)
	}

	got, err := st.GetAgentByIdentity(ctx, "agent-identity", "cluster-b")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Fatalf("GetAgentByIdentity() returned %s, want %s", got.ID, a.ID)
	}

	if _, err := st.GetAgentByIdentity(ctx, "nonexistent", "cluster-b"); !IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown identity, got %v", err)
	}
}

func TestSoftDeleteAgentExcludesFromLiveQueries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-soft-delete", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SoftDeleteAgent(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetAgent(ctx, a.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after soft delete, got %v", err)
	}
	if err := st.SoftDeleteAgent(ctx, a.ID); !IsNotFound(err) {
		t.Fatalf("expected second soft delete to report NotFound, got %v", err)
	}
}

func TestSetAgentLabelsRejectsInvalidLabels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.CreateAgent(ctx, "agent-labels", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {"has whitespace"}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for a label value with whitespace, got %v", err)
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {string(long)}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for a label value over 64 characters, got %v", err)
	}
	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {""}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for an empty label value, got %v", err)
	}

	if err := st.SetAgentLabels(ctx, a.ID, Labels{"env": {"prod"}}); err != nil {
		t.Fatalf("expected a well-formed label set to succeed, got %v", err)
	}
}
