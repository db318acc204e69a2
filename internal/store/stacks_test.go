package store

import (
	"context"
	"testing"
)

func mustGenerator(t *testing.T, st *Store, name string) *Generator {
	t.Helper()
	g, err := st.CreateGenerator(context.Background(), nil, name, "hash")
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestSetStackLabelsRejectsInvalidLabels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-labels-owner")

	stack, err := st.CreateStack(ctx, g.ID, "stack-labels", "desc", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.SetStackLabels(ctx, stack.ID, Labels{"env": {"has whitespace"}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for a label value with whitespace, got %v", err)
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if err := st.SetStackLabels(ctx, stack.ID, Labels{"env": {string(long)}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for a label value over 64 characters, got %v", err)
	}
	if err := st.SetStackLabels(ctx, stack.ID, Labels{"env": {""}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for an empty label value, got %v", err)
	}
	if err := st.SetStackLabels(ctx, stack.ID, Labels{"bad key": {"prod"}}); !IsInvalid(err) {
		t.Fatalf("expected Invalid for a label key with whitespace, got %v", err)
	}

	if err := st.SetStackLabels(ctx, stack.ID, Labels{"env": {"prod"}}); err != nil {
		t.Fatalf("expected a well-formed label set to succeed, got %v", err)
	}
}

func TestCreateAndGetStack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-owner")

	sel := &Selector{LabelIn: []LabelInPredicate{{Key: "env", Values: []string{"prod"}}}}
	stack, err := st.CreateStack(ctx, g.ID, "stack-1", "desc", sel)
	if err != nil {
		t.Fatal(err)
	}
	if stack.Selector == nil || len(stack.Selector.LabelIn) != 1 {
		t.Fatalf("expected selector to round-trip, got %+v", stack.Selector)
	}

	got, err := st.GetStack(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "stack-1" {
		t.Fatalf("GetStack() name = %s, want stack-1", got.Name)
	}
}

func TestUpdateStackBumpsDescriptionAndSelector(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-owner-update")

	stack, err := st.CreateStack(ctx, g.ID, "stack-update", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	newSel := &Selector{AnnotationEquals: []AnnotationEqualsPredicate{{Key: "team", Value: "sre"}}}
	updated, err := st.UpdateStack(ctx, stack.ID, "updated desc", newSel)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != "updated desc" {
		t.Fatalf("expected updated description, got %s", updated.Description)
	}
	if updated.Selector == nil || len(updated.Selector.AnnotationEquals) != 1 {
		t.Fatalf("expected updated selector to round-trip, got %+v", updated.Selector)
	}
}

func TestSoftDeleteAndPurgeStack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-owner-purge")

	stack, err := st.CreateStack(ctx, g.ID, "stack-purge", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SoftDeleteStack(ctx, stack.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetStack(ctx, stack.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after soft delete, got %v", err)
	}

	got, err := st.GetStackIncludingDeleted(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeletedAt == nil {
		t.Fatal("expected deleted_at to be set")
	}

	if err := st.PurgeStack(ctx, stack.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetStackIncludingDeleted(ctx, stack.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after purge, got %v", err)
	}
}

func TestPurgeStackRejectsLiveStack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-owner-purge-live")

	stack, err := st.CreateStack(ctx, g.ID, "stack-purge-live", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.PurgeStack(ctx, stack.ID); !IsInvalid(err) {
		t.Fatalf("expected Invalid when purging a non-deleted stack, got %v", err)
	}
}

func TestExplicitAgentTargets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := mustGenerator(t, st, "stack-owner-targets")
	stack, err := st.CreateStack(ctx, g.ID, "stack-targets", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := st.CreateAgent(ctx, "agent-target", "cluster-x", "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := st.CreateAgentTarget(ctx, agent.ID, stack.ID); err != nil {
		t.Fatal(err)
	}
	agentIDs, err := st.ExplicitTargetAgentIDs(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(agentIDs) != 1 || agentIDs[0] != agent.ID {
		t.Fatalf("ExplicitTargetAgentIDs() = %v, want [%s]", agentIDs, agent.ID)
	}

	stackIDs, err := st.ExplicitTargetStackIDs(ctx, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stackIDs) != 1 || stackIDs[0] != stack.ID {
		t.Fatalf("ExplicitTargetStackIDs() = %v, want [%s]", stackIDs, stack.ID)
	}

	if err := st.DeleteAgentTarget(ctx, agent.ID, stack.ID); err != nil {
		t.Fatal(err)
	}
	agentIDs, err = st.ExplicitTargetAgentIDs(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(agentIDs) != 0 {
		t.Fatalf("expected no explicit targets after delete, got %v", agentIDs)
	}
}
