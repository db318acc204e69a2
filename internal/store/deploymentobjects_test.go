package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func mustStack(t *testing.T, st *Store, name string) *Stack {
	t.Helper()
	g := mustGenerator(t, st, name+"-gen")
	stack, err := st.CreateStack(context.Background(), g.ID, name, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	return stack
}

func TestCreateDeploymentObjectAssignsSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	stack := mustStack(t, st, "deployobj-seq")

	var first, second *DeploymentObject
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		first, err = st.CreateDeploymentObject(ctx, tx, stack.ID, "kind: Pod", "sum1", false)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		second, err = st.CreateDeploymentObject(ctx, tx, stack.ID, "kind: Deployment", "sum2", false)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	if second.SequenceID <= first.SequenceID {
		t.Fatalf("expected strictly increasing sequence ids, got %d then %d", first.SequenceID, second.SequenceID)
	}

	objs, err := st.ListDeploymentObjectsForStack(ctx, stack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 || objs[0].SequenceID != first.SequenceID {
		t.Fatalf("expected objects ordered ascending by sequence_id, got %+v", objs)
	}
}

func TestApplicableDeploymentObjectsExcludesAckedSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	stack := mustStack(t, st, "deployobj-ack")
	agent, err := st.CreateAgent(ctx, "agent-deployobj-ack", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	var obj *DeploymentObject
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		obj, err = st.CreateDeploymentObject(ctx, tx, stack.ID, "kind: Pod", "sum", false)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	applicable, err := st.ApplicableDeploymentObjects(ctx, agent.ID, []string{stack.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(applicable) != 1 {
		t.Fatalf("expected 1 applicable object before ack, got %d", len(applicable))
	}

	if err := st.AckDeploymentObject(ctx, obj.ID, agent.ID, true); err != nil {
		t.Fatal(err)
	}

	applicable, err = st.ApplicableDeploymentObjects(ctx, agent.ID, []string{stack.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(applicable) != 0 {
		t.Fatalf("expected 0 applicable objects after successful ack, got %d", len(applicable))
	}
}

func TestApplicableDeploymentObjectsIncludesFailedAck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	stack := mustStack(t, st, "deployobj-failed-ack")
	agent, err := st.CreateAgent(ctx, "agent-deployobj-failed", "cluster-a", "hash")
	if err != nil {
		t.Fatal(err)
	}

	var obj *DeploymentObject
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		obj, err = st.CreateDeploymentObject(ctx, tx, stack.ID, "kind: Pod", "sum", false)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.AckDeploymentObject(ctx, obj.ID, agent.ID, false); err != nil {
		t.Fatal(err)
	}

	applicable, err := st.ApplicableDeploymentObjects(ctx, agent.ID, []string{stack.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(applicable) != 1 {
		t.Fatalf("expected failed ack to leave object applicable for retry, got %d", len(applicable))
	}
}

func TestSoftDeleteDeploymentObject(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	stack := mustStack(t, st, "deployobj-softdelete")

	var obj *DeploymentObject
	if err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		obj, err = st.CreateDeploymentObject(ctx, tx, stack.ID, "kind: Pod", "sum", false)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.SoftDeleteDeploymentObject(ctx, obj.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetDeploymentObject(ctx, obj.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after soft delete, got %v", err)
	}
}
