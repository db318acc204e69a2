package clusterapplier

import (
	"context"
	"testing"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newFakeApplier(t *testing.T, objs ...runtime.Object) *Applier {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("add scheme: %v", err)
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(objs...).Build()
	return &Applier{client: c, logger: zap.NewNop()}
}

const configMapManifest = `
apiVersion: v1
kind: ConfigMap
metadata:
  name: demo-config
  namespace: default
data:
  key: value
`

func TestApplyAppliesDocumentAndSetsProvenance(t *testing.T) {
	a := newFakeApplier(t)
	result := a.Apply(context.Background(), "stack-1", "do-1", "checksum", configMapManifest)
	if !result.Succeeded {
		t.Fatalf("expected apply to succeed, got message %q", result.Message)
	}

	cm := &corev1.ConfigMap{}
	err := a.client.Get(context.Background(), client.ObjectKey{Namespace: "default", Name: "demo-config"}, cm)
	if err != nil {
		t.Fatalf("get applied configmap: %v", err)
	}
	if cm.Labels[StackLabelKey] != "stack-1" {
		t.Fatalf("expected applied object to carry stack label, got %v", cm.Labels)
	}
}

func TestApplyRejectsMalformedManifest(t *testing.T) {
	a := newFakeApplier(t)
	result := a.Apply(context.Background(), "stack-1", "do-1", "checksum", "not: [valid")
	if result.Succeeded {
		t.Fatal("expected malformed manifest to fail")
	}
}

func TestApplyNoDocumentsSucceedsTrivially(t *testing.T) {
	a := newFakeApplier(t)
	result := a.Apply(context.Background(), "stack-1", "do-1", "checksum", "")
	if !result.Succeeded {
		t.Fatalf("expected empty manifest to succeed as a no-op, got %q", result.Message)
	}
}

func TestDeleteByStackLabelRemovesMatchingObjects(t *testing.T) {
	existing := &corev1.ConfigMap{}
	existing.Name = "demo-config"
	existing.Namespace = "default"
	existing.Labels = map[string]string{StackLabelKey: "stack-1"}

	a := newFakeApplier(t, existing)
	gvks := []schema.GroupVersionKind{{Group: "", Version: "v1", Kind: "ConfigMap"}}
	deleted, err := a.DeleteByStackLabel(context.Background(), gvks, "stack-1")
	if err != nil {
		t.Fatalf("DeleteByStackLabel: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 object deleted, got %d", deleted)
	}

	cm := &corev1.ConfigMap{}
	if err := a.client.Get(context.Background(), client.ObjectKey{Namespace: "default", Name: "demo-config"}, cm); err == nil {
		t.Fatal("expected object to no longer exist after deletion")
	}
}

func TestDeleteByStackLabelToleratesNoMatches(t *testing.T) {
	a := newFakeApplier(t)
	gvks := []schema.GroupVersionKind{{Group: "", Version: "v1", Kind: "ConfigMap"}}
	deleted, err := a.DeleteByStackLabel(context.Background(), gvks, "stack-with-nothing")
	if err != nil {
		t.Fatalf("DeleteByStackLabel: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 objects deleted, got %d", deleted)
	}
}

