package clusterapplier

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newTestObject() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name":      "demo",
			"namespace": "default",
		},
	}}
}

func TestInjectProvenanceSetsLabelsAndAnnotations(t *testing.T) {
	obj := newTestObject()
	if err := InjectProvenance(obj, "stack-1", "do-1", "abc123checksum"); err != nil {
		t.Fatalf("InjectProvenance: %v", err)
	}
	labels := obj.GetLabels()
	if labels[StackLabelKey] != "stack-1" {
		t.Fatalf("expected stack label %q, got %q", "stack-1", labels[StackLabelKey])
	}
	annotations := obj.GetAnnotations()
	if annotations[deploymentObjectAnnotation] != "do-1" {
		t.Fatalf("expected deployment object annotation %q, got %q", "do-1", annotations[deploymentObjectAnnotation])
	}
	if annotations[checksumAnnotation] != "abc123checksum" {
		t.Fatalf("expected checksum annotation %q, got %q", "abc123checksum", annotations[checksumAnnotation])
	}
}

func TestInjectProvenancePreservesExistingLabels(t *testing.T) {
	obj := newTestObject()
	obj.SetLabels(map[string]string{"app": "demo"})
	if err := InjectProvenance(obj, "stack-1", "do-1", "checksum"); err != nil {
		t.Fatalf("InjectProvenance: %v", err)
	}
	labels := obj.GetLabels()
	if labels["app"] != "demo" {
		t.Fatal("expected pre-existing label to survive provenance injection")
	}
	if labels[StackLabelKey] != "stack-1" {
		t.Fatal("expected stack label to be added alongside existing labels")
	}
}
