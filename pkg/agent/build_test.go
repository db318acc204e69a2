package agent

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func buildRunWithCondition(status, message string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"type": "Succeeded", "status": status, "message": message},
			},
		},
	}}
}

func TestBuildRunConditionTrue(t *testing.T) {
	obj := buildRunWithCondition("True", "build completed")
	succeeded, message := buildRunCondition(obj)
	if !succeeded {
		t.Fatal("expected succeeded condition to be true")
	}
	if message != "build completed" {
		t.Fatalf("unexpected message: %q", message)
	}
}

func TestBuildRunConditionFalse(t *testing.T) {
	obj := buildRunWithCondition("False", "build failed: exit 1")
	succeeded, _ := buildRunCondition(obj)
	if succeeded {
		t.Fatal("expected succeeded condition to be false")
	}
	if !buildRunFailed(obj) {
		t.Fatal("expected buildRunFailed to report true")
	}
}

func TestBuildRunConditionMissing(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	succeeded, message := buildRunCondition(obj)
	if succeeded {
		t.Fatal("expected no condition to report not succeeded")
	}
	if message != "" {
		t.Fatalf("expected empty message, got %q", message)
	}
	if buildRunFailed(obj) {
		t.Fatal("expected no condition to not report failed")
	}
}

func TestBuildRunOutputExtractsImageAndDigest(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"status": map[string]interface{}{
			"output": map[string]interface{}{
				"image":  "registry.example.com/app:latest",
				"digest": "sha256:abc123",
			},
		},
	}}
	image, digest := buildRunOutput(obj)
	if image != "registry.example.com/app:latest" {
		t.Fatalf("unexpected image: %q", image)
	}
	if digest != "sha256:abc123" {
		t.Fatalf("unexpected digest: %q", digest)
	}
}

func TestBuildRunOutputMissing(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	image, digest := buildRunOutput(obj)
	if image != "" || digest != "" {
		t.Fatalf("expected empty image/digest, got %q/%q", image, digest)
	}
}
