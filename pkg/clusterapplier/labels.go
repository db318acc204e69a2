package clusterapplier

import (
	"encoding/json"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// StackLabelKey marks every object Brokkr has applied on behalf of a stack,
// used both to scope deletion-marker cleanup and to find prior managed
// objects for a given stack on the cluster.
const StackLabelKey = "brokkr.io/stack-id"

// Annotation keys recording provenance on every applied object, per
// spec.md §4.6 step 5. The YAML checksum is an annotation rather than a
// label: a sha256 hex digest (64 chars) exceeds Kubernetes' 63-character
// label value limit.
const (
	deploymentObjectAnnotation = "brokkr.io/deployment-object-id"
	checksumAnnotation         = "brokkr.io/yaml-checksum"
	lastAppliedAnnotation      = "brokkr.io/last-applied-configuration"
)

// InjectProvenance stamps obj with the stack/deployment-object labels and
// annotations Brokkr uses to track what it owns, and snapshots obj's
// pre-injection state into the last-applied-configuration annotation so a
// future apply can diff against it.
func InjectProvenance(obj *unstructured.Unstructured, stackID, deploymentObjectID, yamlChecksum string) error {
	snapshot, err := json.Marshal(obj.Object)
	if err != nil {
		return err
	}

	labels := obj.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[StackLabelKey] = stackID
	labels[deploymentObjectAnnotation] = deploymentObjectID
	obj.SetLabels(labels)

	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[deploymentObjectAnnotation] = deploymentObjectID
	annotations[checksumAnnotation] = yamlChecksum
	annotations[lastAppliedAnnotation] = string(snapshot)
	obj.SetAnnotations(annotations)
	return nil
}
