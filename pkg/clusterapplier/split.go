// Package clusterapplier applies rendered Kubernetes manifests to a target
// cluster on behalf of the agent reconciler (spec.md §4.6 step 5). It is
// built on sigs.k8s.io/controller-runtime's client.Client and
// k8s.io/apimachinery's unstructured.Unstructured rather than generated,
// typed clients, since a deployment object's YAML can name any resource
// kind the cluster's API server understands — grounded on the teacher's
// dependency on client-go/controller-runtime for reconciling arbitrary
// manifests, repurposed here from the teacher's deleted CRD-operator
// scaffolding to Brokkr's "apply whatever YAML the stack carries" model.
package clusterapplier

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// SplitDocuments parses a multi-document YAML string (documents separated
// by "---") into unstructured objects, skipping empty documents. Decoding
// with gopkg.in/yaml.v3 (rather than v2) matters: v3 decodes mappings as
// map[string]interface{}, which unstructured.Unstructured requires all the
// way down; v2's default map[interface{}]interface{} would need a second
// conversion pass.
func SplitDocuments(content string) ([]*unstructured.Unstructured, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	var out []*unstructured.Unstructured
	for {
		var doc map[string]interface{}
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("clusterapplier: decode yaml document: %w", err)
		}
		if len(doc) == 0 {
			continue
		}
		out = append(out, &unstructured.Unstructured{Object: doc})
	}
	return out, nil
}

// firstClassKinds apply before everything else in a batch: objects other
// documents in the same batch may depend on existing already.
var firstClassKinds = map[string]int{
	"Namespace":               0,
	"CustomResourceDefinition": 1,
}

// ReorderFirstClassFirst stable-sorts docs so Namespace and
// CustomResourceDefinition objects land at the front, preserving relative
// order otherwise (spec.md §4.6 step 5).
func ReorderFirstClassFirst(docs []*unstructured.Unstructured) []*unstructured.Unstructured {
	ranked := make([]*unstructured.Unstructured, len(docs))
	copy(ranked, docs)

	rank := func(u *unstructured.Unstructured) int {
		if r, ok := firstClassKinds[u.GetKind()]; ok {
			return r
		}
		return len(firstClassKinds) + 1
	}

	// stable insertion sort: batches are small (a handful of manifests per
	// deployment object), and stability matters more than speed here.
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && rank(ranked[j-1]) > rank(ranked[j]) {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
	return ranked
}
