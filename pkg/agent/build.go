package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"oras.land/oras-go/v2/registry/remote"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/brokkr-io/brokkr/pkg/clusterapplier"
)

// workTypeBuild is the work_type Shipwright image builds are dispatched
// under, per spec.md §4.4's "build" work order kind.
const workTypeBuild = "build"

// buildRunGVK identifies Shipwright's BuildRun CRD, the resource this
// handler watches to completion after applying a build work order's
// manifest.
var buildRunGVK = schema.GroupVersionKind{Group: "shipwright.io", Version: "v1beta1", Kind: "BuildRun"}

// buildWatchTimeout/buildPollInterval bound how long the agent waits for a
// BuildRun to reach a terminal condition before giving up and reporting a
// retryable failure.
const (
	buildWatchTimeout = 15 * time.Minute
	buildPollInterval = 5 * time.Second
)

// handleBuild applies a work order's Build and BuildRun manifests, polls
// the BuildRun to completion, and on success resolves the produced image's
// digest against its registry before reporting it back (spec.md §4.6 step
// 6's Shipwright handler).
func (r *Reconciler) handleBuild(ctx context.Context, wo WorkOrder) (success, retryable bool, message string) {
	docs, err := clusterapplier.SplitDocuments(wo.YAMLContent)
	if err != nil {
		return false, false, fmt.Sprintf("parse build manifest: %v", err)
	}

	var buildRun *unstructured.Unstructured
	for _, doc := range docs {
		if doc.GetKind() == "BuildRun" {
			buildRun = doc
		}
	}
	if buildRun == nil {
		return false, false, "work order manifest contains no BuildRun"
	}

	result := r.applier.Apply(ctx, "", wo.ID, "", wo.YAMLContent)
	if !result.Succeeded {
		return false, true, fmt.Sprintf("apply build manifest: %s", result.Message)
	}

	finalRun, err := r.watchBuildRun(ctx, buildRun.GetNamespace(), buildRun.GetName())
	if err != nil {
		return false, true, fmt.Sprintf("watch build run: %v", err)
	}

	succeeded, condMessage := buildRunCondition(finalRun)
	if !succeeded {
		return false, true, fmt.Sprintf("build run %s/%s did not succeed: %s", buildRun.GetNamespace(), buildRun.GetName(), condMessage)
	}

	image, digest := buildRunOutput(finalRun)
	if image == "" {
		return true, false, "build succeeded with no reported output image"
	}

	resolved, err := resolveDigest(ctx, image)
	if err != nil {
		r.logger.Warn("resolve build image digest failed, reporting Shipwright-reported digest", zap.String("image", image), zap.Error(err))
		return true, false, fmt.Sprintf("image %s built (digest %s, unverified: %v)", image, digest, err)
	}
	if digest != "" && resolved != digest {
		r.logger.Warn("registry digest does not match BuildRun-reported digest",
			zap.String("image", image), zap.String("reported", digest), zap.String("resolved", resolved))
	}
	return true, false, fmt.Sprintf("image %s built, digest %s", image, resolved)
}

// watchBuildRun polls the BuildRun object until it reaches a terminal
// Succeeded condition or buildWatchTimeout elapses. Shipwright's BuildRun
// controller runs asynchronously inside the cluster; the agent's
// obligation per spec.md §4.6 is simply to observe it reach completion,
// not to drive the build itself.
func (r *Reconciler) watchBuildRun(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	deadline := time.Now().Add(buildWatchTimeout)
	for {
		obj := &unstructured.Unstructured{}
		obj.SetGroupVersionKind(buildRunGVK)
		if err := r.applier.Client().Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, obj); err != nil {
			return nil, fmt.Errorf("get build run: %w", err)
		}
		if done, _ := buildRunCondition(obj); done || buildRunFailed(obj) {
			return obj, nil
		}
		if time.Now().After(deadline) {
			return obj, fmt.Errorf("timed out after %s waiting for build run to complete", buildWatchTimeout)
		}
		select {
		case <-ctx.Done():
			return obj, ctx.Err()
		case <-time.After(buildPollInterval):
		}
	}
}

// buildRunCondition reports whether the BuildRun's Succeeded condition is
// True, along with its message.
func buildRunCondition(obj *unstructured.Unstructured) (succeeded bool, message string) {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return false, ""
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok || cond["type"] != "Succeeded" {
			continue
		}
		status, _ := cond["status"].(string)
		msg, _ := cond["message"].(string)
		return status == "True", msg
	}
	return false, ""
}

// buildRunFailed reports whether the BuildRun's Succeeded condition has
// reached the terminal False state.
func buildRunFailed(obj *unstructured.Unstructured) bool {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return false
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok || cond["type"] != "Succeeded" {
			continue
		}
		status, _ := cond["status"].(string)
		return status == "False"
	}
	return false
}

// buildRunOutput extracts the produced image reference and digest from a
// completed BuildRun's status.output field.
func buildRunOutput(obj *unstructured.Unstructured) (image, digest string) {
	output, found, err := unstructured.NestedStringMap(obj.Object, "status", "output")
	if err != nil || !found {
		return "", ""
	}
	return output["image"], output["digest"]
}

// resolveDigest independently resolves ref's manifest digest from its
// registry via ORAS, rather than trusting the BuildRun status alone.
func resolveDigest(ctx context.Context, ref string) (string, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return "", fmt.Errorf("oras: parse reference %q: %w", ref, err)
	}
	desc, err := repo.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("oras: resolve %q: %w", ref, err)
	}
	return desc.Digest.String(), nil
}
